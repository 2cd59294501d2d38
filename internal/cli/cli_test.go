package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "logd", cmd.Use, "Root command should be 'logd'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	commands := cmd.Commands()
	assert.Len(t, commands, 3, "Should have 3 subcommands")

	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Name()] = true
	}

	assert.True(t, commandNames["run"], "Should have 'run' command")
	assert.True(t, commandNames["send"], "Should have 'send' command")
	assert.True(t, commandNames["status"], "Should have 'status' command")

	configFlag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "", configFlag.DefValue, "Default config path should be empty (defaults applied)")
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.NotNil(t, cmd)
	assert.Equal(t, "run", cmd.Use)
	assert.Contains(t, cmd.Short, "Start")
	assert.NotNil(t, cmd.RunE)
}

func TestBuildSendCommand(t *testing.T) {
	cmd := buildSendCommand()

	assert.NotNil(t, cmd)
	assert.Equal(t, "send", cmd.Use)

	fileFlag := cmd.Flags().Lookup("file")
	assert.NotNil(t, fileFlag, "Should have --file flag")
	assert.Equal(t, "f", fileFlag.Shorthand, "Should have -f shorthand")

	socketFlag := cmd.Flags().Lookup("socket")
	assert.NotNil(t, socketFlag, "Should have --socket flag")

	assert.NotNil(t, cmd.RunE)
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.NotNil(t, cmd)
	assert.Equal(t, "status", cmd.Use)
	assert.Contains(t, cmd.Short, "status")
	assert.NotNil(t, cmd.RunE)
}

func TestHTTPAddrNormalizesBindAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:9090", httpAddr(":9090"))
	assert.Equal(t, "example.com:9090", httpAddr("example.com:9090"))
}

func TestSendRecords_ConnectionRefused(t *testing.T) {
	configFile = ""
	err := sendRecords("", "/nonexistent/path/to/logd.sock")
	assert.Error(t, err, "sendRecords should fail to dial a nonexistent socket")
}

func TestShowStatus_UnreachableEndpoint(t *testing.T) {
	configFile = ""
	err := showStatus("127.0.0.1:1")
	assert.Error(t, err, "showStatus should fail when the metrics endpoint is unreachable")
}
