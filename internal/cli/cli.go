// ============================================================================
// logd CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree wiring the ingest pipeline together: config
// load, logger construction, metrics collector and HTTP server, schema
// load, storage Writer, bounded queue, and the ingest Supervisor.
//
// Command Structure:
//   logd                           # Root command
//   ├── run                        # Start the ingestion daemon
//   │   └── --config, -c          # Specify config file
//   ├── send                       # Stream framed records to a running daemon
//   │   └── --file, -f            # Specify record file (one JSON doc per line)
//   │   └── --socket              # Override socket_path
//   ├── status                     # Fetch the current metrics snapshot
//   │   └── --metrics-addr        # Override metrics_addr
//   └── --help                    # Display help information
//
// run Command:
//   Starts the full pipeline:
//   1. Load config file
//   2. Build logger at the configured level
//   3. Load the JSON Schema (custom or embedded default)
//   4. Construct the bounded queue, metrics collector, and storage Writer
//   5. Start the metrics HTTP server (background)
//   6. Start the ingest Supervisor (accept loop)
//   7. Listen for SIGINT/SIGTERM (graceful shutdown) and SIGUSR1 (metrics dump)
//
// send Command:
//   Dials socket_path and streams one frame per line of the input file (or
//   stdin), printing the server's OK/ERROR reply for each.
//
// status Command:
//   Fetches /metrics from the running daemon's metrics_addr and prints a
//   human-readable snapshot.
//
// Signal Handling:
//   run command captures the following signals:
//   - SIGINT / SIGTERM: graceful shutdown (see supervisor state machine)
//   - SIGUSR1: dump the current metrics snapshot to the log, pipeline state
//     unaffected
//
// Error Handling:
//   - Config load failure, schema load failure, storage dir unwritable, and
//     endpoint bind failure are fatal at startup (non-zero exit).
//   - Disk-full during operation escalates to shutdown (non-zero exit).
// ============================================================================

package cli

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/logd/internal/config"
	"github.com/ChuLiYu/logd/internal/ingest"
	"github.com/ChuLiYu/logd/internal/logging"
	"github.com/ChuLiYu/logd/internal/metrics"
	"github.com/ChuLiYu/logd/internal/queue"
	"github.com/ChuLiYu/logd/internal/record"
	"github.com/ChuLiYu/logd/internal/storage"
	"github.com/ChuLiYu/logd/internal/validator"
)

var configFile string

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "logd",
		Short: "logd: a single-node structured-log ingestion daemon",
		Long: `logd accepts length-prefixed JSON log records over a local stream
socket, validates them against a JSON Schema, batches them, and persists
them as compressed columnar files for later analytical reads.`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (defaults applied if empty)")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSendCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the logd ingestion daemon",
		Long:  "Load configuration, bind the ingest endpoint, and run until a termination signal is received",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configFile)
		},
	}
	return cmd
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logging.New(cfg.LogLevel, os.Stderr)
	log.Info().Str("socket", cfg.SocketPath).Str("storage_dir", cfg.StorageDir).Msg("starting logd")

	schema, err := validator.Load(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	v := validator.New(schema)

	m := metrics.NewCollector()
	q := queue.NewBounded[record.Record](cfg.QueueCapacity)

	writer, err := storage.NewWriter(cfg, q, m, log)
	if err != nil {
		return fmt.Errorf("failed to start storage writer: %w", err)
	}

	sv := ingest.NewSupervisor(cfg.SocketPath, cfg.MaxConnections, cfg.MaxFrameBytes, cfg.ShutdownGrace, v, q, m, log)

	ctx, cancel := context.WithCancel(context.Background())

	writerErrCh := make(chan error, 1)
	go func() { writerErrCh <- writer.Run(ctx) }()

	metricsErrCh := make(chan error, 1)
	go func() { metricsErrCh <- metrics.StartServer(ctx, cfg.MetricsAddr) }()

	supervisorErrCh := make(chan error, 1)
	go func() { supervisorErrCh <- sv.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	var fatalErr error
	var writerDone, supervisorDone bool

waitLoop:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				logSnapshot(log, m)
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			break waitLoop
		case err := <-writerErrCh:
			writerDone = true
			if err != nil {
				log.Error().Err(err).Msg("storage writer exited with fatal error")
				fatalErr = err
			}
			break waitLoop
		case err := <-supervisorErrCh:
			supervisorDone = true
			if err != nil {
				log.Error().Err(err).Msg("supervisor exited with error")
				fatalErr = err
			}
			break waitLoop
		}
	}

	signal.Stop(sigCh)
	cancel()

	grace := cfg.ShutdownGrace + 5*time.Second
	if !writerDone {
		if err := waitFor(writerErrCh, grace); err != nil {
			log.Error().Err(err).Msg("storage writer did not report clean shutdown")
			if fatalErr == nil {
				fatalErr = err
			}
		}
	}
	if !supervisorDone {
		if err := waitFor(supervisorErrCh, grace); err != nil {
			log.Error().Err(err).Msg("supervisor did not report clean shutdown")
			if fatalErr == nil {
				fatalErr = err
			}
		}
	}
	<-metricsErrCh

	log.Info().Msg("logd stopped")
	return fatalErr
}

// waitFor receives from ch, timing out after d has elapsed.
func waitFor(ch chan error, d time.Duration) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(d):
		return fmt.Errorf("timed out waiting for shutdown")
	}
}

// logSnapshot dumps the current metrics snapshot to the log, per spec.md
// §4.5's diagnostic-signal contract: it does not alter pipeline state.
func logSnapshot(log zerolog.Logger, m *metrics.Collector) {
	snap := m.Snapshot()
	log.Info().
		Float64("ingest_count", snap.IngestCount).
		Float64("bytes_processed", snap.BytesProcessed).
		Float64("validation_rejected", snap.ValidationRejected).
		Float64("dropped_queue_full", snap.DroppedQueueFull).
		Float64("dropped_serialization", snap.DroppedSerialization).
		Float64("dropped_write_failure", snap.DroppedWriteFailure).
		Float64("active_connections", snap.ActiveConnections).
		Float64("connections_rejected", snap.ConnectionsRejected).
		Msg("metrics snapshot")
}

func buildSendCommand() *cobra.Command {
	var file string
	var socketPath string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Stream framed records to a running logd daemon",
		Long:  "Read one JSON document per line from a file (or stdin) and send each as a framed record, printing the server's reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendRecords(file, socketPath)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file containing one JSON record per line (default: stdin)")
	cmd.Flags().StringVar(&socketPath, "socket", "", "override socket_path from config")

	return cmd
}

func sendRecords(file, socketOverride string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	socketPath := cfg.SocketPath
	if socketOverride != "" {
		socketPath = socketOverride
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	var in io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("failed to open record file: %w", err)
		}
		defer f.Close()
		in = f
	}

	reply := bufio.NewReader(conn)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), cfg.MaxFrameBytes)

	sent := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := sendFrame(conn, line); err != nil {
			return fmt.Errorf("failed to send record %d: %w", sent+1, err)
		}
		line, err := reply.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read reply for record %d: %w", sent+1, err)
		}
		fmt.Print(line)
		sent++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	fmt.Printf("sent %d records\n", sent)
	return nil
}

func sendFrame(conn net.Conn, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

func buildStatusCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's status (metrics snapshot)",
		Long:  "Fetch /metrics from the running daemon and print a human-readable summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "override metrics_addr from config")
	return cmd
}

func showStatus(metricsAddrOverride string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := cfg.MetricsAddr
	if metricsAddrOverride != "" {
		addr = metricsAddrOverride
	}

	url := fmt.Sprintf("http://%s/metrics", httpAddr(addr))
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach metrics endpoint %s: %w", url, err)
	}
	defer resp.Body.Close()

	fmt.Println("logd status")
	fmt.Println("===========")
	fmt.Printf("socket_path:  %s\n", cfg.SocketPath)
	fmt.Printf("storage_dir:  %s\n", cfg.StorageDir)
	fmt.Printf("metrics_addr: %s\n", addr)
	fmt.Println()

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return fmt.Errorf("failed to read metrics response: %w", err)
	}
	return nil
}

// httpAddr normalizes a bind address like ":9090" into a dialable host:port
// for the local loopback.
func httpAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}
