// ============================================================================
// Package validator - Record Validation
// ============================================================================
//
// Package: internal/validator
// Purpose: Pure, stateless conversion of a raw JSON frame payload into a
// typed record.Record or a terminal validation error, per spec.md §4.1.
//
// Validation is hot: decoding uses goccy/go-json, a drop-in encoding/json
// replacement with lower allocation overhead, the way
// tomtom215/cartographus and jordigilh/kubernaut use it in their own
// ingest-adjacent hot paths. Schema checking uses a pre-compiled
// santhosh-tekuri/jsonschema/v5 schema, shared read-only across every
// concurrent Session — the same compile-once/validate-many shape
// axonops-axonops-schema-registry depends on that library for.
// ============================================================================

package validator

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ChuLiYu/logd/internal/record"
)

//go:embed default_schema.json
var embedded embed.FS

// Sentinel errors matching the taxonomy in spec.md §4.1/§7. BadFraming is
// not produced here; it is the caller's (Session's) concern.
var (
	ErrMalformedJSON = errors.New("malformed json")
	ErrBadTimestamp  = errors.New("bad timestamp")
	ErrBadLevel      = errors.New("bad level")
)

// SchemaViolationError reports a JSON Schema validation failure at a
// specific document path.
type SchemaViolationError struct {
	Path   string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation at %s: %s", e.Path, e.Reason)
}

// Schema is an immutable, compiled validator shared across all Sessions.
type Schema struct {
	compiled *jsonschema.Schema
}

// LoadDefault compiles the built-in schema equivalent to spec.md §3's field
// set.
func LoadDefault() (*Schema, error) {
	data, err := embedded.ReadFile("default_schema.json")
	if err != nil {
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}
	return compile(data)
}

// Load compiles a user-supplied JSON Schema document from disk. Loading (or
// compiling) failure is fatal at startup per spec.md §6/§7.
func Load(path string) (*Schema, error) {
	if path == "" {
		return LoadDefault()
	}
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	return &Schema{compiled: schema}, nil
}

func compile(data []byte) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	const resourceName = "default_schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add default schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile default schema: %w", err)
	}
	return &Schema{compiled: schema}, nil
}

// Validator converts raw frame payloads into typed Records against a
// compiled Schema. It is pure and safe to share across concurrent callers
// without synchronization.
type Validator struct {
	schema *Schema
}

// New builds a Validator bound to schema.
func New(schema *Schema) *Validator {
	return &Validator{schema: schema}
}

// Validate implements the validate(bytes) -> Record | ValidationError
// contract of spec.md §4.1.
func (v *Validator) Validate(payload []byte) (record.Record, error) {
	if !utf8.Valid(payload) {
		return record.Record{}, fmt.Errorf("%w: invalid utf-8", ErrMalformedJSON)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	if err := v.schema.compiled.Validate(toGeneric(doc)); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok && len(ve.Causes) > 0 {
			first := ve.Causes[0]
			return record.Record{}, &SchemaViolationError{
				Path:   first.InstanceLocation,
				Reason: first.Message,
			}
		}
		return record.Record{}, &SchemaViolationError{Path: "", Reason: err.Error()}
	}

	return extract(doc)
}

// toGeneric re-exposes a map[string]interface{} as the `interface{}` shape
// jsonschema.Schema.Validate expects.
func toGeneric(doc map[string]interface{}) interface{} {
	return interface{}(doc)
}

func extract(doc map[string]interface{}) (record.Record, error) {
	ts, ok := doc["timestamp"].(string)
	if !ok {
		return record.Record{}, fmt.Errorf("%w: timestamp missing or not a string", ErrBadTimestamp)
	}
	parsed, err := parseTimestamp(ts)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
	}

	lvl, ok := doc["level"].(string)
	if !ok || !record.ValidLevel(lvl) {
		return record.Record{}, fmt.Errorf("%w: %q", ErrBadLevel, lvl)
	}

	message, ok := doc["message"].(string)
	if !ok || message == "" {
		return record.Record{}, &SchemaViolationError{Path: "/message", Reason: "message must be a non-empty string"}
	}

	rec := record.Record{
		Timestamp: parsed,
		Level:     record.Level(lvl),
		Message:   message,
	}
	if s, ok := doc["service"].(string); ok {
		rec.Service = &s
	}
	if t, ok := doc["trace_id"].(string); ok {
		rec.TraceID = &t
	}
	if meta, ok := doc["metadata"]; ok {
		serialized, err := json.Marshal(meta)
		if err == nil {
			s := string(serialized)
			rec.Metadata = &s
		}
	}
	return rec, nil
}

// parseTimestamp accepts ISO-8601/RFC3339 instants with or without
// fractional seconds and with either a Z suffix or a numeric offset,
// normalizing the result to UTC.
func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
