package bus

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/sylva/internal/wildcard"
	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation is wrapped by every ValidationError.
var ErrSchemaViolation = errors.New("payload violates schema")

// ValidationError lists the schema violations of one message payload.
type ValidationError struct {
	Topic    string
	Pattern  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload for %s violates schema %s: %s", e.Topic, e.Pattern, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrSchemaViolation }

// Schema is a compiled JSON schema for message payloads.
type Schema struct {
	schema *gojsonschema.Schema
}

// CompileSchema compiles a JSON schema document.
func CompileSchema(document string) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// MustCompileSchema is CompileSchema for schemas embedded in code.
func MustCompileSchema(document string) *Schema {
	s, err := CompileSchema(document)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks payload against the schema and returns the violations.
func (s *Schema) Validate(payload Payload) ([]string, error) {
	if payload == nil {
		payload = Payload{}
	}
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(map[string]any(payload)))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}

type schemaEntry struct {
	pattern wildcard.Pattern
	schema  *Schema
}

// SchemaRegistry maps topic patterns to payload schemas. Handlers call
// Validate at their boundary before translating a payload into work.
type SchemaRegistry struct {
	mu      sync.RWMutex
	entries []schemaEntry
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{}
}

// Register compiles document and associates it with pattern. A later
// registration for the same pattern replaces the earlier one.
func (r *SchemaRegistry) Register(pattern, document string) error {
	s, err := CompileSchema(document)
	if err != nil {
		return err
	}
	return r.RegisterSchema(pattern, s)
}

// RegisterSchema associates a compiled schema with pattern.
func (r *SchemaRegistry) RegisterSchema(pattern string, s *Schema) error {
	p, err := wildcard.Parse(pattern)
	if err != nil || pattern == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.pattern.String() == pattern {
			r.entries[i].schema = s
			return nil
		}
	}
	r.entries = append(r.entries, schemaEntry{pattern: p, schema: s})
	return nil
}

// Validate checks msg against every schema whose pattern matches its topic.
// Topics without a schema pass.
func (r *SchemaRegistry) Validate(msg Message) error {
	r.mu.RLock()
	entries := append([]schemaEntry(nil), r.entries...)
	r.mu.RUnlock()

	for _, e := range entries {
		if !e.pattern.Match(msg.Topic()) {
			continue
		}
		problems, err := e.schema.Validate(msg.payload)
		if err != nil {
			return err
		}
		if len(problems) > 0 {
			return &ValidationError{Topic: msg.Topic(), Pattern: e.pattern.String(), Problems: problems}
		}
	}
	return nil
}
