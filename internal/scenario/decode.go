package scenario

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatDOT  Format = "dot"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat accepts format names and common file extensions.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "dot", "gv":
		return FormatDOT, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported scenario format %q", s)
}

//go:embed scenario.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func jsonSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("scenario.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// Decode reads a scenario in the given format and validates its structure.
func Decode(format Format, data []byte) (*ReactionScenario, error) {
	switch format {
	case FormatDOT:
		return NewCompiler().Compile(string(data))
	case FormatYAML:
		return DecodeYAML(data)
	case FormatJSON:
		return DecodeJSON(data)
	}
	return nil, fmt.Errorf("unsupported scenario format %q", format)
}

func DecodeYAML(data []byte) (*ReactionScenario, error) {
	var s ReactionScenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode YAML scenario: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodeJSON checks the document against the scenario JSON Schema before
// unmarshalling it.
func DecodeJSON(data []byte) (*ReactionScenario, error) {
	sch, err := jsonSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile scenario schema: %w", err)
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON scenario: %w", err)
	}
	if err := sch.Validate(raw); err != nil {
		return nil, fmt.Errorf("scenario does not match schema: %w", err)
	}

	var s ReactionScenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode JSON scenario: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Hash identifies a scenario source independently of how it is later used.
func Hash(format Format, data []byte) string {
	h := blake3.New()
	_, _ = h.WriteString(string(format))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
