package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"wasm-arena/internal/domain"
)

// metadataSchema types the optional fields of a metadata record. Unknown
// fields are allowed so newer authoring tools keep working.
const metadataSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name":        {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "gameType":    {"type": "string"},
    "minPlayers":  {"type": "integer", "minimum": 1},
    "maxPlayers":  {"type": "integer", "minimum": 1},
    "tags":        {"type": "array", "items": {"type": "string"}},
    "difficulty":  {"enum": ["easy", "medium", "hard", "expert"]},
    "author":      {"type": "string"},
    "version":     {"type": "string"},
    "playerLabels": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 2,
      "maxItems": 2
    },
    "aiPrompts": {
      "type": "object",
      "properties": {
        "systemPrompt":     {"type": "string"},
        "rulesPrompt":      {"type": "string"},
        "moveFormatPrompt": {"type": "string"},
        "strategicHints":   {"type": "array", "items": {"type": "string"}},
        "moveExamples":     {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func metadataValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("metadata.json", strings.NewReader(metadataSchema)); err != nil {
			schemaErr = fmt.Errorf("add metadata schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("metadata.json")
	})
	return compiledSchema, schemaErr
}

// ParseMetadataJSON decodes a raw metadata record, reporting every schema
// violation individually.
func ParseMetadataJSON(raw []byte) (domain.GameMetadata, error) {
	var meta domain.GameMetadata
	verr := &domain.ValidationError{}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		verr.Add("metadata is not valid JSON: %v", err)
		return meta, verr
	}

	schema, err := metadataValidator()
	if err != nil {
		return meta, err
	}
	if err := schema.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return meta, fmt.Errorf("validate metadata: %w", err)
		}
		for _, leaf := range schemaLeaves(ve) {
			loc := leaf.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			verr.Add("metadata %s: %s", loc, leaf.Message)
		}
		return meta, verr
	}

	if err := json.Unmarshal(raw, &meta); err != nil {
		verr.Add("metadata: %v", err)
		return meta, verr
	}
	return meta, nil
}

func schemaLeaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, schemaLeaves(c)...)
	}
	return out
}

// checkMetadata applies the rules the typed record can still break.
func checkMetadata(meta domain.GameMetadata, verr *domain.ValidationError) {
	if strings.TrimSpace(meta.Name) == "" {
		verr.Add("metadata: name is required")
	}
	if meta.Difficulty != "" && !slices.Contains(domain.Difficulties, meta.Difficulty) {
		verr.Add("metadata: difficulty %q is not one of %s", meta.Difficulty, strings.Join(domain.Difficulties, ", "))
	}
	if meta.MinPlayers < 0 || meta.MaxPlayers < 0 {
		verr.Add("metadata: player bounds must not be negative")
	}
	if meta.MinPlayers > 0 && meta.MaxPlayers > 0 && meta.MinPlayers > meta.MaxPlayers {
		verr.Add("metadata: minPlayers %d exceeds maxPlayers %d", meta.MinPlayers, meta.MaxPlayers)
	}
	for i, tag := range meta.Tags {
		if strings.TrimSpace(tag) == "" {
			verr.Add("metadata: tag %d is empty", i)
		}
	}
	if n := len(meta.PlayerLabels); n != 0 {
		if n != 2 {
			verr.Add("metadata: playerLabels needs exactly 2 entries, got %d", n)
		} else if strings.TrimSpace(meta.PlayerLabels[0]) == "" || strings.TrimSpace(meta.PlayerLabels[1]) == "" ||
			meta.PlayerLabels[0] == meta.PlayerLabels[1] {
			verr.Add("metadata: playerLabels must be two distinct non-empty strings")
		}
	}
}

// ReadMetadataFile loads metadata from a .json, .yaml or .yml file. JSON
// goes through the schema check; YAML is decoded with snake_case keys.
func ReadMetadataFile(path string) (domain.GameMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.GameMetadata{}, fmt.Errorf("read metadata %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var meta domain.GameMetadata
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&meta); err != nil {
			verr := &domain.ValidationError{}
			verr.Add("metadata %s: %v", filepath.Base(path), err)
			return meta, verr
		}
		return meta, nil
	default:
		return ParseMetadataJSON(data)
	}
}
