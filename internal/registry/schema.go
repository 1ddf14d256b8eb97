package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map // key -> *jsonschema.Schema

func schemaCacheKey(toolName string, schema json.RawMessage) string {
	sum := sha256.Sum256(schema)
	return toolName + ":" + hex.EncodeToString(sum[:])
}

func compileSchema(toolName string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := schemaCacheKey(toolName, schema)
	if v, ok := schemaCache.Load(key); ok {
		return v.(*jsonschema.Schema), nil
	}
	s, err := jsonschema.CompileString(toolName+".json", string(schema))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, s)
	return s, nil
}

func firstLeafValidationError(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	if err == nil {
		return nil
	}
	if len(err.Causes) == 0 {
		return err
	}
	for _, c := range err.Causes {
		if leaf := firstLeafValidationError(c); leaf != nil {
			return leaf
		}
	}
	return err
}

// ValidateArgs checks call arguments against an entry's input schema before
// the handler runs. Schemas are compiled once and cached for the process
// lifetime.
func (r *Registry) ValidateArgs(entry Entry, args map[string]any) error {
	schema := entry.Definition.InputSchema
	if len(schema) == 0 {
		return nil
	}
	s, err := compileSchema(entry.Definition.Name, schema)
	if err != nil {
		return fmt.Errorf("invalid input schema for %s: %w", entry.Definition.Name, err)
	}

	// The validator wants plain decoded JSON values; round-trip normalizes
	// whatever the caller handed us (ints vs float64 and the like).
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding arguments for %s: %w", entry.Definition.Name, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decoding arguments for %s: %w", entry.Definition.Name, err)
	}

	if err := s.Validate(decoded); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			leaf := firstLeafValidationError(ve)
			loc := leaf.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msg := leaf.Message
			if msg == "" {
				msg = leaf.Error()
			}
			return fmt.Errorf("invalid arguments for %s at %s: %s", entry.Definition.Name, loc, msg)
		}
		return fmt.Errorf("invalid arguments for %s: %v", entry.Definition.Name, err)
	}
	return nil
}
