// Package schema defines the settings schema: the set of known keys, their
// types, constraints and default values. Every value accepted into the
// registry or the store validates against its schema entry.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

// Setting type constants.
const (
	TypeBoolean  = "boolean"
	TypeText     = "text"
	TypeLongText = "longtext"
	TypeNumber   = "number"
	TypeJSON     = "json"
	TypeEnum     = "enum"
)

//go:embed defaults.json
var defaultSchema []byte

// Definition is one schema entry: the persisted record shape plus
// display-only ordering.
type Definition struct {
	store.Record

	// Order positions the setting in UI listings. Display-only.
	Order int `json:"order,omitempty"`
}

// Schema is the immutable set of setting definitions for a deployment.
type Schema struct {
	defs map[string]Definition
}

// Load parses a schema document: a JSON object mapping setting keys to
// definitions. Every default value must validate against its own definition.
func Load(data []byte) (*Schema, error) {
	defs := make(map[string]Definition)
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	s := &Schema{defs: defs}
	for key, def := range defs {
		if !validType(def.Type) {
			return nil, fmt.Errorf("schema key %q: invalid type %q", key, def.Type)
		}
		value, err := Coerce(key, def.Record, def.Value)
		if err != nil {
			return nil, fmt.Errorf("schema key %q: default value invalid: %w", key, err)
		}
		def.Value = value
		s.defs[key] = def
	}
	return s, nil
}

// Default returns the schema embedded in the binary.
func Default() (*Schema, error) {
	return Load(defaultSchema)
}

func validType(t string) bool {
	switch t {
	case TypeBoolean, TypeText, TypeLongText, TypeNumber, TypeJSON, TypeEnum:
		return true
	default:
		return false
	}
}

// Keys returns all setting keys in sorted order.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.defs))
	for k := range s.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is defined.
func (s *Schema) Has(key string) bool {
	_, ok := s.defs[key]
	return ok
}

// Get returns the definition for key.
func (s *Schema) Get(key string) (Definition, bool) {
	def, ok := s.defs[key]
	return def, ok
}

// Defaults returns a fresh copy of all default records, keyed by setting key.
func (s *Schema) Defaults() map[string]store.Record {
	out := make(map[string]store.Record, len(s.defs))
	for k, def := range s.defs {
		out[k] = def.Record
	}
	return out
}

// Len returns the number of defined settings.
func (s *Schema) Len() int {
	return len(s.defs)
}
