// Package loader reads state machine definitions from YAML or JSON files.
//
// In YAML a state's configuration sits next to its name and type:
//
//	id: deploy
//	initial: Build
//	states:
//	  - name: Build
//	    type: TASK
//	    task: build
//	transitions:
//	  - {from: Build, to: Ship, type: SUCCESS}
//
// JSON documents carry it under a "config" key instead.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/orchestra/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Format identifies a definition encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf guesses the format from a file name. Unknown extensions are YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes a state machine definition. Its states are not built.
func Parse(data []byte, format Format) (*domain.StateMachine, error) {
	var sm domain.StateMachine
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&sm); err != nil {
			return nil, fmt.Errorf("failed to parse state machine: %w", err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&sm); err != nil {
			return nil, fmt.Errorf("failed to parse state machine: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown definition format %q", format)
	}

	if sm.ID == "" {
		return nil, fmt.Errorf("%w: state machine missing id", domain.ErrInvalidRequest)
	}
	if sm.Name == "" {
		sm.Name = sm.ID
	}
	for i, def := range sm.Definitions {
		if def.Config == nil {
			sm.Definitions[i].Config = map[string]any{}
		}
	}
	return &sm, nil
}

// Load reads and parses the definition at path.
func Load(path string) (*domain.StateMachine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	sm, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sm, nil
}

// Marshal encodes the persisted fields of sm.
func Marshal(sm *domain.StateMachine, format Format) ([]byte, error) {
	def := sm.Definition()
	if format == FormatJSON {
		return json.MarshalIndent(def, "", "  ")
	}
	return yaml.Marshal(def)
}
