package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
)

// Format is a plan file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the encoding from a file extension; anything that is not
// .json is read as YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes and validates a plan. Unknown fields are rejected.
func Parse(data []byte, format Format) (*Plan, error) {
	var p Plan
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
	}

	if p.Status == "" {
		p.Status = StatusPending
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Marshal encodes a plan.
func Marshal(p *Plan, format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.MarshalIndent(p, "", "  ")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads a Plan from a YAML or JSON file
func Load(fs afero.Fs, path string) (*Plan, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, serr.NewPlanLoadError(path, err)
	}

	p, err := Parse(data, FormatOf(path))
	if err != nil {
		if serr.CodeOf(err) != "" {
			return nil, err
		}
		return nil, serr.NewPlanLoadError(path, err)
	}
	return p, nil
}

// Save writes a Plan to a file, encoded according to its extension
func Save(fs afero.Fs, p *Plan, path string) error {
	data, err := Marshal(p, FormatOf(path))
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o600); err != nil {
		return fmt.Errorf("write plan file: %w", err)
	}
	return nil
}

// LoadEdits reads a list of edit requests, the input to Generate.
func LoadEdits(fs afero.Fs, path string) ([]EditRequest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, serr.NewPlanLoadError(path, err)
	}
	var edits []EditRequest
	if FormatOf(path) == FormatJSON {
		err = json.Unmarshal(data, &edits)
	} else {
		err = yaml.Unmarshal(data, &edits)
	}
	if err != nil {
		return nil, serr.NewPlanLoadError(path, err)
	}
	return edits, nil
}
