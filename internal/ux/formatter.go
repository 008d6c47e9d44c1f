// Package ux holds the command-line presentation helpers: output
// formatters, error suggestions and workspace discovery.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
)

// Formatter writes command results in one output format.
type Formatter interface {
	Format(data any) error
}

// TextWriter is implemented by results with a human-readable rendering.
type TextWriter interface {
	WriteText(w io.Writer) error
}

// FormatterOptions contains configuration for formatters
type FormatterOptions struct {
	// Writer defaults to os.Stdout.
	Writer io.Writer
	// Compact disables indentation for JSON and YAML.
	Compact bool
}

// Formats lists the accepted --format values.
var Formats = []string{"text", "json", "yaml"}

// NewFormatter creates a formatter based on the format string
func NewFormatter(format string, opts FormatterOptions) (Formatter, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}

	switch format {
	case "json":
		return &JSONFormatter{opts: opts}, nil
	case "yaml":
		return &YAMLFormatter{opts: opts}, nil
	case "text", "":
		return &TextFormatter{opts: opts}, nil
	default:
		return nil, serr.NewInvalidArgumentError(fmt.Sprintf("unknown format %q (supported: text, json, yaml)", format))
	}
}

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	opts FormatterOptions
}

// Format writes data as JSON
func (f *JSONFormatter) Format(data any) error {
	enc := json.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

// YAMLFormatter formats output as YAML
type YAMLFormatter struct {
	opts FormatterOptions
}

// Format writes data as YAML
func (f *YAMLFormatter) Format(data any) error {
	enc := yaml.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		enc.SetIndent(2)
	}
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// TextFormatter formats output as human-readable text. Data must be a
// TextWriter, a fmt.Stringer or a string.
type TextFormatter struct {
	opts FormatterOptions
}

// Format writes data as text
func (f *TextFormatter) Format(data any) error {
	switch v := data.(type) {
	case TextWriter:
		return v.WriteText(f.opts.Writer)
	case fmt.Stringer:
		_, err := fmt.Fprintln(f.opts.Writer, v.String())
		return err
	case string:
		_, err := fmt.Fprintln(f.opts.Writer, v)
		return err
	default:
		return fmt.Errorf("no text rendering for %T; use --format json or yaml", data)
	}
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
	_ Formatter = (*TextFormatter)(nil)
)
