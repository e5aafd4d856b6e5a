package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// OutputFormat names how reports and journal records are rendered.
type OutputFormat string

const (
	FormatYAML OutputFormat = "yaml"
	FormatJSON OutputFormat = "json"
)

// OutputOptions says where and how Output renders a value.
type OutputOptions struct {
	// Format defaults to JSON when File ends in .json and to YAML otherwise.
	Format OutputFormat

	// File receives the output instead of stdout.
	File string

	// Indent is the JSON indentation, two spaces by default.
	Indent string

	// Writer overrides File.
	Writer io.Writer
}

// Output renders result. The value is encoded before anything is written, so
// an encoding error leaves an existing output file untouched.
func Output(result any, opts OutputOptions) error {
	format := opts.Format
	if format == "" && strings.EqualFold(filepath.Ext(opts.File), ".json") {
		format = FormatJSON
	}
	data, err := encodeOutput(result, format, opts.Indent)
	if err != nil {
		return err
	}
	switch {
	case opts.Writer != nil:
		_, err = opts.Writer.Write(data)
	case opts.File != "":
		if err = os.WriteFile(opts.File, data, 0644); err != nil {
			err = fmt.Errorf("failed to write output file: %w", err)
		}
	default:
		_, err = os.Stdout.Write(data)
	}
	return err
}

func encodeOutput(result any, format OutputFormat, indent string) ([]byte, error) {
	switch format {
	case FormatJSON:
		if indent == "" {
			indent = "  "
		}
		data, err := json.MarshalIndent(result, "", indent)
		if err != nil {
			return nil, fmt.Errorf("failed to format output: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML, "":
		data, err := yaml.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to format output: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unsupported output format: %s", format)
}

// PrintSuccess prints a confirmation line for a command that changed state.
func PrintSuccess(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// PrintVerbose prints to stderr when verbose is set, keeping stdout clean
// for reports.
func PrintVerbose(verbose bool, format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}
