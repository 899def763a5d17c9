package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/arbiter/analyzer"
)

// Format selects the structured dump encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml, or yml in any case
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported format %q: want json or yaml", s)
	}
}

// Dump is the machine-readable form of a run
type Dump struct {
	Summary   analyzer.Summary         `json:"summary" yaml:"summary"`
	Analysis  []analyzer.GroupAnalysis `json:"analysis" yaml:"analysis"`
	Threshold int                      `json:"threshold" yaml:"threshold"`
}

// NewDump builds a dump from an analysis result
func NewDump(result *analyzer.Result) Dump {
	if result == nil {
		return Dump{Analysis: []analyzer.GroupAnalysis{}}
	}

	analysis := result.Groups
	if analysis == nil {
		analysis = []analyzer.GroupAnalysis{}
	}

	return Dump{
		Summary:   result.Summary,
		Analysis:  analysis,
		Threshold: result.Threshold,
	}
}

// WriteStructured encodes the dump as indented JSON or YAML
func WriteStructured(w io.Writer, format Format, dump Dump) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(dump); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(dump); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
