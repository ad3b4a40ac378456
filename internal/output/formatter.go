// Package output renders workflow run reports and parsed model responses
// for download.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/soochol/promptflow/internal/promptflow"
)

// ErrUnsupported is returned when a formatter cannot render a value.
var ErrUnsupported = errors.New("output: unsupported value")

// Report is a workflow together with the executions to export.
type Report struct {
	Workflow   *promptflow.Workflow           `json:"workflow"`
	Executions []promptflow.WorkflowExecution `json:"executions"`
}

// Formatter renders a Report, a single execution or a parse result.
type Formatter interface {
	Format(v any) ([]byte, error)
	ContentType() string
	// Extension is the file suffix used for downloads, without the dot.
	Extension() string
}

// NewFormatter resolves a formatter by name: "json" (or empty) and
// "md"/"markdown".
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return JSONFormatter{}, nil
	case "md", "markdown":
		return MarkdownFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// JSONFormatter writes indented JSON.
type JSONFormatter struct{}

func (JSONFormatter) Format(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (JSONFormatter) ContentType() string { return "application/json" }
func (JSONFormatter) Extension() string   { return "json" }
