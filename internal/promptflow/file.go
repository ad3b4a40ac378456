package promptflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadWorkflowFile reads a workflow definition from a .json, .yaml or .yml
// file and validates it.
func LoadWorkflowFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	wf, err := DecodeWorkflow(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// DecodeWorkflow parses a workflow definition. ext selects the format
// (".json" for JSON, anything else YAML).
func DecodeWorkflow(data []byte, ext string) (*Workflow, error) {
	var wf Workflow
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wf); err != nil {
			return nil, fmt.Errorf("decode workflow json: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&wf); err != nil {
			return nil, fmt.Errorf("decode workflow yaml: %w", err)
		}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}
