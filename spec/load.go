package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads and parses a Tool System Specification YAML file.
func LoadFromFile(path string) (*ToolSystemSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses a Tool System Specification from YAML bytes.
func LoadFromBytes(data []byte) (*ToolSystemSpec, error) {
	var s ToolSystemSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing spec YAML: %w", err)
	}
	return &s, nil
}
