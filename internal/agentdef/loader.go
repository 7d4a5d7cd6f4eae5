package agentdef

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a voicelane agent registry YAML file.
//
// Example:
//
//	agents:
//	  - name: reception
//	    greeting: "Thanks for calling, how can I help?"
//	    instructions: "You are the front-desk agent..."
//	    voice: alloy
//	    tools:
//	      - name: transfer_to_billing
//	        description: "Hand the call to the billing specialist."
//	handoffs:
//	  transfer_to_billing: billing
type File struct {
	Agents   []Descriptor      `yaml:"agents"`
	Handoffs map[string]string `yaml:"handoffs"`
}

// LoadFile reads and parses an agent registry YAML file from disk and
// returns the validated [Registry].
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agentdef: open registry file %q: %w", path, err)
	}
	defer f.Close()

	reg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("agentdef: parse registry file %q: %w", path, err)
	}
	return reg, nil
}

// LoadFromReader parses agent registry YAML from an [io.Reader] and returns
// the validated [Registry]. The reader is consumed entirely; the caller is
// responsible for closing it.
func LoadFromReader(r io.Reader) (*Registry, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("agentdef: decode registry yaml: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agentdef: registry defines no agents")
	}
	return NewRegistry(file.Agents, file.Handoffs)
}
