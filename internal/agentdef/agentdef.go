// Package agentdef holds the agent descriptor registry: the static definition
// of every voice agent a call can be handed to, loaded once before a session
// starts and immutable afterwards.
package agentdef

import (
	"context"
	"errors"
	"fmt"

	"github.com/voicelane/voicelane/pkg/realtime"
)

// ErrUnknownAgent is returned when a hand-off targets an agent name that is
// not present in the registry.
var ErrUnknownAgent = errors.New("agentdef: unknown agent")

// Descriptor is the static definition of one voice agent. Descriptors are
// value types; the registry hands out copies, so callers cannot mutate the
// shared definition.
type Descriptor struct {
	// Name is the unique registry key, referenced by hand-off targets.
	Name string `yaml:"name"`

	// Greeting is spoken when the agent first receives the call.
	Greeting string `yaml:"greeting"`

	// ReturnGreeting is spoken instead when the caller has already visited
	// this agent earlier in the same call.
	ReturnGreeting string `yaml:"return_greeting"`

	// Instructions is the system prompt pushed onto the live session when
	// this agent becomes active.
	Instructions string `yaml:"instructions"`

	// Voice selects the synthesised output voice.
	Voice string `yaml:"voice"`

	// Modalities the agent responds with. Empty defaults to text+audio.
	Modalities []string `yaml:"modalities"`

	// VAD overrides the turn-detection thresholds for this agent. Nil keeps
	// the session's current values.
	VAD *realtime.VADConfig `yaml:"vad"`

	// Tools is the full tool set offered while this agent is active. It
	// includes both hand-off tools and business tools.
	Tools []realtime.ToolDefinition `yaml:"tools"`
}

// Apply pushes the descriptor onto the live connection as a session update.
func (d Descriptor) Apply(ctx context.Context, conn realtime.Conn) error {
	modalities := d.Modalities
	if len(modalities) == 0 {
		modalities = []string{"text", "audio"}
	}
	upd := realtime.SessionUpdate{
		Modalities:        modalities,
		Voice:             d.Voice,
		Instructions:      d.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		VAD:               d.VAD,
		Tools:             d.Tools,
		ToolChoice:        "auto",
	}
	if err := conn.UpdateSession(ctx, upd); err != nil {
		return fmt.Errorf("agentdef: apply %q: %w", d.Name, err)
	}
	return nil
}

// Registry is the immutable set of agent descriptors plus the hand-off map
// that routes hand-off tool names to target agents. Safe for concurrent use
// after construction.
type Registry struct {
	agents   map[string]Descriptor
	handoffs map[string]string
	declared map[string]struct{}
}

// NewRegistry builds a Registry from descriptors and a hand-off map keyed by
// tool name. It returns a joined error listing every validation failure.
func NewRegistry(descriptors []Descriptor, handoffs map[string]string) (*Registry, error) {
	var errs []error

	agents := make(map[string]Descriptor, len(descriptors))
	for i, d := range descriptors {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("agents[%d].name is required", i))
			continue
		}
		if _, ok := agents[d.Name]; ok {
			errs = append(errs, fmt.Errorf("agents[%d].name %q is a duplicate", i, d.Name))
			continue
		}
		if d.VAD != nil {
			if d.VAD.Threshold < 0 || d.VAD.Threshold > 1 {
				errs = append(errs, fmt.Errorf("agent %q: vad.threshold %.2f is out of range [0, 1]", d.Name, d.VAD.Threshold))
			}
			if d.VAD.PrefixPaddingMs < 0 {
				errs = append(errs, fmt.Errorf("agent %q: vad.prefix_padding_ms must be non-negative", d.Name))
			}
			if d.VAD.SilenceDurationMs < 0 {
				errs = append(errs, fmt.Errorf("agent %q: vad.silence_duration_ms must be non-negative", d.Name))
			}
		}
		agents[d.Name] = d
	}

	for tool, target := range handoffs {
		if tool == "" {
			errs = append(errs, errors.New("handoffs: empty tool name"))
		}
		if _, ok := agents[target]; !ok {
			errs = append(errs, fmt.Errorf("handoffs[%q]: target agent %q is not defined", tool, target))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("agentdef: %w", err)
	}

	hs := make(map[string]string, len(handoffs))
	for tool, target := range handoffs {
		hs[tool] = target
	}
	declared := make(map[string]struct{})
	for _, d := range agents {
		for _, t := range d.Tools {
			declared[t.Name] = struct{}{}
		}
	}
	return &Registry{agents: agents, handoffs: hs, declared: declared}, nil
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, error) {
	d, ok := r.agents[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return d, nil
}

// Has reports whether an agent named name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.agents) }

// IsHandoffTool reports whether toolName is a registered hand-off tool.
func (r *Registry) IsHandoffTool(toolName string) bool {
	_, ok := r.handoffs[toolName]
	return ok
}

// HandoffTarget returns the agent name a hand-off tool routes to.
func (r *Registry) HandoffTarget(toolName string) (string, bool) {
	target, ok := r.handoffs[toolName]
	return target, ok
}

// AllHandoffTools returns a copy of the hand-off routing map, keyed by tool
// name.
func (r *Registry) AllHandoffTools() map[string]string {
	out := make(map[string]string, len(r.handoffs))
	for tool, target := range r.handoffs {
		out[tool] = target
	}
	return out
}

// DeclaredTool reports whether any agent offers a tool named toolName.
func (r *Registry) DeclaredTool(toolName string) bool {
	_, ok := r.declared[toolName]
	return ok
}
