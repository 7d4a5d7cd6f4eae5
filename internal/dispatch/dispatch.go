// Package dispatch classifies completed tool calls from the model and
// executes them: hand-off tools switch the active agent, business tools run
// in-process and feed their result back into the conversation.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/voicelane/voicelane/internal/agentdef"
	"github.com/voicelane/voicelane/internal/observe"
	"github.com/voicelane/voicelane/internal/orchestrate"
	"github.com/voicelane/voicelane/pkg/realtime"
)

// BusinessFunc executes one business tool. The returned map is serialized
// back to the model as the function-call output.
type BusinessFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics wires the observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.met = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithHandoffTools adds tool names to the hand-off classification set beyond
// the ones carried by the registry's hand-off map.
func WithHandoffTools(names ...string) Option {
	return func(d *Dispatcher) {
		for _, n := range names {
			d.handoffSet[n] = struct{}{}
		}
	}
}

// Dispatcher routes completed tool calls. Classification is a static, closed
// set fixed at construction: a name in the hand-off set is a hand-off,
// everything else is a business tool.
type Dispatcher struct {
	reg      *agentdef.Registry
	conn     realtime.Conn
	sb       *orchestrate.Switchboard
	business map[string]BusinessFunc
	log      *slog.Logger
	met      *observe.Metrics

	handoffSet map[string]struct{}
}

// NewDispatcher creates a Dispatcher. The hand-off classification set is
// seeded from the registry's hand-off map; business maps tool names to their
// in-process implementations.
func NewDispatcher(reg *agentdef.Registry, conn realtime.Conn, sb *orchestrate.Switchboard, business map[string]BusinessFunc, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:        reg,
		conn:       conn,
		sb:         sb,
		business:   business,
		log:        slog.Default(),
		handoffSet: make(map[string]struct{}),
	}
	for tool := range reg.AllHandoffTools() {
		d.handoffSet[tool] = struct{}{}
	}
	for _, o := range opts {
		o(d)
	}
	if d.met == nil {
		d.met, _ = observe.NewMetrics(noop.NewMeterProvider())
	}
	return d
}

// HandleToolCall executes one completed tool call and reports whether it
// produced an agent hand-off. Runs on the event loop.
func (d *Dispatcher) HandleToolCall(ctx context.Context, call realtime.ToolCall) bool {
	ctx, span := observe.StartSpan(ctx, "dispatch.tool")
	defer span.End()

	args := d.parseArgs(call)

	if _, isHandoff := d.handoffSet[call.Name]; isHandoff {
		return d.handleHandoff(ctx, call, args)
	}
	d.handleBusiness(ctx, call, args)
	return false
}

// parseArgs decodes the raw argument payload, degrading to an empty set on
// malformed input. Parsing never aborts dispatch.
func (d *Dispatcher) parseArgs(call realtime.ToolCall) map[string]any {
	if call.Arguments == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		d.log.Warn("malformed tool arguments; continuing with empty set",
			"tool", call.Name, "err", err)
		return map[string]any{}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}

// handleHandoff resolves the target agent and switches to it. A hand-off
// tool with no mapped target is logged and dropped outright: no switch, no
// function-call output back to the model.
func (d *Dispatcher) handleHandoff(ctx context.Context, call realtime.ToolCall, args map[string]any) bool {
	target, ok := d.reg.HandoffTarget(call.Name)
	if !ok {
		d.log.Warn("hand-off tool has no mapped target; dropping call",
			"tool", call.Name, "call_id", call.CallID)
		d.met.RecordToolCall(ctx, call.Name, "handoff", "unmapped")
		return false
	}

	// A hand-off tool may carry an implementation that enriches the context;
	// its result overrides the raw arguments field by field.
	merged := args
	if fn, ok := d.business[call.Name]; ok {
		result, err := fn(ctx, args)
		if err != nil {
			d.log.Warn("hand-off tool execution failed; using raw arguments",
				"tool", call.Name, "err", err)
		} else {
			merged = make(map[string]any, len(args)+len(result))
			for k, v := range args {
				merged[k] = v
			}
			for k, v := range result {
				merged[k] = v
			}
		}
	}

	hc := orchestrate.HandoffContext{
		Reason:        stringField(merged, "reason"),
		Details:       stringField(merged, "details"),
		Greeting:      stringField(merged, "greeting"),
		PreviousAgent: d.sb.CurrentAgent(),
	}

	if err := d.sb.SwitchTo(ctx, target, hc); err != nil {
		d.log.Error("agent switch failed; active agent unchanged",
			"tool", call.Name, "target", target, "err", err)
		d.met.RecordToolCall(ctx, call.Name, "handoff", "error")
		return false
	}

	d.met.RecordToolCall(ctx, call.Name, "handoff", "ok")
	return true
}

// handleBusiness executes the tool and always submits a function-call output
// keyed by the originating call identifier, then asks the model to continue
// the turn. A business result is never discarded.
func (d *Dispatcher) handleBusiness(ctx context.Context, call realtime.ToolCall, args map[string]any) {
	var (
		result map[string]any
		status = "ok"
	)

	start := time.Now()
	if fn, ok := d.business[call.Name]; ok {
		out, err := fn(ctx, args)
		if err != nil {
			d.log.Warn("business tool failed", "tool", call.Name, "err", err)
			result = map[string]any{"error": err.Error()}
			status = "error"
		} else {
			result = out
		}
	} else {
		d.log.Warn("unknown business tool", "tool", call.Name)
		result = map[string]any{"error": "unknown tool: " + call.Name}
		status = "unknown"
	}
	d.met.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("tool", call.Name)))

	if result == nil {
		result = map[string]any{}
	}
	if err := d.conn.SubmitToolOutput(ctx, call.CallID, result); err != nil {
		d.log.Error("tool output submission failed",
			"tool", call.Name, "call_id", call.CallID, "err", err)
		d.met.RecordToolCall(ctx, call.Name, "business", "submit_failed")
		return
	}
	if err := d.conn.CreateResponse(ctx, ""); err != nil {
		d.log.Warn("response continuation failed", "tool", call.Name, "err", err)
	}

	d.met.RecordToolCall(ctx, call.Name, "business", status)
}

// stringField extracts a string-valued key, or "".
func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
