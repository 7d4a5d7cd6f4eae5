package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/voicelane/voicelane/internal/agentdef"
	"github.com/voicelane/voicelane/internal/dispatch"
	"github.com/voicelane/voicelane/internal/orchestrate"
	"github.com/voicelane/voicelane/pkg/realtime"
	rtmock "github.com/voicelane/voicelane/pkg/realtime/mock"
)

func testRegistry(t *testing.T) *agentdef.Registry {
	t.Helper()
	reg, err := agentdef.NewRegistry([]agentdef.Descriptor{
		{Name: "reception", Greeting: "Front desk here."},
		{Name: "billing", Greeting: "Billing speaking."},
	}, map[string]string{
		"transfer_to_billing": "billing",
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

type fixture struct {
	d    *dispatch.Dispatcher
	sb   *orchestrate.Switchboard
	conn *rtmock.Conn
}

func newFixture(t *testing.T, business map[string]dispatch.BusinessFunc, opts ...dispatch.Option) *fixture {
	t.Helper()
	reg := testRegistry(t)
	conn := rtmock.NewConn()
	sb := orchestrate.NewSwitchboard(reg, conn)
	d := dispatch.NewDispatcher(reg, conn, sb, business, opts...)
	return &fixture{d: d, sb: sb, conn: conn}
}

func TestHandleToolCall_HandoffSwitchesAgent(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	call := realtime.ToolCall{
		CallID:    "call-1",
		Name:      "transfer_to_billing",
		Arguments: `{"reason":"invoice question","details":"order 4411"}`,
	}
	if !fx.d.HandleToolCall(context.Background(), call) {
		t.Fatal("hand-off call should report true")
	}
	if fx.sb.CurrentAgent() != "billing" {
		t.Errorf("CurrentAgent = %q; want billing", fx.sb.CurrentAgent())
	}
	// The hand-off produced an agent switch, not a function-call output.
	if got := len(fx.conn.ToolOutputs()); got != 0 {
		t.Errorf("tool outputs = %d; want 0 for hand-off", got)
	}
}

func TestHandleToolCall_UnmappedHandoffIsDropped(t *testing.T) {
	t.Parallel()
	// transfer_to_sales is classified as hand-off but carries no mapping.
	fx := newFixture(t, nil, dispatch.WithHandoffTools("transfer_to_sales"))
	ctx := context.Background()

	if err := fx.sb.SwitchTo(ctx, "reception", orchestrate.HandoffContext{}); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	before := len(fx.conn.Updates())

	call := realtime.ToolCall{CallID: "call-2", Name: "transfer_to_sales", Arguments: `{}`}
	if fx.d.HandleToolCall(ctx, call) {
		t.Fatal("unmapped hand-off should report false")
	}
	if fx.sb.CurrentAgent() != "reception" {
		t.Errorf("CurrentAgent = %q; want reception unchanged", fx.sb.CurrentAgent())
	}
	if got := len(fx.conn.ToolOutputs()); got != 0 {
		t.Errorf("tool outputs = %d; want 0 (call dropped outright)", got)
	}
	if got := len(fx.conn.Updates()); got != before {
		t.Errorf("UpdateSession calls = %d; want %d (no partial apply)", got, before)
	}
}

func TestHandleToolCall_BusinessSubmitsOutputAndContinues(t *testing.T) {
	t.Parallel()
	business := map[string]dispatch.BusinessFunc{
		"lookup_invoice": func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"status": "paid", "invoice": args["invoice"]}, nil
		},
	}
	fx := newFixture(t, business)

	call := realtime.ToolCall{
		CallID:    "call-3",
		Name:      "lookup_invoice",
		Arguments: `{"invoice":"INV-9"}`,
	}
	if fx.d.HandleToolCall(context.Background(), call) {
		t.Fatal("business call should report false")
	}

	outputs := fx.conn.ToolOutputs()
	if len(outputs) != 1 {
		t.Fatalf("tool outputs = %d; want 1", len(outputs))
	}
	if outputs[0].CallID != "call-3" {
		t.Errorf("output call_id = %q; want call-3", outputs[0].CallID)
	}
	if outputs[0].Payload["status"] != "paid" {
		t.Errorf("payload = %v; want status=paid", outputs[0].Payload)
	}
	// The model is asked to continue with a free-form response.
	responses := fx.conn.Responses()
	if len(responses) != 1 || responses[0].ForcedUtterance != "" {
		t.Errorf("responses = %+v; want one free-form continuation", responses)
	}
}

func TestHandleToolCall_BusinessErrorStillYieldsOutput(t *testing.T) {
	t.Parallel()
	business := map[string]dispatch.BusinessFunc{
		"lookup_invoice": func(context.Context, map[string]any) (map[string]any, error) {
			return nil, errors.New("backend unavailable")
		},
	}
	fx := newFixture(t, business)

	call := realtime.ToolCall{CallID: "call-4", Name: "lookup_invoice", Arguments: `{}`}
	fx.d.HandleToolCall(context.Background(), call)

	outputs := fx.conn.ToolOutputs()
	if len(outputs) != 1 {
		t.Fatalf("tool outputs = %d; want 1 (result never discarded)", len(outputs))
	}
	if _, ok := outputs[0].Payload["error"]; !ok {
		t.Errorf("payload = %v; want an error field", outputs[0].Payload)
	}
}

func TestHandleToolCall_UnknownBusinessToolYieldsErrorOutput(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	call := realtime.ToolCall{CallID: "call-5", Name: "teleport_caller", Arguments: `{}`}
	fx.d.HandleToolCall(context.Background(), call)

	outputs := fx.conn.ToolOutputs()
	if len(outputs) != 1 {
		t.Fatalf("tool outputs = %d; want 1", len(outputs))
	}
	if _, ok := outputs[0].Payload["error"]; !ok {
		t.Errorf("payload = %v; want an error field", outputs[0].Payload)
	}
}

func TestHandleToolCall_MalformedArgumentsDegradeToEmpty(t *testing.T) {
	t.Parallel()
	gotArgs := make(chan map[string]any, 1)
	business := map[string]dispatch.BusinessFunc{
		"check_hours": func(_ context.Context, args map[string]any) (map[string]any, error) {
			gotArgs <- args
			return map[string]any{"open": true}, nil
		},
	}
	fx := newFixture(t, business)

	call := realtime.ToolCall{CallID: "call-6", Name: "check_hours", Arguments: `{not json`}
	fx.d.HandleToolCall(context.Background(), call)

	select {
	case args := <-gotArgs:
		if len(args) != 0 {
			t.Errorf("args = %v; want empty set after parse failure", args)
		}
	default:
		t.Fatal("business tool never executed despite malformed arguments")
	}
}

func TestHandleToolCall_HandoffResultOverridesRawArguments(t *testing.T) {
	t.Parallel()
	business := map[string]dispatch.BusinessFunc{
		"transfer_to_billing": func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{"greeting": "I see you called about invoice INV-9."}, nil
		},
	}
	fx := newFixture(t, business)

	call := realtime.ToolCall{
		CallID:    "call-7",
		Name:      "transfer_to_billing",
		Arguments: `{"reason":"invoice","greeting":"raw greeting"}`,
	}
	if !fx.d.HandleToolCall(context.Background(), call) {
		t.Fatal("hand-off should report true")
	}

	responses := fx.conn.Responses()
	if len(responses) != 1 {
		t.Fatalf("responses = %d; want 1", len(responses))
	}
	if responses[0].ForcedUtterance != "I see you called about invoice INV-9." {
		t.Errorf("greeting = %q; want the tool result to override raw arguments", responses[0].ForcedUtterance)
	}
}

func TestHandleToolCall_SwitchFailureReportsFalse(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)
	fx.conn.UpdateSessionErr = realtime.ErrConnClosed

	call := realtime.ToolCall{CallID: "call-8", Name: "transfer_to_billing", Arguments: `{}`}
	if fx.d.HandleToolCall(context.Background(), call) {
		t.Fatal("failed switch should report false")
	}
	if fx.sb.CurrentAgent() != "" {
		t.Errorf("CurrentAgent = %q; want unchanged", fx.sb.CurrentAgent())
	}
}
