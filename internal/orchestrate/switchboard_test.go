package orchestrate_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voicelane/voicelane/internal/agentdef"
	"github.com/voicelane/voicelane/internal/orchestrate"
	rtmock "github.com/voicelane/voicelane/pkg/realtime/mock"
)

func testRegistry(t *testing.T) *agentdef.Registry {
	t.Helper()
	reg, err := agentdef.NewRegistry([]agentdef.Descriptor{
		{
			Name:           "reception",
			Greeting:       "Thanks for calling!",
			ReturnGreeting: "Welcome back to reception.",
			Voice:          "alloy",
		},
		{
			Name:     "billing",
			Greeting: "Billing here, how can I help?",
			Voice:    "verse",
		},
	}, map[string]string{
		"transfer_to_billing":   "billing",
		"transfer_to_reception": "reception",
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestSwitchTo_FirstVisitUsesGreeting(t *testing.T) {
	t.Parallel()
	conn := rtmock.NewConn()
	sb := orchestrate.NewSwitchboard(testRegistry(t), conn)

	if err := sb.SwitchTo(context.Background(), "reception", orchestrate.HandoffContext{}); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	if sb.CurrentAgent() != "reception" {
		t.Errorf("CurrentAgent = %q; want reception", sb.CurrentAgent())
	}
	updates := conn.Updates()
	if len(updates) != 1 {
		t.Fatalf("UpdateSession calls = %d; want 1", len(updates))
	}
	if updates[0].Update.Voice != "alloy" {
		t.Errorf("applied voice = %q; want alloy", updates[0].Update.Voice)
	}
	responses := conn.Responses()
	if len(responses) != 1 {
		t.Fatalf("CreateResponse calls = %d; want 1", len(responses))
	}
	if responses[0].ForcedUtterance != "Thanks for calling!" {
		t.Errorf("greeting = %q; want first-visit greeting", responses[0].ForcedUtterance)
	}
}

func TestSwitchTo_RevisitUsesReturnGreeting(t *testing.T) {
	t.Parallel()
	conn := rtmock.NewConn()
	sb := orchestrate.NewSwitchboard(testRegistry(t), conn)
	ctx := context.Background()

	for _, target := range []string{"reception", "billing", "reception"} {
		if err := sb.SwitchTo(ctx, target, orchestrate.HandoffContext{}); err != nil {
			t.Fatalf("SwitchTo(%s): %v", target, err)
		}
	}

	responses := conn.Responses()
	if len(responses) != 3 {
		t.Fatalf("CreateResponse calls = %d; want 3", len(responses))
	}
	if responses[0].ForcedUtterance != "Thanks for calling!" {
		t.Errorf("first greeting = %q; want first-visit greeting", responses[0].ForcedUtterance)
	}
	if responses[2].ForcedUtterance != "Welcome back to reception." {
		t.Errorf("revisit greeting = %q; want return greeting", responses[2].ForcedUtterance)
	}
}

func TestSwitchTo_RevisitWithoutReturnGreetingFallsBack(t *testing.T) {
	t.Parallel()
	conn := rtmock.NewConn()
	sb := orchestrate.NewSwitchboard(testRegistry(t), conn)
	ctx := context.Background()

	// billing has no return greeting configured.
	for _, target := range []string{"billing", "reception", "billing"} {
		if err := sb.SwitchTo(ctx, target, orchestrate.HandoffContext{}); err != nil {
			t.Fatalf("SwitchTo(%s): %v", target, err)
		}
	}

	responses := conn.Responses()
	last := responses[len(responses)-1].ForcedUtterance
	if last == "Billing here, how can I help?" {
		t.Error("revisit repeated the first-visit greeting")
	}
	if last == "" {
		t.Error("revisit greeting is empty; want generic fallback")
	}
}

func TestSwitchTo_ExplicitGreetingWins(t *testing.T) {
	t.Parallel()
	conn := rtmock.NewConn()
	sb := orchestrate.NewSwitchboard(testRegistry(t), conn)

	hc := orchestrate.HandoffContext{Greeting: "Let me pull up that invoice."}
	if err := sb.SwitchTo(context.Background(), "billing", hc); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	responses := conn.Responses()
	if responses[0].ForcedUtterance != "Let me pull up that invoice." {
		t.Errorf("greeting = %q; want explicit override", responses[0].ForcedUtterance)
	}
}

func TestSwitchTo_UnknownAgentLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	conn := rtmock.NewConn()
	sb := orchestrate.NewSwitchboard(testRegistry(t), conn)
	ctx := context.Background()

	if err := sb.SwitchTo(ctx, "reception", orchestrate.HandoffContext{}); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	err := sb.SwitchTo(ctx, "fulfillment", orchestrate.HandoffContext{})
	if !errors.Is(err, agentdef.ErrUnknownAgent) {
		t.Fatalf("error = %v; want ErrUnknownAgent", err)
	}
	if sb.CurrentAgent() != "reception" {
		t.Errorf("CurrentAgent = %q; want reception unchanged", sb.CurrentAgent())
	}
	// No partial configuration reached the connection.
	if got := len(conn.Updates()); got != 1 {
		t.Errorf("UpdateSession calls = %d; want 1 (only the valid switch)", got)
	}
}

func TestSwitchTo_ApplyFailureKeepsActiveAgent(t *testing.T) {
	t.Parallel()
	conn := rtmock.NewConn()
	sb := orchestrate.NewSwitchboard(testRegistry(t), conn)
	ctx := context.Background()

	if err := sb.SwitchTo(ctx, "reception", orchestrate.HandoffContext{}); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	conn.UpdateSessionErr = errors.New("socket gone")
	err := sb.SwitchTo(ctx, "billing", orchestrate.HandoffContext{})
	if err == nil {
		t.Fatal("expected error when session update fails")
	}
	if !strings.Contains(err.Error(), "billing") {
		t.Errorf("error should name the target, got: %v", err)
	}
	if sb.CurrentAgent() != "reception" {
		t.Errorf("CurrentAgent = %q; want reception unchanged", sb.CurrentAgent())
	}
}

func TestSwitchTo_GreetingFailureStillSwitches(t *testing.T) {
	t.Parallel()
	conn := rtmock.NewConn()
	conn.CreateResponseErr = errors.New("mid-turn")
	sb := orchestrate.NewSwitchboard(testRegistry(t), conn)

	if err := sb.SwitchTo(context.Background(), "billing", orchestrate.HandoffContext{}); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	if sb.CurrentAgent() != "billing" {
		t.Errorf("CurrentAgent = %q; want billing", sb.CurrentAgent())
	}
}
