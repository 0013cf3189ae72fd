package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     Stage
		to       Stage
		expected bool
	}{
		// Happy path
		{StageRoleSelection, StageRoleConfirmation, true},
		{StageRoleConfirmation, StageAwaitingAmount, true},
		{StageAwaitingAmount, StageAmountConfirmation, true},
		{StageAmountConfirmation, StageAwaitingPayment, true},
		{StageAwaitingPayment, StagePaymentDetected, true},
		{StagePaymentDetected, StageAwaitingRelease, true},
		{StageAwaitingRelease, StageReleased, true},

		// Payment seen already final on first poll
		{StageAwaitingPayment, StageAwaitingRelease, true},

		// Confirmation cancel paths
		{StageRoleConfirmation, StageRoleSelection, true},
		{StageAmountConfirmation, StageAwaitingAmount, true},

		// Cancel and expiry
		{StageRoleSelection, StageCancelled, true},
		{StageAwaitingAmount, StageCancelled, true},
		{StageAwaitingAmount, StageExpired, true},
		{StageAwaitingPayment, StageExpired, true},

		// Invalid transitions
		{StageRoleSelection, StageAwaitingAmount, false},
		{StageAwaitingPayment, StageReleased, false},
		{StagePaymentDetected, StageReleased, false},
		{StagePaymentDetected, StageExpired, false},
		{StageAwaitingRelease, StageExpired, false},
		{StageReleased, StageAwaitingRelease, false},
		{StageExpired, StageRoleSelection, false},
		{StageAwaitingPayment, StageAwaitingAmount, false},
		{"nonexistent", StageRoleSelection, false},
		{StageRoleSelection, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStagesHaveTransitionEntry(t *testing.T) {
	all := []Stage{
		StageRoleSelection, StageRoleConfirmation, StageAwaitingAmount,
		StageAmountConfirmation, StageAwaitingPayment, StagePaymentDetected,
		StageAwaitingRelease, StageReleased, StageCancelled, StageExpired,
	}

	for _, s := range all {
		if _, ok := ValidStageTransitions[s]; !ok {
			t.Errorf("stage %q missing from ValidStageTransitions map", s)
		}
	}
}

func TestTerminalStagesHaveNoTransitions(t *testing.T) {
	for _, s := range []Stage{StageReleased, StageCancelled, StageExpired} {
		if !s.IsTerminal() {
			t.Errorf("stage %q should be terminal", s)
		}
		if n := len(ValidStageTransitions[s]); n != 0 {
			t.Errorf("terminal stage %q should have no transitions, got %d", s, n)
		}
	}
}

func TestReleasedOnlyReachableFromAwaitingRelease(t *testing.T) {
	for from := range ValidStageTransitions {
		if IsValidTransition(from, StageReleased) && from != StageAwaitingRelease {
			t.Errorf("stage %q can reach released directly", from)
		}
	}
}

func TestCanOverrideRelease(t *testing.T) {
	tests := []struct {
		stage    Stage
		expected bool
	}{
		{StageRoleSelection, false},
		{StageAmountConfirmation, false},
		{StageAwaitingPayment, true},
		{StagePaymentDetected, true},
		{StageAwaitingRelease, true},
		{StageReleased, false},
		{StageExpired, false},
	}
	for _, tt := range tests {
		if got := CanOverrideRelease(tt.stage); got != tt.expected {
			t.Errorf("CanOverrideRelease(%q) = %v, want %v", tt.stage, got, tt.expected)
		}
	}
}

func TestDealCloneIsDeep(t *testing.T) {
	sender := int64(1)
	d := Deal{
		ID:        "s1",
		Sender:    &sender,
		Acks:      []int64{1},
		AmountUSD: decimal.RequireFromString("1.50"),
	}

	c := d.Clone()
	*c.Sender = 2
	c.Acks[0] = 2

	if *d.Sender != 1 {
		t.Errorf("clone shares sender pointer")
	}
	if d.Acks[0] != 1 {
		t.Errorf("clone shares acks slice")
	}
}

func TestDealAckIsIdempotent(t *testing.T) {
	var d Deal
	d.Ack(7)
	d.Ack(7)
	d.Ack(8)
	if len(d.Acks) != 2 {
		t.Errorf("len(Acks) = %d, want 2", len(d.Acks))
	}
}
