package decision

import (
	"testing"
	"time"
)

func pendingDecision(deadline *time.Time) Decision {
	return Decision{
		ID:         "decision-1",
		Type:       TypeQuality,
		Status:     StatusPending,
		PipelineID: "pipeline-1",
		Deadline:   deadline,
		Options: []Option{
			{ID: "option-1", Title: "Apply fix", Impact: ImpactLow},
			{ID: "option-2", Title: "Ignore", Impact: ImpactHigh},
		},
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to completed", StatusPending, StatusCompleted, true},
		{"pending to deferred", StatusPending, StatusDeferred, true},
		{"pending to expired", StatusPending, StatusExpired, true},
		{"pending to pending", StatusPending, StatusPending, false},
		{"completed is terminal", StatusCompleted, StatusDeferred, false},
		{"deferred is terminal", StatusDeferred, StatusCompleted, false},
		{"expired is terminal", StatusExpired, StatusPending, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.allowed {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
			}
		})
	}
}

func TestEffectiveStatusDerivedExpiry(t *testing.T) {
	now := time.Now()

	past := now.Add(-time.Hour)
	d := pendingDecision(&past)
	if got := EffectiveStatus(d, now); got != StatusExpired {
		t.Fatalf("expected derived expired, got %s", got)
	}
	// The stored field is untouched; reconciliation happens on refresh.
	if d.Status != StatusPending {
		t.Fatalf("stored status must stay pending, got %s", d.Status)
	}
	if Actionable(d, now) {
		t.Fatal("expired decision must not be actionable")
	}

	future := now.Add(time.Hour)
	d = pendingDecision(&future)
	if got := EffectiveStatus(d, now); got != StatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
	if !Actionable(d, now) {
		t.Fatal("pending decision within deadline must be actionable")
	}

	d = pendingDecision(nil)
	if got := EffectiveStatus(d, now); got != StatusPending {
		t.Fatalf("no deadline means no expiry, got %s", got)
	}

	d = pendingDecision(&past)
	d.Status = StatusCompleted
	if got := EffectiveStatus(d, now); got != StatusCompleted {
		t.Fatalf("terminal status must win over deadline, got %s", got)
	}
}

func TestIsExpiringSoon(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		deadline time.Duration
		status   Status
		want     bool
	}{
		{"12h out", 12 * time.Hour, StatusPending, true},
		{"exactly 24h", 24 * time.Hour, StatusPending, true},
		{"48h out", 48 * time.Hour, StatusPending, false},
		{"already past", -time.Hour, StatusPending, false},
		{"completed never expires soon", 12 * time.Hour, StatusCompleted, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			deadline := now.Add(tc.deadline)
			d := pendingDecision(&deadline)
			d.Status = tc.status
			if got := IsExpiringSoon(d, now); got != tc.want {
				t.Fatalf("IsExpiringSoon = %v, want %v", got, tc.want)
			}
		})
	}

	if IsExpiringSoon(pendingDecision(nil), now) {
		t.Fatal("no deadline must never report expiring soon")
	}
}

func TestValidateOption(t *testing.T) {
	d := pendingDecision(nil)

	if verdict := ValidateOption(d, "option-1"); !verdict.IsValid {
		t.Fatalf("existing option rejected: %s", verdict.Reason)
	}
	if verdict := ValidateOption(d, "non-existent"); verdict.IsValid {
		t.Fatal("unknown option accepted")
	}
	if verdict := ValidateOption(d, ""); verdict.IsValid {
		t.Fatal("empty option id accepted")
	}

	// Validation ignores status; eligibility is the mutation path's concern.
	d.Status = StatusCompleted
	if verdict := ValidateOption(d, "option-1"); !verdict.IsValid {
		t.Fatal("validation must not depend on status")
	}
}
