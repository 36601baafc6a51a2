package decision

import "time"

// ExpiringSoonWindow is how far ahead of a deadline a pending decision is
// flagged as expiring.
const ExpiringSoonWindow = 24 * time.Hour

// CanTransition reports whether a stored status change is allowed. Pending is
// the only non-terminal state: it may move to completed, deferred or expired.
func CanTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	switch to {
	case StatusCompleted, StatusDeferred, StatusExpired:
		return true
	}
	return false
}

// EffectiveStatus returns the status a reader should act on. A pending
// decision whose deadline has passed reads as expired even though the stored
// field still says pending; the authority reconciles the stored value on a
// later refresh.
func EffectiveStatus(d Decision, now time.Time) Status {
	if d.Status == StatusPending && d.Deadline != nil && now.After(*d.Deadline) {
		return StatusExpired
	}
	return d.Status
}

// Actionable reports whether mutations may still be offered for the decision.
func Actionable(d Decision, now time.Time) bool {
	return EffectiveStatus(d, now) == StatusPending
}

// IsExpiringSoon reports whether a pending decision's deadline is within the
// warning window. A deadline already in the past is expired, not expiring.
func IsExpiringSoon(d Decision, now time.Time) bool {
	if d.Status != StatusPending || d.Deadline == nil {
		return false
	}
	remaining := d.Deadline.Sub(now)
	return remaining >= 0 && remaining <= ExpiringSoonWindow
}

// OptionValidation is the verdict of ValidateOption.
type OptionValidation struct {
	IsValid bool
	Reason  string
}

// ValidateOption checks that optionID names one of the decision's options.
// Status eligibility is deliberately not checked here; the mutation path
// owns that.
func ValidateOption(d Decision, optionID string) OptionValidation {
	if optionID == "" {
		return OptionValidation{IsValid: false, Reason: "option id is empty"}
	}
	if _, ok := d.OptionByID(optionID); !ok {
		return OptionValidation{IsValid: false, Reason: "option not found on decision"}
	}
	return OptionValidation{IsValid: true}
}
