package moderation

import "fmt"

// Policy decides what a verdict means for the turn: nil lets it proceed.
type Policy func(Verdict) error

// RejectedError is returned by Enforce for a failed verdict.
type RejectedError struct {
	Category Category
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("message rejected by moderation: %s", e.Category)
}

// ObserveOnly records nothing and allows every verdict.
func ObserveOnly(Verdict) error {
	return nil
}

// Enforce rejects failed verdicts.
func Enforce(v Verdict) error {
	if v.Passed {
		return nil
	}
	return &RejectedError{Category: v.Category}
}

// PolicyFor maps a configuration name to a policy. Unknown names observe.
func PolicyFor(name string) Policy {
	if name == "enforce" {
		return Enforce
	}
	return ObserveOnly
}
