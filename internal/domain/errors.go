// Package domain holds the error taxonomy shared by the booking and
// referral state machines so HTTP handlers can map them uniformly.
package domain

import (
	"fmt"
	"strings"
)

// InvalidTransitionError signals a status change that is not reachable from
// the entity's current status.
type InvalidTransitionError struct {
	Entity    string
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid transition %s -> %s", e.Entity, e.Current, e.Requested)
}

// ValidationError signals required fields missing for a transition.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}
