// Package transition holds the status tables shared by every aggregate with a lifecycle.
package transition

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid_transition")

// Error reports a move the table does not allow. It unwraps to ErrInvalidTransition.
type Error struct {
	Entity string `json:"entity"`
	From   string `json:"from"`
	To     string `json:"to"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid_transition: %s %s -> %s", e.Entity, e.From, e.To)
}

func (e *Error) Unwrap() error { return ErrInvalidTransition }

// Table lists, per status, the statuses it may move to.
type Table[S ~string] map[S][]S

func (t Table[S]) Allowed(from, to S) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Check returns a *Error when from -> to is not in the table.
func (t Table[S]) Check(entity string, from, to S) error {
	if t.Allowed(from, to) {
		return nil
	}
	return &Error{Entity: entity, From: string(from), To: string(to)}
}

// Terminal reports whether a status has no outgoing moves.
func (t Table[S]) Terminal(status S) bool {
	return len(t[status]) == 0
}
