package transition

import (
	"errors"
	"testing"
)

type status string

func TestTableCheck(t *testing.T) {
	table := Table[status]{
		"draft":   {"pending", "cancelled"},
		"pending": {"paid"},
	}

	if err := table.Check("invoice", "draft", "pending"); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}

	err := table.Check("invoice", "pending", "draft")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var transitionErr *Error
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected *Error")
	}
	if transitionErr.From != "pending" || transitionErr.To != "draft" {
		t.Fatalf("unexpected error payload: %+v", transitionErr)
	}
	if !table.Terminal("paid") {
		t.Fatalf("expected paid to be terminal")
	}
}
