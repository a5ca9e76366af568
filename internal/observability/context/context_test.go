package context

import (
	"context"
	"testing"
)

func TestRequestScopedValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithActor(ctx, "user", "cashier-7")
	ctx = WithClient(ctx, "10.0.0.1", "pos/1.0")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected request id req-1, got %q", got)
	}
	actorType, actorID := ActorFromContext(ctx)
	if actorType != "user" || actorID != "cashier-7" {
		t.Fatalf("unexpected actor %q/%q", actorType, actorID)
	}
	ip, ua := ClientFromContext(ctx)
	if ip != "10.0.0.1" || ua != "pos/1.0" {
		t.Fatalf("unexpected client %q/%q", ip, ua)
	}
}

func TestEmptyRequestIDIsIgnored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
