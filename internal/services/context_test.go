package services_test

import (
	"context"
	"testing"

	"pdfile/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithUserID(ctx, "42")
	ctx = services.WithOperation(ctx, "merge")
	ctx = services.WithChannel(ctx, "telegram")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.UserIDFromContext(ctx); !ok || id != "42" {
		t.Fatalf("unexpected user id: %v %v", id, ok)
	}
	if op, ok := services.OperationFromContext(ctx); !ok || op != "merge" {
		t.Fatalf("unexpected operation: %v %v", op, ok)
	}
	if ch, ok := services.ChannelFromContext(ctx); !ok || ch != "telegram" {
		t.Fatalf("unexpected channel: %v %v", ch, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithOperation(ctx, "")
	ctx = services.WithUserID(ctx, "")
	if _, ok := services.OperationFromContext(ctx); ok {
		t.Fatal("expected no operation value")
	}
	if _, ok := services.UserIDFromContext(ctx); ok {
		t.Fatal("expected no user value")
	}
}
