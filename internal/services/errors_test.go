package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"pdfile/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "transform", "merge", "pdfcpu failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transform", "merge", "pdfcpu failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransformFailed(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransformFailed) {
		t.Fatalf("expected transform failure marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Outcome
	}{
		{"rejected", services.Wrap(services.ErrInputRejected, "workflow", "range", "bad", nil), services.OutcomeReprompt},
		{"staging", services.Wrap(services.ErrStagingFailed, "staging", "download", "", errors.New("eof")), services.OutcomeReprompt},
		{"transform", services.Wrap(services.ErrTransformFailed, "dispatch", "merge", "", nil), services.OutcomeReset},
		{"nested", fmt.Errorf("outer: %w", services.Wrap(services.ErrInputRejected, "", "", "", nil)), services.OutcomeReprompt},
		{"plain", errors.New("plain"), services.OutcomeReset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKind(t *testing.T) {
	if got := services.Kind(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %q", got)
	}
	if got := services.Kind(services.Wrap(services.ErrStagingFailed, "", "", "", nil)); got != "staging_failed" {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := services.Kind(errors.New("x")); got != "unknown" {
		t.Fatalf("unexpected kind %q", got)
	}
}

func TestPromptErrorKeepsMarker(t *testing.T) {
	base := services.Wrap(services.ErrInputRejected, "staging", "precheck", "too large", nil)
	err := services.WithPrompt(base, "big_file", map[string]string{"limit": "20 MiB"})
	if !errors.Is(err, services.ErrInputRejected) {
		t.Fatalf("expected marker to survive, got %v", err)
	}
	wrapped := fmt.Errorf("stage: %w", err)
	key, args, ok := services.PromptOf(wrapped)
	if !ok || key != "big_file" || args["limit"] != "20 MiB" {
		t.Fatalf("unexpected prompt %q %v %v", key, args, ok)
	}
	if _, _, ok := services.PromptOf(base); ok {
		t.Fatal("expected no prompt on untagged error")
	}
	if services.WithPrompt(nil, "x", nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}
