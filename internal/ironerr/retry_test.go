package ironerr

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	got, err := Retry(context.Background(), cfg, func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", New(KindIO, "fake.read", "connection reset")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected ok, got %q", got)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsImmediatelyOnNonRetryableKind(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig()

	_, err := Retry(context.Background(), cfg, func(context.Context) (string, error) {
		attempts++
		return "", New(KindValidation, "fake.validate", "bad input")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable kind, got %d", attempts)
	}
}

func TestRetryExhaustsMaxAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	_, err := Retry(context.Background(), cfg, func(context.Context) (int, error) {
		attempts++
		return 0, New(KindLLMOverloaded, "fake.complete", "503")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	_, err := Retry(ctx, cfg, func(context.Context) (int, error) {
		return 0, New(KindIO, "fake.read", "timeout")
	})
	if err == nil {
		t.Fatal("expected an error when the context is already cancelled")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in the chain, got %v", err)
	}
}
