package notionsync

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/time/rate"
)

func TestNewNotionClient_DefaultLimit(t *testing.T) {
	c := NewNotionClient("secret_test")
	if got := c.limiter.Limit(); got != defaultRequestsPerSecond {
		t.Errorf("limit = %v, want %v", got, defaultRequestsPerSecond)
	}
	if got := c.limiter.Burst(); got != defaultRequestsPerSecond {
		t.Errorf("burst = %d, want %d", got, defaultRequestsPerSecond)
	}
}

func TestWithRateLimit(t *testing.T) {
	c := NewNotionClient("secret_test", WithRateLimit(0.5, 0))
	if c.limiter.Limit() != rate.Limit(0.5) || c.limiter.Burst() != 1 {
		t.Errorf("limiter = %v/%d, want 0.5/1", c.limiter.Limit(), c.limiter.Burst())
	}

	unlimited := NewNotionClient("secret_test", WithRateLimit(0, 0))
	if unlimited.limiter.Limit() != rate.Inf {
		t.Errorf("limit = %v, want Inf", unlimited.limiter.Limit())
	}
}

func TestNotionClient_CancelledContextSkipsRequest(t *testing.T) {
	c := NewNotionClient("secret_test", WithRateLimit(0.001, 1))
	// Drain the only token so the next call has to wait.
	c.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.CreatePage(ctx, "db", nil); err == nil {
		t.Error("CreatePage: expected error for cancelled context")
	}
	if _, err := c.QueryDatabase(ctx, "db", nil); err == nil {
		t.Error("QueryDatabase: expected error for cancelled context")
	}
	err := c.DeletePage(ctx, "page")
	if err == nil {
		t.Fatal("DeletePage: expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("DeletePage error = %v, want context.Canceled", err)
	}
}
