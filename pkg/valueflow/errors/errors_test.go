package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryConfiguration, "configuration"},
		{CategoryDataIntegrity, "data_integrity"},
		{CategoryArithmetic, "arithmetic"},
		{CategoryReconciliation, "reconciliation"},
		{CategoryTransient, "transient"},
		{CategoryCancelled, "cancelled"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.category.String())
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryConfiguration},
		{"configuration", Configf("bucket-1", "percentage out of range"), CategoryConfiguration},
		{"wrapped configuration", fmt.Errorf("run: %w", Configf("rule", "bad")), CategoryConfiguration},
		{"dangling reference", Dangling("event", "e1", "resource r9", ErrNotFound), CategoryDataIntegrity},
		{"reconciliation", &ReconciliationError{Expected: "100.00", Distributed: "99.99"}, CategoryReconciliation},
		{"division by zero", fmt.Errorf("vpu: %w", ErrDivisionByZero), CategoryArithmetic},
		{"cancelled", context.Canceled, CategoryCancelled},
		{"deadline", fmt.Errorf("walk: %w", context.DeadlineExceeded), CategoryCancelled},
		{"transient", Transient(errors.New("rail down"), "transfer"), CategoryTransient},
		{"unknown", errors.New("boom"), CategoryConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(tt.err))
		})
	}
}

func TestRecoverability(t *testing.T) {
	assert.True(t, IsRecoverable(Dangling("event", "e1", "resource", nil)))
	assert.True(t, IsRecoverable(ErrDivisionByZero))
	assert.False(t, IsRecoverable(Configf("x", "y")))
	assert.True(t, IsFatal(&ReconciliationError{}))
	assert.False(t, IsFatal(nil))
	assert.True(t, IsRetryable(Transient(errors.New("x"), "")))
	assert.False(t, IsRetryable(Configf("x", "y")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "configuration error: bucket b1: percentage must be between 0 and 100",
		Configf("bucket b1", "percentage must be between 0 and 100").Error())

	err := Dangling("event", "e1", "resource r9", ErrNotFound)
	assert.Equal(t, "data integrity: event e1 references missing resource r9: not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &ReconciliationError{Expected: "100.00", Distributed: "100.01"}
	assert.Contains(t, rec.Error(), "expected 100.00")

	cat := Transient(errors.New("timeout"), "transfer")
	assert.Equal(t, "transfer: timeout (category: transient, attempts: 0)", cat.Error())
}

func TestWithRetryContext(t *testing.T) {
	fast := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 2}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		res := WithRetryContext(context.Background(), fast, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", Transient(errors.New("busy"), "transfer")
			}
			return "tx-1", nil
		})
		require.NoError(t, res.Err)
		assert.Equal(t, "tx-1", res.Value)
		assert.Equal(t, 3, res.Attempts)
	})

	t.Run("stops on non-transient error", func(t *testing.T) {
		calls := 0
		res := WithRetryContext(context.Background(), fast, func(context.Context) (int, error) {
			calls++
			return 0, Configf("account", "missing")
		})
		require.Error(t, res.Err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, CategoryConfiguration, Categorize(res.Err))
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		res := WithRetryContext(context.Background(), fast, func(context.Context) (int, error) {
			return 0, Transient(errors.New("busy"), "transfer")
		})
		require.Error(t, res.Err)
		assert.Equal(t, 3, res.Attempts)
		assert.Contains(t, res.Err.Error(), "max retries exceeded")
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := WithRetryContext(ctx, fast, func(context.Context) (int, error) {
			t.Fatal("fn must not be called")
			return 0, nil
		})
		assert.Equal(t, CategoryCancelled, Categorize(res.Err))
		assert.Equal(t, 0, res.Attempts)
	})
}
