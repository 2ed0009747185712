package adapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryDelay(t *testing.T) {
	base := 500 * time.Millisecond
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := RetryDelay(base, tt.attempt); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWait_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}

func TestWait_Elapses(t *testing.T) {
	if err := Wait(t.Context(), time.Millisecond); err != nil {
		t.Errorf("Wait = %v", err)
	}
}

func TestRetry(t *testing.T) {
	errTransient := errors.New("transient")
	errFinal := errors.New("final")

	tests := []struct {
		name      string
		retries   int
		failures  int
		fail      error
		wantCalls int
		wantErr   bool
	}{
		{"first try", 3, 0, nil, 1, false},
		{"succeeds on third", 3, 2, errTransient, 3, false},
		{"exhausted", 2, 10, errTransient, 3, true},
		{"no retries", 0, 10, errTransient, 1, true},
		{"final error stops", 5, 10, errFinal, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(t.Context(), tt.retries, time.Millisecond,
				func(err error) bool { return errors.Is(err, errFinal) },
				func(context.Context) error {
					calls++
					if calls <= tt.failures {
						return tt.fail
					}
					return nil
				})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr && !errors.Is(err, tt.fail) {
				t.Errorf("err = %v, want it to wrap %v", err, tt.fail)
			}
		})
	}
}

func TestRetry_CanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	called := false
	err := Retry(ctx, 3, time.Millisecond, nil, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}
