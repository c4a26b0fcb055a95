package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(ctx context.Context) error { return errBoom }
func passing(ctx context.Context) error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, reset)
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errBoom) {
			t.Fatalf("Expected errBoom, got %v", err)
		}
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state %s, got %s", StateOpen, cb.GetState())
	}

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to be called while open")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, passing)
	_ = cb.Execute(ctx, failing)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	clock.Advance(2 * time.Minute)

	if err := cb.Execute(ctx, passing); err != nil {
		t.Fatalf("Expected probe to succeed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	clock.Advance(2 * time.Minute)
	_ = cb.Execute(ctx, failing)

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state %s, got %s", StateOpen, cb.GetState())
	}
	if err := cb.Execute(ctx, passing); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	clock.Advance(2 * time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	if err := cb.Execute(ctx, passing); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected second caller to be rejected during probe, got %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, cb.GetState())
	}
}
