// Package testing provides shared test utilities for the scanline engine:
// goroutine error collection, condition polling, and fixtures for seeding
// stores and capturing consumer deliveries.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// GoroutineTest collects errors from test goroutines so they fail the test
// instead of panicking or being lost. Goroutines return errors rather than
// calling t.Fatal, which is unsafe off the test goroutine.
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a helper with a cancellable background context.
func NewGoroutineTest(t *testing.T) *GoroutineTest {
	return NewGoroutineTestWithTimeout(t, 30*time.Second)
}

// NewGoroutineTestWithTimeout bounds all spawned goroutines by a deadline.
func NewGoroutineTestWithTimeout(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn on a goroutine and collects its error.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(); err != nil {
			select {
			case gt.errors <- err:
			default:
				gt.t.Logf("error channel full, dropping: %v", err)
			}
		}
	}()
}

// GoWithContext runs fn with the helper's context.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.Go(func() error { return fn(gt.ctx) })
}

// Wait blocks until every goroutine finished and fails the test with all
// collected errors. Defer it right after NewGoroutineTest.
func (gt *GoroutineTest) Wait() {
	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	n := 0
	for err := range gt.errors {
		n++
		gt.t.Errorf("goroutine error [%d]: %v", n, err)
	}
	if n > 0 {
		gt.t.FailNow()
	}
}

// Context returns the helper's context.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Cancel signals all context-aware goroutines to stop.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}

// Eventually polls condition until it holds or the timeout expires.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}

// WithTimeout runs fn, failing with a timeout error if it does not return
// in time. fn keeps running after a timeout; it must be side-effect safe.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}
