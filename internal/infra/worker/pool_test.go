//go:build !integration

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(2, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		if err := p.Submit(func(ctx context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
			return nil
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()
	p.Stop()
	if n != 5 {
		t.Errorf("expected 5 tasks, got %d", n)
	}
}

func TestPoolSurvivesPanicsAndErrors(t *testing.T) {
	p := NewPool(1, newTestLogger())
	p.Start(context.Background())
	defer p.Stop()

	done := make(chan struct{})
	_ = p.Submit(func(ctx context.Context) error { panic("boom") })
	_ = p.Submit(func(ctx context.Context) error { return errors.New("fail") })
	_ = p.Submit(func(ctx context.Context) error { close(done); return nil })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestPoolSubmitWhenFull(t *testing.T) {
	p := NewPool(1, newTestLogger()) // not started: nothing drains the queue
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = p.Submit(func(ctx context.Context) error { return nil })
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if err := p.Submit(nil); err == nil {
		t.Error("expected an error for a nil task")
	}
}
