package infra

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriterPool_RunsSubmittedTasks(t *testing.T) {
	p := NewWriterPool(2, time.Second, nil)

	var ran atomic.Int64
	for i := 0; i < 2; i++ {
		if !p.Submit(func(context.Context) { ran.Add(1) }) {
			t.Fatalf("expected submit %d to be accepted", i)
		}
	}
	p.Wait()

	if got := ran.Load(); got != 2 {
		t.Fatalf("expected 2 tasks ran, got %d", got)
	}
}

func TestWriterPool_RejectsWhenSaturated(t *testing.T) {
	p := NewWriterPool(1, time.Second, nil)

	blocked := make(chan struct{})
	if !p.Submit(func(context.Context) { <-blocked }) {
		t.Fatalf("expected first submit to be accepted")
	}

	// única vaga ocupada: o submit não pode bloquear, só recusar
	if p.Submit(func(context.Context) {}) {
		t.Fatalf("expected submit to be rejected while saturated")
	}

	close(blocked)
	p.Wait()

	if !p.Submit(func(context.Context) {}) {
		t.Fatalf("expected slot to free up after task finished")
	}
	p.Wait()
}

func TestWriterPool_TaskGetsDetachedContextWithDeadline(t *testing.T) {
	p := NewWriterPool(1, 50*time.Millisecond, nil)

	done := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		defer close(done)
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("expected task context to carry a deadline")
		}
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Errorf("task context never expired")
		}
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("task did not finish")
	}
}

func TestWriterPool_RecoversFromPanickingTask(t *testing.T) {
	p := NewWriterPool(1, time.Second, nil)

	p.Submit(func(context.Context) { panic("boom") })
	p.Wait()

	// o pool continua utilizável
	var ran atomic.Bool
	if !p.Submit(func(context.Context) { ran.Store(true) }) {
		t.Fatalf("expected pool to survive a panic")
	}
	p.Wait()
	if !ran.Load() {
		t.Fatalf("expected followup task to run")
	}
}
