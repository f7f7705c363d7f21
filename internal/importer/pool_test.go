package importer

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPool_RunsJobsWithBaseContext(t *testing.T) {
	type key struct{}
	base := context.WithValue(context.Background(), key{}, "base")
	p := NewPool(base, 2, time.Second)

	reqCtx, cancel := context.WithCancel(context.Background())
	got := make(chan any, 1)
	if err := p.Submit(reqCtx, func(ctx context.Context) { got <- ctx.Value(key{}) }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()

	select {
	case v := <-got:
		if v != "base" {
			t.Errorf("job context value = %v, want base", v)
		}
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

func TestPool_BusyAfterWait(t *testing.T) {
	p := NewPool(context.Background(), 1, 20*time.Millisecond)
	release := make(chan struct{})
	if err := p.Submit(context.Background(), func(context.Context) { <-release }); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	err := p.Submit(context.Background(), func(context.Context) {})
	if err != ErrPoolBusy {
		t.Errorf("second Submit = %v, want ErrPoolBusy", err)
	}

	st := p.Status()
	if st.Active != 1 || st.Available != 0 || st.MaxConcurrent != 1 {
		t.Errorf("Status = %+v", st)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestPool_CancelledRequest(t *testing.T) {
	p := NewPool(context.Background(), 1, time.Second)
	release := make(chan struct{})
	defer close(release)
	_ = p.Submit(context.Background(), func(context.Context) { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Submit(ctx, func(context.Context) {}); err != context.Canceled {
		t.Errorf("Submit with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestPool_DrainWaitsAndRejectsNewJobs(t *testing.T) {
	p := NewPool(context.Background(), 3, time.Second)
	var mu sync.Mutex
	finished := 0
	for i := 0; i < 3; i++ {
		if err := p.Submit(context.Background(), func(context.Context) {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			finished++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	mu.Lock()
	if finished != 3 {
		t.Errorf("finished = %d, want 3", finished)
	}
	mu.Unlock()

	if err := p.Submit(context.Background(), func(context.Context) {}); err != ErrPoolClosed {
		t.Errorf("Submit after Drain = %v, want ErrPoolClosed", err)
	}
}

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(context.Background(), 0, 0)
	if got := p.Status().MaxConcurrent; got != DefaultMaxConcurrent {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrent)
	}
	if p.maxWait != DefaultMaxWait {
		t.Errorf("maxWait = %v, want %v", p.maxWait, DefaultMaxWait)
	}
}
