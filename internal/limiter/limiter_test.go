package limiter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_CoercesLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-3, 1},
		{0, 1},
		{1, 1},
		{6, 6},
	}
	for _, tt := range tests {
		if got := New(tt.in).Limit(); got != tt.want {
			t.Errorf("New(%d).Limit() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRun_NeverExceedsLimit(t *testing.T) {
	l := New(3)
	ctx := context.Background()

	var running, peak atomic.Int32
	futures := make([]*Future[int], 0, 20)
	for i := 0; i < 20; i++ {
		i := i
		futures = append(futures, Run(ctx, l, func(ctx context.Context) (int, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return i * 2, nil
		}))
	}

	for i, f := range futures {
		v, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("task %d: unexpected error %v", i, err)
		}
		if v != i*2 {
			t.Errorf("task %d: value = %d, want %d", i, v, i*2)
		}
	}

	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
	if m := l.MaxObserved(); m > 3 {
		t.Errorf("MaxObserved() = %d, want <= 3", m)
	}
	if a := l.Active(); a != 0 {
		t.Errorf("Active() after drain = %d, want 0", a)
	}
}

func TestRun_FIFOAdmission(t *testing.T) {
	l := New(1)
	ctx := context.Background()

	gate := make(chan struct{})
	first := Run(ctx, l, func(ctx context.Context) (int, error) {
		<-gate
		return 0, nil
	})

	var mu sync.Mutex
	var order []int
	var futures []*Future[int]
	for i := 1; i <= 5; i++ {
		i := i
		futures = append(futures, Run(ctx, l, func(ctx context.Context) (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}))
	}

	if q := l.Queued(); q != 5 {
		t.Errorf("Queued() = %d, want 5", q)
	}

	close(gate)
	if _, err := first.Wait(ctx); err != nil {
		t.Fatalf("first task: %v", err)
	}
	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("queued task: %v", err)
		}
	}

	for i, got := range order {
		if got != i+1 {
			t.Fatalf("admission order = %v, want [1 2 3 4 5]", order)
		}
	}
}

func TestRun_FailureDoesNotBlockQueue(t *testing.T) {
	l := New(1)
	ctx := context.Background()
	boom := errors.New("boom")

	failing := Run(ctx, l, func(ctx context.Context) (string, error) {
		return "", boom
	})
	next := Run(ctx, l, func(ctx context.Context) (string, error) {
		return "ok", nil
	})

	if _, err := failing.Wait(ctx); !errors.Is(err, boom) {
		t.Errorf("failing task error = %v, want %v", err, boom)
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	v, err := next.Wait(waitCtx)
	if err != nil {
		t.Fatalf("next task error = %v", err)
	}
	if v != "ok" {
		t.Errorf("next task value = %q, want ok", v)
	}
}

func TestRun_PanicBecomesError(t *testing.T) {
	l := New(1)
	ctx := context.Background()

	f := Run(ctx, l, func(ctx context.Context) (int, error) {
		panic("kaboom")
	})
	_, err := f.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("error = %v, want panic error", err)
	}

	if err := Do(ctx, l, func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("limiter unusable after panic: %v", err)
	}
}

func TestRun_CanceledContextSkipsTask(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	f := Run(ctx, l, func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	})
	_, err := f.Wait(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if ran.Load() {
		t.Error("task should not run with a canceled context")
	}
	if a := l.Active(); a != 0 {
		t.Errorf("Active() = %d, want 0", a)
	}
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	l := New(1)
	gate := make(chan struct{})
	defer close(gate)

	f := Run(context.Background(), l, func(ctx context.Context) (int, error) {
		<-gate
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want deadline exceeded", err)
	}
	select {
	case <-f.Done():
		t.Error("future should still be pending")
	default:
	}
}
