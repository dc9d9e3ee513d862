package html2pdf

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// TestNewBrowserPool - Startup
// ---------------------------------------------------------------------------

func TestNewBrowserPool(t *testing.T) {
	t.Parallel()

	t.Run("starts every instance READY", func(t *testing.T) {
		t.Parallel()

		launch, engines := fakeLauncher(-1, nil)
		pool, err := NewBrowserPool(context.Background(), 3, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer pool.Close()

		if pool.Size() != 3 || len(*engines) != 3 {
			t.Fatalf("size = %d, engines = %d, want 3", pool.Size(), len(*engines))
		}
		for _, s := range pool.Statuses() {
			if s.State != StateReady {
				t.Errorf("instance %d state = %v, want READY", s.ID, s.State)
			}
		}
	})

	t.Run("launch failure closes started browsers", func(t *testing.T) {
		t.Parallel()

		launch, engines := fakeLauncher(2, nil)
		_, err := NewBrowserPool(context.Background(), 4, launch)

		if !errors.Is(err, ErrStartupFailed) {
			t.Fatalf("error = %v, want ErrStartupFailed", err)
		}
		if !errors.Is(err, ErrBrowserLaunch) {
			t.Errorf("error = %v, want cause ErrBrowserLaunch", err)
		}
		var se *StartupError
		if !errors.As(err, &se) || se.Index != 2 {
			t.Errorf("StartupError = %+v, want index 2", se)
		}
		if len(*engines) != 2 {
			t.Fatalf("started engines = %d, want 2", len(*engines))
		}
		for _, e := range *engines {
			if !e.closed.Load() {
				t.Errorf("engine %d left running", e.id)
			}
		}
	})

	t.Run("empty pool is rejected", func(t *testing.T) {
		t.Parallel()

		launch, _ := fakeLauncher(-1, nil)
		_, err := NewBrowserPool(context.Background(), 0, launch)
		if !errors.Is(err, ErrEmptyPool) || !errors.Is(err, ErrStartupFailed) {
			t.Errorf("error = %v, want ErrEmptyPool and ErrStartupFailed", err)
		}
	})
}

// ---------------------------------------------------------------------------
// TestBrowserPool_Acquire - Round robin
// ---------------------------------------------------------------------------

func TestBrowserPool_Acquire(t *testing.T) {
	t.Parallel()

	t.Run("cycles in order and wraps", func(t *testing.T) {
		t.Parallel()

		const n = 3
		launch, _ := fakeLauncher(-1, nil)
		pool, err := NewBrowserPool(context.Background(), n, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer pool.Close()

		var got []int
		for range 2*n + 1 {
			inst, err := pool.Acquire()
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			got = append(got, inst.ID())
		}
		want := []int{0, 1, 2, 0, 1, 2, 0}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("order = %v, want %v", got, want)
		}
	})

	t.Run("hands out degraded instances", func(t *testing.T) {
		t.Parallel()

		launch, _ := fakeLauncher(-1, nil)
		pool, err := NewBrowserPool(context.Background(), 1, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer pool.Close()

		inst, _ := pool.Acquire()
		pool.Release(inst, ErrPageCreate)

		again, err := pool.Acquire()
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if again.State() != StateDegraded {
			t.Errorf("state = %v, want DEGRADED", again.State())
		}
	})

	t.Run("concurrent callers spread evenly", func(t *testing.T) {
		t.Parallel()

		const n, perInstance = 4, 25
		launch, _ := fakeLauncher(-1, nil)
		pool, err := NewBrowserPool(context.Background(), n, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer pool.Close()

		var (
			mu     sync.Mutex
			counts = make(map[int]int)
			wg     sync.WaitGroup
		)
		for range n * perInstance {
			wg.Add(1)
			go func() {
				defer wg.Done()
				inst, err := pool.Acquire()
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				mu.Lock()
				counts[inst.ID()]++
				mu.Unlock()
			}()
		}
		wg.Wait()

		for id := range n {
			if counts[id] != perInstance {
				t.Errorf("instance %d acquired %d times, want %d", id, counts[id], perInstance)
			}
		}
	})

	t.Run("closed pool", func(t *testing.T) {
		t.Parallel()

		launch, _ := fakeLauncher(-1, nil)
		pool, err := NewBrowserPool(context.Background(), 1, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_ = pool.Close()

		if _, err := pool.Acquire(); !errors.Is(err, ErrPoolClosed) {
			t.Errorf("error = %v, want ErrPoolClosed", err)
		}
	})
}

// ---------------------------------------------------------------------------
// TestBrowserPool_Release - State bookkeeping
// ---------------------------------------------------------------------------

func TestBrowserPool_Release(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		first error
		then  error
		want  InstanceState
	}{
		{"success stays READY", nil, nil, StateReady},
		{"page creation failure degrades", nil, ErrPageCreate, StateDegraded},
		{"connection failure degrades", nil, fmt.Errorf("wrapped: %w", ErrBrowserConnect), StateDegraded},
		{"document failure leaves state", nil, ErrContentLoadTimeout, StateReady},
		{"success after degraded recovers", ErrPageCreate, nil, StateReady},
		{"document failure keeps DEGRADED", ErrPageCreate, ErrPDFGeneration, StateDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			launch, _ := fakeLauncher(-1, nil)
			pool, err := NewBrowserPool(context.Background(), 1, launch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer pool.Close()

			inst, _ := pool.Acquire()
			pool.Release(inst, tt.first)
			pool.Release(inst, tt.then)

			if got := inst.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("nil instance is ignored", func(t *testing.T) {
		t.Parallel()

		launch, _ := fakeLauncher(-1, nil)
		pool, err := NewBrowserPool(context.Background(), 1, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer pool.Close()
		pool.Release(nil, ErrPageCreate)
	})
}

// ---------------------------------------------------------------------------
// TestBrowserPool_HealthCheck - Probing
// ---------------------------------------------------------------------------

func TestBrowserPool_HealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("failing ping degrades and recovers", func(t *testing.T) {
		t.Parallel()

		launch, engines := fakeLauncher(-1, func(e *fakeEngine) {
			if e.id == 1 {
				e.pingErr = ErrBrowserConnect
			}
		})
		pool, err := NewBrowserPool(context.Background(), 2, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer pool.Close()

		statuses := pool.HealthCheck(context.Background())
		if len(statuses) != 2 {
			t.Fatalf("statuses = %d, want 2", len(statuses))
		}
		if statuses[0].State != StateReady || statuses[0].Error != "" {
			t.Errorf("instance 0 = %+v, want READY", statuses[0])
		}
		if statuses[1].State != StateDegraded || statuses[1].Error == "" {
			t.Errorf("instance 1 = %+v, want DEGRADED with error", statuses[1])
		}

		(*engines)[1].pingErr = nil
		statuses = pool.HealthCheck(context.Background())
		if statuses[1].State != StateReady {
			t.Errorf("instance 1 after recovery = %v, want READY", statuses[1].State)
		}
	})

	t.Run("closed pool reports CLOSED without probing", func(t *testing.T) {
		t.Parallel()

		launch, _ := fakeLauncher(-1, nil)
		pool, err := NewBrowserPool(context.Background(), 2, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_ = pool.Close()

		for _, s := range pool.HealthCheck(context.Background()) {
			if s.State != StateClosed {
				t.Errorf("instance %d = %v, want CLOSED", s.ID, s.State)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// TestBrowserPool_Close - Teardown
// ---------------------------------------------------------------------------

func TestBrowserPool_Close(t *testing.T) {
	t.Parallel()

	t.Run("closes every engine and joins errors", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		launch, engines := fakeLauncher(-1, func(e *fakeEngine) {
			if e.id == 0 {
				e.closeErr = boom
			}
		})
		pool, err := NewBrowserPool(context.Background(), 3, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := pool.Close(); !errors.Is(err, boom) {
			t.Errorf("Close() = %v, want boom", err)
		}
		for _, e := range *engines {
			if !e.closed.Load() {
				t.Errorf("engine %d not closed", e.id)
			}
		}
	})

	t.Run("second call is a no-op", func(t *testing.T) {
		t.Parallel()

		launch, _ := fakeLauncher(-1, nil)
		pool, err := NewBrowserPool(context.Background(), 1, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := pool.Close(); err != nil {
			t.Fatalf("first Close: %v", err)
		}
		if err := pool.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
	})

	t.Run("CLOSED is terminal", func(t *testing.T) {
		t.Parallel()

		launch, _ := fakeLauncher(-1, nil)
		pool, err := NewBrowserPool(context.Background(), 1, launch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		inst, _ := pool.Acquire()
		_ = pool.Close()

		pool.Release(inst, nil)
		if inst.State() != StateClosed {
			t.Errorf("state = %v, want CLOSED", inst.State())
		}
	})
}

// ---------------------------------------------------------------------------
// TestResolvePoolSize - Sizing
// ---------------------------------------------------------------------------

func TestResolvePoolSize(t *testing.T) {
	t.Parallel()

	gomaxprocs := runtime.GOMAXPROCS(0)

	tests := []struct {
		name string
		size int
		want int
	}{
		{"explicit takes priority", 4, 4},
		{"explicit can exceed max", 12, 12},
		{"zero uses auto calculation", 0, min(max(gomaxprocs/cpuDivisor, MinPoolSize), MaxPoolSize)},
		{"negative uses auto calculation", -1, min(max(gomaxprocs/cpuDivisor, MinPoolSize), MaxPoolSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ResolvePoolSize(tt.size); got != tt.want {
				t.Errorf("ResolvePoolSize(%d) = %d, want %d", tt.size, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestInstanceState_String
// ---------------------------------------------------------------------------

func TestInstanceState_String(t *testing.T) {
	t.Parallel()

	tests := map[InstanceState]string{
		StateStarting:    "STARTING",
		StateReady:       "READY",
		StateDegraded:    "DEGRADED",
		StateClosed:      "CLOSED",
		InstanceState(9): "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
