package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestResult_Basics(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() || ok.IsErr() {
		t.Fatal("ok result misreported")
	}
	if v, err := ok.Unwrap(); v != 42 || err != nil {
		t.Fatalf("unwrap: %v %v", v, err)
	}

	boom := errors.New("boom")
	bad := Err[int](boom)
	if bad.IsOk() {
		t.Fatal("err result misreported")
	}
	if bad.UnwrapOr(7) != 7 {
		t.Fatal("UnwrapOr fallback not used")
	}
	if FromPair(1, nil).IsErr() || FromPair(0, boom).IsOk() {
		t.Fatal("FromPair misclassified")
	}
}

func TestCollect(t *testing.T) {
	all := Collect([]Result[int]{Ok(1), Ok(2), Ok(3)})
	v, err := all.Unwrap()
	if err != nil || len(v) != 3 || v[2] != 3 {
		t.Fatalf("collect ok: %v %v", v, err)
	}

	boom := errors.New("boom")
	partial := Collect([]Result[int]{Ok(1), Err[int](boom), Ok(3)})
	if _, err := partial.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("collect must surface the first error, got %v", err)
	}
}

func TestThen_ShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	var secondRan bool
	st := Then(
		Stage[int, int](func(context.Context, int) Result[int] { return Err[int](boom) }),
		Stage[int, string](func(_ context.Context, v int) Result[string] {
			secondRan = true
			return Ok("done")
		}),
	)
	if _, err := st(context.Background(), 1).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("error not propagated: %v", err)
	}
	if secondRan {
		t.Fatal("second stage must not run after failure")
	}
}

func TestTap_PassesThrough(t *testing.T) {
	var saw int
	st := Tap(func(_ context.Context, v int) { saw = v })
	v, err := st(context.Background(), 9).Unwrap()
	if err != nil || v != 9 || saw != 9 {
		t.Fatalf("tap: %v %v saw=%d", v, err, saw)
	}
}

func TestParMap_PreservesOrder(t *testing.T) {
	in := []int{5, 4, 3, 2, 1}
	out := ParMap(in, 2, func(v int) int { return v * 10 })
	for i, v := range out {
		if v != in[i]*10 {
			t.Fatalf("order broken: %v", out)
		}
	}
}

func TestParMap_BoundedWorkers(t *testing.T) {
	var active, peak atomic.Int64
	in := make([]int, 20)
	ParMap(in, 3, func(int) int {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		active.Add(-1)
		return 0
	})
	if peak.Load() > 3 {
		t.Fatalf("worker bound exceeded: %d", peak.Load())
	}
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("transient"))
		}
		return Ok(99)
	})
	if v, err := r.Unwrap(); err != nil || v != 99 {
		t.Fatalf("retry result: %v %v", v, err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_RespectsShouldRetry(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) Result[int] {
		attempts++
		return Err[int](permanent)
	})
	if r.IsOk() || attempts != 1 {
		t.Fatalf("permanent error retried: attempts=%d", attempts)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		attempts++
		return Err[int](boom)
	})
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("final error lost: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		return Err[int](errors.New("transient"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
