package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunImmediatelyAndRepeats(t *testing.T) {
	s := New(Options{Name: "prices", Interval: 20 * time.Millisecond, RunImmediately: true}, zerolog.Nop())

	var calls atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error {
		if calls.Add(1) == 2 {
			return errors.New("boom")
		}
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("应在 ctx 结束时返回: %v", err)
	}
	if calls.Load() < 3 {
		t.Fatalf("失败的 tick 不应中断循环, calls=%d", calls.Load())
	}
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("不应执行 tick")
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Name() != "job" {
		t.Fatalf("默认名称应为 job")
	}
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 10, 1, 10, 15, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2026, 10, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next tick %s", got)
	}
	if got := s.tickStart(now); !got.Equal(time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected tick start %s", got)
	}
}
