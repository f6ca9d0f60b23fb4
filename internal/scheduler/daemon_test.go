package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
)

type fakeLifecycle struct {
	mu    sync.Mutex
	calls []string

	activateCount int
	completeCount int
	sweepCount    int
	activateErr   error
}

func (f *fakeLifecycle) ActivateDueTemplates(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "activate")
	return f.activateCount, f.activateErr
}

func (f *fakeLifecycle) CompleteDueTemplates(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "complete")
	return f.completeCount, nil
}

func (f *fakeLifecycle) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "sweep")
	return f.sweepCount, nil
}

func (f *fakeLifecycle) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDaemon_RunTickOrder(t *testing.T) {
	fake := &fakeLifecycle{activateCount: 1, completeCount: 1, sweepCount: 2}
	daemon := NewDaemon(fake, fake, clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)),
		time.Second, discardLogger())

	daemon.RunTick(context.Background())

	// Activation before completion before sweep: a template whose window
	// opened and closed between ticks still ends Completed.
	want := []string{"activate", "complete", "sweep"}
	got := fake.callLog()
	if len(got) != len(want) {
		t.Fatalf("RunTick() calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RunTick() calls = %v, want %v", got, want)
		}
	}
}

func TestDaemon_RunTickContinuesAfterError(t *testing.T) {
	fake := &fakeLifecycle{activateErr: errors.New("db down")}
	daemon := NewDaemon(fake, fake, clock.System(), time.Second, discardLogger())

	daemon.RunTick(context.Background())

	// A failed activation pass must not stop the completion and sweep passes.
	got := fake.callLog()
	if len(got) != 3 {
		t.Errorf("RunTick() ran %d passes after error, want 3 (%v)", len(got), got)
	}
}

func TestDaemon_StartRunsImmediatePass(t *testing.T) {
	fake := &fakeLifecycle{}
	daemon := NewDaemon(fake, fake, clock.System(), time.Hour, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		daemon.Start(ctx)
		close(done)
	}()

	// With an hour-long interval, any calls observed come from the immediate
	// startup pass.
	deadline := time.After(2 * time.Second)
	for len(fake.callLog()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("startup pass did not run, calls = %v", fake.callLog())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after context cancellation")
	}
}

func TestNewDaemon_DefaultInterval(t *testing.T) {
	daemon := NewDaemon(&fakeLifecycle{}, &fakeLifecycle{}, clock.System(), 0, discardLogger())
	if daemon.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", daemon.interval, DefaultInterval)
	}
}
