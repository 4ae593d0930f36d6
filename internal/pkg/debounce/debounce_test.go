package debounce

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduleLastWins(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	g := NewGroup(clk)
	defer g.Stop()

	var first, second atomic.Int32
	g.Schedule("refresh", 30*time.Second, func(context.Context) { first.Add(1) })
	clk.Step(10 * time.Second)
	g.Schedule("refresh", 30*time.Second, func(context.Context) { second.Add(1) })

	clk.Step(25 * time.Second)
	if !g.Pending("refresh") {
		t.Fatal("replacement task should still be pending")
	}

	clk.Step(5 * time.Second)
	waitFor(t, func() bool { return second.Load() == 1 })
	if first.Load() != 0 {
		t.Errorf("replaced task ran %d times", first.Load())
	}
	if g.Pending("refresh") {
		t.Error("task still pending after it ran")
	}
}

func TestCancel(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	g := NewGroup(clk)
	defer g.Stop()

	var ran atomic.Bool
	g.Schedule("full", 30*time.Second, func(context.Context) { ran.Store(true) })
	if !g.Cancel("full") {
		t.Fatal("Cancel reported no pending task")
	}
	if g.Cancel("full") {
		t.Fatal("second Cancel reported a pending task")
	}

	clk.Step(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled task ran")
	}
}

func TestIndependentNames(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	g := NewGroup(clk)
	defer g.Stop()

	var a, b atomic.Int32
	g.Schedule("a", 5*time.Second, func(context.Context) { a.Add(1) })
	g.Schedule("b", 180*time.Second, func(context.Context) { b.Add(1) })

	clk.Step(5 * time.Second)
	waitFor(t, func() bool { return a.Load() == 1 })
	if !g.Pending("b") {
		t.Error("b should be pending")
	}
}

func TestStop(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	g := NewGroup(clk)

	started := make(chan struct{})
	var cancelled atomic.Bool
	g.Schedule("long", time.Second, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	g.Schedule("never", time.Hour, func(context.Context) { t.Error("pending task ran after Stop") })

	clk.Step(time.Second)
	<-started

	g.Stop()
	if !cancelled.Load() {
		t.Error("running task did not observe cancellation before Stop returned")
	}
	if g.Schedule("late", time.Second, func(context.Context) {}) {
		t.Error("Schedule accepted a task after Stop")
	}
	clk.Step(2 * time.Hour)
}

func TestCancelRunning(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	g := NewGroup(clk)
	defer g.Stop()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	g.Schedule("full", time.Second, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	clk.Step(time.Second)
	<-started

	if !g.Cancel("full") {
		t.Fatal("Cancel did not see the running task")
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("running task was not cancelled")
	}
}
