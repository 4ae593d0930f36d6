// Package debounce runs named, delayed tasks where the last trigger wins.
package debounce

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Func is the work scheduled under a name. The context is cancelled when the
// task is replaced or cancelled, and when the group is stopped.
type Func func(ctx context.Context)

type task struct {
	timer clock.Timer
	gen   uint64
}

type activeTask struct {
	gen    uint64
	cancel context.CancelFunc
}

// Group owns a set of named delayed tasks. Scheduling a name that is pending
// or running replaces it. Stop cancels everything and rejects later schedules.
type Group struct {
	clock clock.WithDelayedExecution

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   map[string]*task
	active  map[string]activeTask
	gen     uint64
	running sync.WaitGroup
	stopped bool
}

// NewGroup creates a Group using clk for its timers.
func NewGroup(clk clock.WithDelayedExecution) *Group {
	if clk == nil {
		clk = clock.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		clock:  clk,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
		active: make(map[string]activeTask),
	}
}

// Schedule runs fn after delay under name, cancelling any pending or running
// task with the same name. It returns false once the group is stopped.
func (g *Group) Schedule(name string, delay time.Duration, fn Func) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return false
	}
	g.dropLocked(name)

	g.gen++
	gen := g.gen
	t := &task{gen: gen}
	// The callback only hands off to a goroutine: fake clocks invoke it while
	// holding their own lock.
	t.timer = g.clock.AfterFunc(delay, func() {
		go g.fire(name, gen, fn)
	})
	g.tasks[name] = t
	return true
}

func (g *Group) fire(name string, gen uint64, fn Func) {
	g.mu.Lock()
	t, ok := g.tasks[name]
	if !ok || t.gen != gen || g.stopped {
		g.mu.Unlock()
		return
	}
	delete(g.tasks, name)
	ctx, cancel := context.WithCancel(g.ctx)
	g.active[name] = activeTask{gen: gen, cancel: cancel}
	g.running.Add(1)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if a, ok := g.active[name]; ok && a.gen == gen {
			delete(g.active, name)
		}
		g.mu.Unlock()
		cancel()
		g.running.Done()
	}()
	fn(ctx)
}

// dropLocked stops the pending timer and cancels the running instance of name.
func (g *Group) dropLocked(name string) bool {
	found := false
	if t, ok := g.tasks[name]; ok {
		t.timer.Stop()
		delete(g.tasks, name)
		found = true
	}
	if a, ok := g.active[name]; ok {
		a.cancel()
		delete(g.active, name)
		found = true
	}
	return found
}

// Cancel drops the pending task called name, cancels it if it is running, and
// reports whether there was one.
func (g *Group) Cancel(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropLocked(name)
}

// Pending reports whether a task called name is waiting to run.
func (g *Group) Pending(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.tasks[name]
	return ok
}

// Stop cancels every pending task, cancels the context handed to running ones
// and waits for them to return.
func (g *Group) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	for name := range g.tasks {
		g.dropLocked(name)
	}
	g.mu.Unlock()

	g.cancel()
	g.running.Wait()
}
