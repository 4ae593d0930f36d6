package auth

import (
	"sync"
	"testing"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
)

func TestLockKey(t *testing.T) {
	if got := LockKey("a@b.c", "deu"); got != "a@b.cµ@µdeu" {
		t.Errorf("LockKey = %q", got)
	}
}

func TestKeyedLock(t *testing.T) {
	l := NewKeyedLock()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("k")
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("%d holders at once, want 1", maxSeen)
	}

	// Distinct keys never block each other.
	unlockA := l.Lock("a")
	unlockB := l.Lock("b")
	unlockB()
	unlockA()
}

func TestCounterRegistry(t *testing.T) {
	r := NewCounterRegistry()
	for i := 1; i <= 3; i++ {
		if got := r.Increment("v", transport.FamilyFord); got != i {
			t.Fatalf("Increment = %d, want %d", got, i)
		}
	}
	if r.Get("v", transport.FamilyAutonomic) != 0 {
		t.Error("families are not independent")
	}
	if r.Get("w", transport.FamilyFord) != 0 {
		t.Error("subjects are not independent")
	}
	if !Exceeded(r.Escalate("v", transport.FamilyAutonomic)) {
		t.Error("Escalate did not exceed the limit")
	}
	r.ResetAll("v")
	if r.Get("v", transport.FamilyFord)+r.Get("v", transport.FamilyAutonomic) != 0 {
		t.Error("ResetAll left counts behind")
	}
}
