package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerStopsAllOnFailure(t *testing.T) {
	boom := errors.New("boom")
	stopped := make(chan struct{})

	m := NewManager(
		ServerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}),
	)
	m.Add(ServerFunc(func(context.Context) error { return boom }))

	if err := m.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Start = %v, want boom", err)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sibling server was not stopped")
	}
}

func TestManagerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(ServerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("manager did not return after cancel")
	}
}
