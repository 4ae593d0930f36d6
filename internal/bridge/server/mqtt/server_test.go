package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/command"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	pkgmqtt "github.com/autopeer-io/fordpass-bridge/pkg/mqtt"
	"github.com/autopeer-io/fordpass-bridge/pkg/mqtt/topic"
)

const testVIN = "WF0TK3R7XPMA00001"

type published struct {
	Topic   string
	Payload string
}

type fakeClient struct {
	mu           sync.Mutex
	disconnected bool
	handlers     map[string]pkgmqtt.MessageHandler
	messages     []published
}

var _ pkgmqtt.Client = (*fakeClient)(nil)

func (c *fakeClient) Start(context.Context) error { return nil }

func (c *fakeClient) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Publish(_ context.Context, t string, _ int, _ bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{Topic: t, Payload: string(payload)})
	return nil
}

func (c *fakeClient) Subscribe(_ context.Context, t string, _ int, h pkgmqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = map[string]pkgmqtt.MessageHandler{}
	}
	c.handlers[t] = h
	return nil
}

func (c *fakeClient) Unsubscribe(context.Context, string) error { return nil }

func (c *fakeClient) AwaitConnection(context.Context) error { return nil }

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) handler(t string) pkgmqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[t]
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

type fakeCommands struct {
	mu     sync.Mutex
	calls  []string
	params []*state.Node
}

func (f *fakeCommands) Dispatch(_ context.Context, name string, params *state.Node) (command.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.params = append(f.params, params)
	switch name {
	case "lock":
		return command.Outcome{CorrelationID: "c1", Result: command.Succeeded}, nil
	case "unlock":
		return command.Outcome{CorrelationID: "c2", Result: command.Failed, Detail: "DOOR_OPEN"}, command.ErrCommandFailed
	default:
		return command.Outcome{Result: command.Rejected}, command.ErrUnknownCommand
	}
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	flags []bool
}

func (a *fakeAnnouncer) SetOnline(_ context.Context, online bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flags = append(a.flags, online)
	return nil
}

var now = time.Date(2025, 6, 5, 21, 30, 0, 0, time.UTC)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestServerCommands(t *testing.T) {
	client := &fakeClient{}
	cmds := &fakeCommands{}
	ann := &fakeAnnouncer{}
	s := NewServer(client, topic.NewBuilder("fordpass/v1"), testVIN, cmds, ann,
		WithClock(clocktesting.NewFakePassiveClock(now)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	commandTopic := "fordpass/v1/command/" + testVIN
	waitFor(t, "subscription", func() bool { return client.handler(commandTopic) != nil })

	h := client.handler(commandTopic)
	h(context.Background(), commandTopic, []byte(`{"id":"r1","name":"lock"}`))
	h(context.Background(), commandTopic, []byte(`{"id":"r2","name":"unlock","params":{"force":true}}`))
	h(context.Background(), commandTopic, []byte(`{"id":"r3","name":"fly"}`))
	h(context.Background(), commandTopic, []byte(`not json`))

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}

	results := map[string]CommandResult{}
	for _, m := range client.sent() {
		if m.Topic != "fordpass/v1/command-result/"+testVIN {
			t.Errorf("unexpected topic %q", m.Topic)
			continue
		}
		var r CommandResult
		if err := json.Unmarshal([]byte(m.Payload), &r); err != nil {
			t.Fatal(err)
		}
		results[r.ID] = r
	}

	want := map[string]CommandResult{
		"r1": {ID: "r1", Name: "lock", Success: true, Outcome: command.Outcome{CorrelationID: "c1", Result: command.Succeeded}, Timestamp: now.Unix()},
		"r2": {ID: "r2", Name: "unlock", Outcome: command.Outcome{CorrelationID: "c2", Result: command.Failed, Detail: "DOOR_OPEN"}, Error: command.ErrCommandFailed.Error(), Timestamp: now.Unix()},
		"r3": {ID: "r3", Name: "fly", Outcome: command.Outcome{Result: command.Rejected}, Error: command.ErrUnknownCommand.Error(), Timestamp: now.Unix()},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}

	if got := cmds.params[1].Get("force"); got == nil || !got.Truthy() {
		t.Errorf("params not forwarded: %v", cmds.params[1])
	}
	if diff := cmp.Diff([]bool{true, false}, ann.flags); diff != "" {
		t.Errorf("liveness (-want +got):\n%s", diff)
	}
	if !client.disconnected {
		t.Error("client not disconnected")
	}
}

func TestServerIgnoresCommandsWhileClosing(t *testing.T) {
	client := &fakeClient{}
	cmds := &fakeCommands{}
	s := NewServer(client, topic.NewBuilder("fordpass/v1"), testVIN, cmds, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	commandTopic := "fordpass/v1/command/" + testVIN
	waitFor(t, "subscription", func() bool { return client.handler(commandTopic) != nil })
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	client.handler(commandTopic)(context.Background(), commandTopic, []byte(`{"id":"late","name":"lock"}`))
	if len(cmds.calls) != 0 || len(client.sent()) != 0 {
		t.Errorf("command handled after shutdown: calls=%v sent=%v", cmds.calls, client.sent())
	}
}

func TestServerStartFailure(t *testing.T) {
	client := &failingClient{fakeClient: &fakeClient{}}
	s := NewServer(client, topic.NewBuilder("fordpass/v1"), testVIN, &fakeCommands{}, nil)
	if err := s.Start(context.Background()); !errors.Is(err, errBroker) {
		t.Fatalf("err = %v, want %v", err, errBroker)
	}
	if !client.disconnected {
		t.Error("client not disconnected after a failed connection")
	}
}

var errBroker = errors.New("broker unreachable")

type failingClient struct {
	*fakeClient
}

func (c *failingClient) AwaitConnection(context.Context) error { return errBroker }
