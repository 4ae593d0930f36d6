package notifier

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	pkgmqtt "github.com/autopeer-io/fordpass-bridge/pkg/mqtt"
	"github.com/autopeer-io/fordpass-bridge/pkg/mqtt/topic"
	"github.com/autopeer-io/fordpass-bridge/pkg/options"
)

const testVIN = "WF0TK3R7XPMA00001"

type published struct {
	Topic   string
	QoS     int
	Retain  bool
	Payload string
}

type fakeClient struct {
	mu           sync.Mutex
	started      bool
	disconnected bool
	messages     []published
}

var _ pkgmqtt.Client = (*fakeClient)(nil)

func (c *fakeClient) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeClient) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Publish(_ context.Context, t string, qos int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{Topic: t, QoS: qos, Retain: retain, Payload: string(payload)})
	return nil
}

func (c *fakeClient) Subscribe(context.Context, string, int, pkgmqtt.MessageHandler) error {
	return nil
}

func (c *fakeClient) Unsubscribe(context.Context, string) error { return nil }

func (c *fakeClient) AwaitConnection(context.Context) error { return nil }

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

var now = time.Date(2025, 6, 5, 21, 30, 0, 0, time.UTC)

func newTestNotifier() (*MQTT, *fakeClient) {
	c := &fakeClient{}
	n := NewMQTT(c, topic.NewBuilder("fordpass/v1"), testVIN, WithClock(clocktesting.NewFakePassiveClock(now)))
	return n, c
}

func TestOnStateUpdated(t *testing.T) {
	n, c := newTestNotifier()

	n.OnStateUpdated(state.MustParse(`{"metrics":{"odometer":{"value":42}}}`))
	n.OnStateUpdated(nil)

	want := []published{{
		Topic:   "fordpass/v1/state/" + testVIN,
		QoS:     1,
		Retain:  true,
		Payload: `{"metrics":{"odometer":{"value":42}}}`,
	}}
	if diff := cmp.Diff(want, c.sent()); diff != "" {
		t.Errorf("published (-want +got):\n%s", diff)
	}
}

func TestPublishReauth(t *testing.T) {
	n, c := newTestNotifier()

	if err := n.PublishReauth(context.Background(), "refresh token rejected"); err != nil {
		t.Fatalf("PublishReauth: %v", err)
	}

	msgs := c.sent()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Topic != "fordpass/v1/reauth/"+testVIN || msgs[0].Retain {
		t.Errorf("unexpected message: %+v", msgs[0])
	}

	var got ReauthEvent
	if err := json.Unmarshal([]byte(msgs[0].Payload), &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	want := ReauthEvent{VIN: testVIN, Reason: "refresh token rejected", Timestamp: now.Unix()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload (-want +got):\n%s", diff)
	}
}

func TestSetOnline(t *testing.T) {
	n, c := newTestNotifier()

	if err := n.SetOnline(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if err := n.SetOnline(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	want := []published{
		{Topic: "fordpass/v1/online/" + testVIN, QoS: 1, Retain: true, Payload: `{"online":true,"timestamp":1749159000}`},
		{Topic: "fordpass/v1/online/" + testVIN, QoS: 1, Retain: true, Payload: `{"online":false,"timestamp":1749159000}`},
	}
	if diff := cmp.Diff(want, c.sent()); diff != "" {
		t.Errorf("published (-want +got):\n%s", diff)
	}
}

func TestClientConfig(t *testing.T) {
	opts := options.NewMqttOptions()
	opts.Enabled = true

	cfg, err := ClientConfig(opts, testVIN)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if !strings.HasPrefix(cfg.ClientID, "fordpass-bridge-"+testVIN+"-") {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}
	want := &pkgmqtt.Availability{
		Topic:   "fordpass/v1/online/" + testVIN,
		Online:  []byte(`{"online":true}`),
		Offline: []byte(`{"online":false}`),
	}
	if diff := cmp.Diff(want, cfg.Availability); diff != "" {
		t.Errorf("availability (-want +got):\n%s", diff)
	}
	if cfg.Logger == nil {
		t.Error("no logger configured")
	}

	opts.ClientID = "fixed"
	cfg, err = ClientConfig(opts, testVIN)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if cfg.ClientID != "fixed" {
		t.Errorf("explicit ClientID overwritten: %q", cfg.ClientID)
	}
}
