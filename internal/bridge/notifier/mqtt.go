// Package notifier publishes the vehicle state document to an MQTT broker.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
	pkgmqtt "github.com/autopeer-io/fordpass-bridge/pkg/mqtt"
	"github.com/autopeer-io/fordpass-bridge/pkg/mqtt/topic"
	"github.com/autopeer-io/fordpass-bridge/pkg/options"
)

// PublishTimeout bounds a single publish issued from a state callback.
const PublishTimeout = 10 * time.Second

// ReauthEvent is the payload published when the account needs a new login.
type ReauthEvent struct {
	VIN       string `json:"vin"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// OnlineEvent is the payload of the liveness topic.
type OnlineEvent struct {
	Online bool `json:"online"`
	// Timestamp is omitted from the broker-held will and reconnect flags.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Option configures an MQTT notifier.
type Option func(*MQTT)

func WithClock(c clock.PassiveClock) Option { return func(n *MQTT) { n.clock = c } }

func WithLogger(l log.Logger) Option { return func(n *MQTT) { n.log = l } }

// MQTT is the production synchronizer.Sink. Snapshots are published retained
// so late subscribers receive the last known state.
type MQTT struct {
	client pkgmqtt.Client
	topics *topic.Builder
	vin    string
	clock  clock.PassiveClock
	log    log.Logger
}

// NewMQTT returns a notifier publishing through client.
func NewMQTT(client pkgmqtt.Client, topics *topic.Builder, vin string, opts ...Option) *MQTT {
	n := &MQTT{
		client: client,
		topics: topics,
		vin:    vin,
		clock:  clock.RealClock{},
		log:    log.WithName("notifier"),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.WithValues("vin", vin)
	return n
}

// ClientConfig derives the broker configuration for the bridge of vin. An empty
// client id is replaced by a generated one, and {root}/online/{vin} becomes the
// availability topic.
func ClientConfig(opts *options.MqttOptions, vin string) (*pkgmqtt.ClientConfig, error) {
	cfg := opts.ToClientConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("fordpass-bridge-%s-%s", vin, uuid.NewString()[:8])
	}

	online, err := json.Marshal(OnlineEvent{Online: true})
	if err != nil {
		return nil, err
	}
	offline, err := json.Marshal(OnlineEvent{Online: false})
	if err != nil {
		return nil, err
	}
	cfg.Availability = &pkgmqtt.Availability{
		Topic:   topic.NewBuilder(opts.TopicRoot).Build(paths.Online, vin),
		Online:  online,
		Offline: offline,
	}
	cfg.Logger = log.WithName("mqtt").WithValues("vin", vin)

	return cfg, nil
}

// OnStateUpdated publishes snapshot to {root}/state/{vin}.
func (n *MQTT) OnStateUpdated(snapshot *state.Node) {
	if snapshot == nil {
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		n.log.Error(err, "Failed to encode state snapshot")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
	defer cancel()

	if err := n.client.Publish(ctx, n.topics.Build(paths.State, n.vin), 1, true, payload); err != nil {
		n.log.Error(err, "Failed to publish state snapshot")
		return
	}
	n.log.Debug("Published state snapshot", "bytes", len(payload))
}

// PublishReauth announces that the stored credentials can no longer be refreshed.
func (n *MQTT) PublishReauth(ctx context.Context, reason string) error {
	payload, err := json.Marshal(ReauthEvent{
		VIN:       n.vin,
		Reason:    reason,
		Timestamp: n.clock.Now().Unix(),
	})
	if err != nil {
		return err
	}

	if err := n.client.Publish(ctx, n.topics.Build(paths.Reauth, n.vin), 1, false, payload); err != nil {
		return fmt.Errorf("publish reauth event: %w", err)
	}
	return nil
}

// SetOnline publishes the retained liveness flag.
func (n *MQTT) SetOnline(ctx context.Context, online bool) error {
	payload, err := json.Marshal(OnlineEvent{Online: online, Timestamp: n.clock.Now().Unix()})
	if err != nil {
		return err
	}

	if err := n.client.Publish(ctx, n.topics.Build(paths.Online, n.vin), 1, true, payload); err != nil {
		return fmt.Errorf("publish online flag: %w", err)
	}
	return nil
}
