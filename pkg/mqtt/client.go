package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/fordpass-bridge/pkg/log"
	"github.com/autopeer-io/fordpass-bridge/pkg/mqtt/topic"
)

// ErrNotStarted is returned by operations invoked before Start.
var ErrNotStarted = errors.New("mqtt client not started")

type client struct {
	cfg *ClientConfig
	log log.Logger
	cm  *autopaho.ConnectionManager

	// handlerCtx is passed to message handlers and cancelled by Disconnect.
	handlerCtx     context.Context
	cancelHandlers context.CancelFunc

	connected atomic.Bool
	sessions  atomic.Int32

	mu     sync.RWMutex
	routes map[string]route
}

type route struct {
	qos     byte
	handler MessageHandler
}

// NewClient returns a Client for the broker in cfg. Defaults are filled into cfg.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config is required")
	}
	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		cfg:            cfg,
		log:            cfg.Logger.WithValues("broker", cfg.BrokerURL, "clientID", cfg.ClientID),
		handlerCtx:     ctx,
		cancelHandlers: cancel,
		routes:         map[string]route{},
	}, nil
}

func (c *client) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL) // Already validated

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff: autopaho.NewExponentialBackoff(
			c.cfg.ReconnectDelay, c.cfg.MaxReconnectDelay, c.cfg.ReconnectDelay, 2),
		ConnectTimeout:  c.cfg.ConnectTimeout,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		TlsCfg: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		WillMessage: c.will(),
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.dispatch,
			},
		},
		OnConnectionUp:   c.onConnectionUp,
		OnConnectionDown: c.onConnectionDown,
		OnConnectError:   c.onConnectError,
	}

	c.log.Info("Starting MQTT client")
	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}
	c.cm = cm
	return nil
}

func (c *client) Disconnect(ctx context.Context) {
	c.cancelHandlers()
	if c.cm == nil {
		return
	}
	_ = c.cm.Disconnect(ctx)
	c.connected.Store(false)
	c.log.Info("MQTT client disconnected")
}

func (c *client) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("cannot publish to filter %q", topic)
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *client) Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error {
	if c.cm == nil {
		return ErrNotStarted
	}

	// Kept even when the SUBSCRIBE fails so the next connection restores it.
	c.mu.Lock()
	c.routes[filter] = route{qos: byte(qos), handler: handler}
	c.mu.Unlock()

	if _, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: byte(qos)}},
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	c.log.Info("Subscribed", "topic", filter)
	return nil
}

func (c *client) Unsubscribe(ctx context.Context, filter string) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	c.mu.Lock()
	delete(c.routes, filter)
	c.mu.Unlock()

	_, err := c.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	return err
}

func (c *client) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *client) IsConnected() bool {
	return c.connected.Load()
}

func (c *client) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	n := c.sessions.Add(1)
	c.log.Info("MQTT connection established", "connection", n)
	if n == 1 {
		return
	}
	// autopaho must not be blocked from this callback.
	go c.restore(cm)
}

// restore renews the subscriptions and the online flag after a reconnect.
func (c *client) restore(cm *autopaho.ConnectionManager) {
	ctx, cancel := context.WithTimeout(c.handlerCtx, c.cfg.ConnectTimeout)
	defer cancel()

	if subs := c.subscriptions(); len(subs) > 0 {
		if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
			c.log.Error(err, "Failed to restore subscriptions", "count", len(subs))
		}
	}
	if a := c.cfg.Availability; a != nil {
		if _, err := cm.Publish(ctx, &paho.Publish{Topic: a.Topic, QoS: 1, Retain: true, Payload: a.Online}); err != nil {
			c.log.Error(err, "Failed to restore online flag", "topic", a.Topic)
		}
	}
}

func (c *client) subscriptions() []paho.SubscribeOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	subs := make([]paho.SubscribeOptions, 0, len(c.routes))
	for filter, r := range c.routes {
		subs = append(subs, paho.SubscribeOptions{Topic: filter, QoS: r.qos})
	}
	return subs
}

func (c *client) onConnectionDown() bool {
	c.connected.Store(false)
	c.log.Warn("MQTT connection lost, reconnecting")
	return true
}

func (c *client) onConnectError(err error) {
	c.connected.Store(false)
	c.log.Error(err, "MQTT connection failed, retrying")
}

func (c *client) onClientError(err error) {
	c.connected.Store(false)
	c.log.Error(err, "MQTT client error")
}

func (c *client) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.log.Warn("MQTT server requested disconnect", "reason", reason, "code", d.ReasonCode)
}

// dispatch hands an incoming publish to every handler whose filter matches.
// Handlers run on their own goroutine so the paho reader is never blocked.
func (c *client) dispatch(p paho.PublishReceived) (bool, error) {
	name := p.Packet.Topic

	c.mu.RLock()
	var handlers []MessageHandler
	for filter, r := range c.routes {
		if topic.Match(filter, name) {
			handlers = append(handlers, r.handler)
		}
	}
	c.mu.RUnlock()

	if len(handlers) == 0 {
		c.log.Debug("Dropping message on unsubscribed topic", "topic", name)
		return false, nil
	}
	for _, h := range handlers {
		go c.deliver(h, name, p.Packet.Payload)
	}
	return true, nil
}

// deliver runs h, keeping a panicking handler from taking the bridge down.
func (c *client) deliver(h MessageHandler, name string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(fmt.Errorf("%v", r), "Message handler panicked", "topic", name)
		}
	}()
	h(c.handlerCtx, name, payload)
}

func (c *client) will() *paho.WillMessage {
	a := c.cfg.Availability
	if a == nil {
		return nil
	}
	return &paho.WillMessage{Topic: a.Topic, Payload: a.Offline, QoS: 1, Retain: true}
}
