package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

// Availability is the retained liveness flag of a bridge. The broker publishes
// Offline as the last will when the bridge drops off; the client restores
// Online after every reconnect. Announcing the first connection and a clean
// shutdown is left to the owner.
type Availability struct {
	Topic   string
	Online  []byte
	Offline []byte
}

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// SessionExpiry in seconds. Zero ends the session when the connection closes.
	SessionExpiry uint32

	// ConnectTimeout for each connection attempt. Default is 5s.
	ConnectTimeout time.Duration

	// ReconnectDelay and MaxReconnectDelay bound the exponential backoff
	// between connection attempts. Defaults are 3s and 2m.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	CleanStart         bool
	InsecureSkipVerify bool

	Availability *Availability

	// Logger defaults to the global logger named "mqtt".
	Logger log.Logger
}

func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("mqtt")
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("broker url %q has no host", c.BrokerURL)
	}
	if c.ReconnectDelay < 0 || c.MaxReconnectDelay < 0 {
		return errors.New("reconnect delays must not be negative")
	}
	if c.ReconnectDelay > 0 && c.MaxReconnectDelay > 0 && c.MaxReconnectDelay <= c.ReconnectDelay {
		return fmt.Errorf("max reconnect delay %s must exceed reconnect delay %s", c.MaxReconnectDelay, c.ReconnectDelay)
	}
	if a := c.Availability; a != nil {
		if a.Topic == "" {
			return errors.New("availability topic is required")
		}
		if strings.ContainsAny(a.Topic, "+#") {
			return fmt.Errorf("availability topic %q contains a wildcard", a.Topic)
		}
	}
	return nil
}
