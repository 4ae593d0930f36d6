// Package mqtt runs the MQTT side of a bridge session: it owns the broker
// connection, announces liveness and accepts commands from the host.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/command"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
	pkgmqtt "github.com/autopeer-io/fordpass-bridge/pkg/mqtt"
	"github.com/autopeer-io/fordpass-bridge/pkg/mqtt/topic"
)

// ShutdownTimeout bounds the offline announcement and the disconnect.
const ShutdownTimeout = 5 * time.Second

// Commands runs a named command to its outcome.
type Commands interface {
	Dispatch(ctx context.Context, name string, params *state.Node) (command.Outcome, error)
}

// Announcer publishes the liveness flag of the bridge.
type Announcer interface {
	SetOnline(ctx context.Context, online bool) error
}

// CommandRequest is the payload of {root}/command/{vin}.
type CommandRequest struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Params *state.Node `json:"params,omitempty"`
}

// CommandResult is the payload of {root}/command-result/{vin}.
type CommandResult struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Success   bool            `json:"success"`
	Outcome   command.Outcome `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type Option func(*Server)

func WithClock(c clock.PassiveClock) Option { return func(s *Server) { s.clock = c } }

func WithLogger(l log.Logger) Option { return func(s *Server) { s.log = l } }

// Server implements the MQTT ingress layer of one vehicle.
type Server struct {
	client    pkgmqtt.Client
	topics    *topic.Builder
	vin       string
	cmds      Commands
	announcer Announcer
	clock     clock.PassiveClock
	log       log.Logger

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// NewServer creates the MQTT server of vin. announcer may be nil.
func NewServer(client pkgmqtt.Client, builder *topic.Builder, vin string, cmds Commands, announcer Announcer, opts ...Option) *Server {
	s := &Server{
		client:    client,
		topics:    builder,
		vin:       vin,
		cmds:      cmds,
		announcer: announcer,
		clock:     clock.RealClock{},
		log:       log.WithName("mqtt"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start connects to the broker, announces the bridge online and accepts
// commands until ctx ends. Running commands are awaited before the offline
// flag is published and the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt client: %w", err)
	}

	defer func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.inflight.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		if s.announcer != nil {
			if err := s.announcer.SetOnline(shutdownCtx, false); err != nil {
				s.log.Error(err, "Failed to announce offline")
			}
		}
		s.log.Info("Disconnecting MQTT client")
		s.client.Disconnect(shutdownCtx)
	}()

	s.log.Info("Waiting for MQTT connection")
	if err := s.client.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("await mqtt connection: %w", err)
	}
	s.log.Info("MQTT connected")

	if s.announcer != nil {
		if err := s.announcer.SetOnline(ctx, true); err != nil {
			s.log.Error(err, "Failed to announce online")
		}
	}

	if err := s.subscribe(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (s *Server) subscribe(ctx context.Context) error {
	const qos = 1

	subscriptions := map[string]HandlerFunc{
		paths.Command: JSONHandler(s.handleCommand),
	}

	for segment, handler := range subscriptions {
		fullTopic := s.topics.Build(segment, s.vin)
		if err := s.client.Subscribe(ctx, fullTopic, qos, func(_ context.Context, _ string, p []byte) {
			// Commands outlive the delivery callback, so they run on the server context.
			if !s.track() {
				return
			}
			defer s.inflight.Done()
			if err := handler(ctx, p); err != nil {
				s.log.Error(err, "Handler execution failed", "topic", fullTopic)
			}
		}); err != nil {
			return fmt.Errorf("failed to subscribe to topic: %s, err: %w", fullTopic, err)
		}
	}
	return nil
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) handleCommand(ctx context.Context, req *CommandRequest) error {
	s.log.Info("Command requested", "id", req.ID, "command", req.Name)

	outcome, err := s.cmds.Dispatch(ctx, req.Name, req.Params)
	result := CommandResult{
		ID:        req.ID,
		Name:      req.Name,
		Success:   err == nil && outcome.Result == command.Succeeded,
		Outcome:   outcome,
		Timestamp: s.clock.Now().Unix(),
	}
	if err != nil {
		result.Error = err.Error()
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := s.client.Publish(pubCtx, s.topics.Build(paths.CommandResult, s.vin), 1, false, payload); err != nil {
		return fmt.Errorf("publish command result: %w", err)
	}
	return nil
}
