package synchronizer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/stream"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/metrics"
)

// attempt is one running connect-and-read cycle.
type attempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startAttempt cancels the previous attempt and starts a new one.
func (s *Synchronizer) startAttempt(parent context.Context) {
	s.stopAttempt()

	ctx, cancel := context.WithCancel(parent)
	a := &attempt{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.attempt = a
	s.mu.Unlock()

	go func() {
		defer close(a.done)
		defer cancel()
		if err := s.stream(ctx); err != nil && ctx.Err() == nil {
			s.log.Info("Telemetry stream ended", "error", err.Error())
		}
	}()
}

// stopAttempt cancels the running attempt and waits for it to return.
func (s *Synchronizer) stopAttempt() {
	s.mu.Lock()
	a := s.attempt
	s.attempt = nil
	s.mu.Unlock()
	if a == nil {
		return
	}
	a.cancel()
	<-a.done
}

// stream connects and reads frames until the stream ends or ctx is cancelled.
func (s *Synchronizer) stream(ctx context.Context) error {
	if err := s.creds.EnsureValid(ctx); err != nil {
		s.transition(ctx, EventFallback)
		return fmt.Errorf("ensuring tokens: %w", err)
	}
	if err := s.connect(ctx); err != nil {
		s.transition(ctx, EventFallback)
		return fmt.Errorf("stream not started: %w", err)
	}
	defer s.transition(context.WithoutCancel(ctx), EventDisconnect)

	relay := s.creds.RelayToken()
	conn, err := s.dial(ctx, relay)
	if err != nil {
		return fmt.Errorf("dialing telemetry stream: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.mu.Lock()
	s.inUseToken = relay
	s.lastFrame = s.clock.Now()
	s.mu.Unlock()
	s.transition(ctx, EventConnected)
	s.log.Info("Telemetry stream connected")

	for {
		frame, err := conn.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, stream.ErrClosed) {
				return err
			}
			s.log.Info("Skipping undecodable frame", "error", err.Error())
			continue
		}

		s.mu.Lock()
		s.lastFrame = s.clock.Now()
		s.mu.Unlock()
		metrics.StreamFramesTotal.WithLabelValues(s.cfg.VIN, frame.Kind.String()).Inc()

		if err := s.handleFrame(ctx, conn, frame); err != nil {
			return err
		}
	}
}

// handleFrame processes one frame. A returned error ends the stream.
func (s *Synchronizer) handleFrame(ctx context.Context, conn Stream, frame stream.Frame) error {
	switch frame.Kind {
	case stream.FrameEmpty:
		return s.housekeeping(ctx, conn)
	case stream.FrameStatus:
		if frame.Status == 202 {
			s.mu.Lock()
			s.inUseToken = s.creds.RelayToken()
			s.mu.Unlock()
			s.log.Debug("Stream accepted the new access token")
		} else {
			s.log.Debug("Stream status", "status", frame.Status, "body", frame.Body.String())
		}
	case stream.FrameError:
		return fmt.Errorf("stream reported an error: %s", frame.Body)
	case stream.FrameData:
		if s.log.Enabled(zapcore.DebugLevel) {
			s.log.Debug("Stream data", "bytes", len(frame.Body.String()))
		}
		s.handleData(ctx, frame.Body)
		s.dump.Dump(ctx, "stream", []byte(frame.Body.String()))
		s.notify()
	default:
		s.log.Info("Unexpected stream frame", "body", frame.Body.String())
	}
	return nil
}

// housekeeping runs on every keep-alive. It refreshes stale messages and
// hands a renewed relay token to the stream.
func (s *Synchronizer) housekeeping(ctx context.Context, conn Stream) error {
	s.refreshMessagesIfDue(ctx)

	if err := s.creds.RefreshRelayIfExpiring(ctx, RelayRefreshMargin); err != nil {
		s.log.Info("Relay token refresh failed", "error", err.Error())
	}
	relay := s.creds.RelayToken()
	if relay == "" {
		return errNoRelayToken
	}
	s.mu.Lock()
	pending := relay != s.inUseToken
	s.mu.Unlock()
	if pending {
		s.log.Debug("Handing renewed access token to the stream")
		if err := conn.SendAccessToken(relay); err != nil {
			return fmt.Errorf("sending access token: %w", err)
		}
	}
	return nil
}

func (s *Synchronizer) refreshMessagesIfDue(ctx context.Context) {
	interval := max(s.cfg.PollInterval, MinMessageInterval)
	s.mu.Lock()
	due := s.clock.Since(s.lastMessages) > interval
	s.mu.Unlock()
	if !due {
		return
	}
	if err := s.RefreshMessages(ctx); err != nil {
		s.log.Info("Fetching messages failed", "error", err.Error())
		if s.creds.CommError() {
			s.mu.Lock()
			s.lastMessages = s.clock.Now()
			s.mu.Unlock()
		}
	}
}

// handleData merges a partial document in the order states, events,
// messages, metrics. updateTime is only taken from frames without states.
func (s *Synchronizer) handleData(ctx context.Context, data *state.Node) {
	states := data.Get(state.DomainStates)
	if states.IsObject() {
		states = state.FlattenCommands(states.Clone())
		s.applyStates(ctx, states)
		s.doc.Merge(state.Update{Domain: state.DomainStates, Value: states})
	}

	var updates []state.Update
	for _, domain := range []string{state.DomainEvents, state.DomainMessages, state.DomainMetrics} {
		if v := data.Get(domain); v != nil {
			updates = append(updates, state.Update{Domain: domain, Value: v})
		}
	}
	if states == nil {
		if v := data.Get(state.DomainUpdateTime); v != nil {
			updates = append(updates, state.Update{Domain: state.DomainUpdateTime, Value: v})
		}
	}
	s.doc.Merge(updates...)
	if data.Has(state.DomainMessages) {
		s.mu.Lock()
		s.lastMessages = s.clock.Now()
		s.mu.Unlock()
	}

	s.evaluateTransitions()
	s.markFresh()
}
