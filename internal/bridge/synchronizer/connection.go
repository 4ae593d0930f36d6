package synchronizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/fordpass-bridge/internal/pkg/util/fsm"
)

// Connection states.
const (
	StateDisconnected    = "disconnected"
	StateConnecting      = "connecting"
	StateStreaming       = "streaming"
	StatePollingFallback = "polling_fallback"
)

// Connection events.
const (
	EventConnect    = "connect"
	EventConnected  = "connected"
	EventDisconnect = "disconnect"
	EventFallback   = "fallback"
)

var (
	errCommunication = errors.New("communication with the vendor is failing")
	errNoMetrics     = errors.New("no metrics yet, stream needs a polled document first")
	errNoRelayToken  = errors.New("no relay token")
)

func newConnectionFSM(s *Synchronizer) *fsm.FSM {
	return fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: EventConnect, Src: []string{StateDisconnected, StatePollingFallback}, Dst: StateConnecting},
			{Name: EventConnected, Src: []string{StateConnecting}, Dst: StateStreaming},
			{Name: EventDisconnect, Src: []string{StateConnecting, StateStreaming}, Dst: StateDisconnected},
			{Name: EventFallback, Src: []string{StateDisconnected, StateConnecting, StateStreaming}, Dst: StatePollingFallback},
		},
		fsm.Callbacks{
			"before_" + EventConnect: fsmutil.WrapEvent(s.guardConnect),
			"enter_state": func(_ context.Context, e *fsm.Event) {
				connected := 0.0
				if e.Dst == StateStreaming {
					connected = 1
				}
				metrics.StreamConnected.WithLabelValues(s.cfg.VIN).Set(connected)
				s.log.Debug("Connection state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
}

// guardConnect refuses to open a stream the vendor would not serve.
func (s *Synchronizer) guardConnect(_ context.Context, e *fsm.Event) error {
	var reason error
	switch {
	case s.creds.CommError():
		reason = errCommunication
	case s.doc.Len(state.DomainMetrics) == 0:
		reason = errNoMetrics
	case s.creds.RelayToken() == "":
		reason = errNoRelayToken
	}
	if reason != nil {
		e.Cancel(reason)
	}
	return nil
}

// transition fires event and logs real failures. It reports whether the
// state changed.
func (s *Synchronizer) transition(ctx context.Context, event string) bool {
	if !s.fsm.Can(event) {
		return false
	}
	err := s.fsm.Event(ctx, event)
	if fsmutil.IsRealError(err) {
		s.log.Error(err, "Connection transition failed", "event", event)
		return false
	}
	return err == nil
}

// connect moves to connecting, or reports why the guard refused.
func (s *Synchronizer) connect(ctx context.Context) error {
	if !s.fsm.Can(EventConnect) {
		return fmt.Errorf("cannot connect from state %s", s.fsm.Current())
	}
	err := s.fsm.Event(ctx, EventConnect)
	var canceled fsm.CanceledError
	if errors.As(err, &canceled) {
		if canceled.Err != nil {
			return canceled.Err
		}
		return errors.New("connect refused")
	}
	return err
}
