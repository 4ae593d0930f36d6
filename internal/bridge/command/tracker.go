// Package command sends vehicle commands and follows them to a final state.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/metrics"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

// Result is the final classification of a command.
type Result string

const (
	Succeeded    Result = "succeeded"
	Failed       Result = "failed"
	Expired      Result = "expired"
	Undetermined Result = "undetermined"
	Rejected     Result = "rejected"
)

// Outcome reports what became of a command.
type Outcome struct {
	CorrelationID string `json:"correlationId,omitempty"`
	Result        Result `json:"result"`
	// Detail carries the vehicle's error context for failed commands.
	Detail string `json:"detail,omitempty"`
}

// Polling schedule of ExecuteAndConfirm.
const (
	InitialWait     = 2 * time.Second
	MaxAttempts     = 15
	AttemptStep     = 5 * time.Second
	CommErrorDelay  = 60 * time.Second
	commandSuffix   = "Command"
	unknownErrorTag = "UNKNOWN"
)

// Backend submits commands and serves fresh status documents.
type Backend interface {
	Submit(ctx context.Context, call *transport.Call, kind string) (*transport.Response, error)
	Status(ctx context.Context) (*state.Node, error)
}

// Coordinator is the view of the synchronizer the tracker needs.
type Coordinator interface {
	Streaming() bool
	Document() *state.Document
	SuppressStatusUpdates() (release func())
}

// Flags reports whether communication with the vendor is failing.
type Flags interface {
	CommError() bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

func WithClock(c clock.Clock) TrackerOption { return func(t *Tracker) { t.clock = c } }

func WithLogger(l log.Logger) TrackerOption { return func(t *Tracker) { t.log = l } }

// Tracker submits commands and confirms their completion from the vehicle's
// command states.
type Tracker struct {
	backend Backend
	coord   Coordinator
	flags   Flags
	clock   clock.Clock
	log     log.Logger
}

// NewTracker returns a tracker sending through backend.
func NewTracker(backend Backend, coord Coordinator, flags Flags, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		backend: backend,
		coord:   coord,
		flags:   flags,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = log.WithName("command")
	}
	return t
}

// Send submits a request-style command that has no completion state. Any
// 200-205 answer counts as success.
func (t *Tracker) Send(ctx context.Context, name string, call *transport.Call) (Outcome, error) {
	start := t.clock.Now()
	out, err := t.send(ctx, name, call)
	t.observe(name, start, out)
	return out, err
}

func (t *Tracker) send(ctx context.Context, name string, call *transport.Call) (Outcome, error) {
	if _, err := t.backend.Submit(ctx, call, name); err != nil {
		t.log.Info("Command not accepted", "command", name, "error", err.Error())
		return Outcome{Result: Rejected}, fmt.Errorf("%w: %s: %w", ErrCommandRejected, name, err)
	}
	return Outcome{Result: Succeeded}, nil
}

// ExecuteAndConfirm submits a command and, with wait set, polls the command
// states until the vehicle reports a final state or the attempts run out.
func (t *Tracker) ExecuteAndConfirm(ctx context.Context, name string, call *transport.Call, wait bool) (Outcome, error) {
	start := t.clock.Now()
	out, err := t.execute(ctx, name, call, wait)
	t.observe(name, start, out)
	return out, err
}

func (t *Tracker) observe(name string, start time.Time, out Outcome) {
	metrics.CommandsTotal.WithLabelValues(name, string(out.Result)).Inc()
	metrics.CommandLatency.WithLabelValues(name).Observe(t.clock.Since(start).Seconds())
}

func (t *Tracker) execute(ctx context.Context, name string, call *transport.Call, wait bool) (Outcome, error) {
	resp, err := t.backend.Submit(ctx, call, name)
	if err != nil {
		t.log.Info("Command not accepted", "command", name, "error", err.Error())
		return Outcome{Result: Rejected}, fmt.Errorf("%w: %s: %w", ErrCommandRejected, name, err)
	}
	body, err := resp.Node()
	if err != nil {
		return Outcome{Result: Rejected}, fmt.Errorf("%w: %s: %w", ErrCommandRejected, name, err)
	}
	id, ok := correlationID(body)
	if !ok {
		t.log.Warn("No command id in answer", "command", name, "body", body.String())
		return Outcome{Result: Rejected}, fmt.Errorf("%w: %s: no command id in answer", ErrCommandRejected, name)
	}
	if !wait {
		return Outcome{CorrelationID: id, Result: Succeeded}, nil
	}
	return t.confirm(ctx, name, id)
}

// correlationID reads the command reference from the submission answer.
func correlationID(body *state.Node) (string, bool) {
	for _, key := range []string{"id", "commandId", "correlationId"} {
		if body.Has(key) {
			if id := scalarString(body.Get(key)); id != "" {
				return id, true
			}
		}
	}
	return "", false
}

func scalarString(n *state.Node) string {
	if s, ok := n.Str(); ok {
		return s
	}
	if n.IsScalar() && !n.IsNull() {
		return n.String()
	}
	return ""
}

// stateKey returns the states member that tracks a command.
func stateKey(name string) string {
	if strings.HasSuffix(name, commandSuffix) {
		return name
	}
	return name + commandSuffix
}

func (t *Tracker) confirm(ctx context.Context, name, id string) (Outcome, error) {
	streaming := t.coord.Streaming()
	if err := t.sleep(ctx, InitialWait); err != nil {
		return Outcome{CorrelationID: id, Result: Undetermined}, err
	}
	if !streaming {
		release := t.coord.SuppressStatusUpdates()
		defer release()
	}

	key := stateKey(name)
	for i := 0; i < MaxAttempts; {
		if entry := t.lookup(ctx, key, streaming); entry != nil {
			if out, done, err := t.interpret(name, id, entry); done {
				return out, err
			}
		}

		i++
		delay := time.Duration(i) * AttemptStep
		if t.flags.CommError() {
			delay += CommErrorDelay
		}
		if err := t.sleep(ctx, delay); err != nil {
			return Outcome{CorrelationID: id, Result: Undetermined}, err
		}
	}

	t.log.Info("No final command state after all attempts", "command", name, "id", id, "attempts", MaxAttempts)
	return Outcome{CorrelationID: id, Result: Undetermined},
		fmt.Errorf("%w: %s after %d attempts", ErrCommandTimedOut, name, MaxAttempts)
}

// lookup returns the command's state entry from the live document while
// streaming, otherwise from a fresh status poll.
func (t *Tracker) lookup(ctx context.Context, key string, streaming bool) *state.Node {
	var states *state.Node
	if streaming {
		states = t.coord.Document().Domain(state.DomainStates)
	} else {
		status, err := t.backend.Status(ctx)
		if err != nil {
			t.log.Debug("Status poll during command tracking failed", "error", err.Error())
			return nil
		}
		states = status.Get(state.DomainStates).Clone()
	}
	if !states.IsObject() {
		return nil
	}
	return state.FlattenCommands(states).Get(key)
}

// interpret classifies one observation of the command's state entry. done is
// false while the command is still in flight.
func (t *Tracker) interpret(name, id string, entry *state.Node) (Outcome, bool, error) {
	if got := scalarString(entry.Get("commandId")); got != id {
		t.log.Debug("Command id mismatch", "command", name, "want", id, "got", got)
		return Outcome{}, false, nil
	}
	to, ok := entry.Path("value", "toState").Str()
	if !ok {
		return Outcome{}, false, nil
	}

	switch to = strings.ToUpper(to); {
	case to == "SUCCESS" || to == "COMMAND_SUCCEEDED_ON_DEVICE":
		t.log.Debug("Command succeeded", "command", name, "id", id)
		return Outcome{CorrelationID: id, Result: Succeeded}, true, nil
	case to == "COMMAND_FAILED_ON_DEVICE":
		failure := entry.Path("value", "data", "commandError", "commandExecutionFailure")
		errContext := failure.Get("oemErrorContext").StringOr(unknownErrorTag + "_CONTEXT")
		errCode := scalarString(failure.Get("oemErrorCode"))
		if errCode == "" {
			errCode = unknownErrorTag + "_CODE"
		}
		detail := fmt.Sprintf("%s (code: %s)", errContext, errCode)
		t.log.Info("Vehicle rejected the command", "command", name, "id", id, "error", detail)
		return Outcome{CorrelationID: id, Result: Failed, Detail: detail}, true,
			fmt.Errorf("%w: %s: %s", ErrCommandFailed, name, detail)
	case to == "EXPIRED":
		t.log.Info("Command expired", "command", name, "id", id)
		return Outcome{CorrelationID: id, Result: Expired}, true, fmt.Errorf("%w: %s", ErrCommandExpired, name)
	case to == "REQUEST_QUEUED" || to == "RECEIVED_BY_DEVICE" ||
		strings.Contains(to, "IN_PROGRESS") || strings.Contains(to, "DELIVERY"):
		t.log.Debug("Command in flight", "command", name, "toState", to)
	default:
		t.log.Info("Unknown command state", "command", name, "toState", to)
	}
	return Outcome{}, false, nil
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.clock.After(d):
		return nil
	}
}
