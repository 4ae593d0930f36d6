// Package synchronizer keeps the state document of one vehicle current, from
// the telemetry stream while it is up and from polling otherwise.
package synchronizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/auth"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/dump"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/debounce"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

// Default timings.
const (
	DefaultPollInterval     = 290 * time.Second
	DefaultWatchdogInterval = 64 * time.Second
	DefaultStaleAfter       = 50 * time.Second
	DefaultNotifyDelay      = 300 * time.Millisecond

	// MinMessageInterval bounds how often housekeeping re-fetches messages.
	MinMessageInterval = 20 * time.Minute
	// RelayRefreshMargin is how close to expiry housekeeping renews the relay token.
	RelayRefreshMargin = 45 * time.Second
)

// Sink receives the document after every change.
type Sink interface {
	OnStateUpdated(snapshot *state.Node)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(snapshot *state.Node)

func (f SinkFunc) OnStateUpdated(snapshot *state.Node) { f(snapshot) }

// Backend fetches the vendor documents of the vehicle.
type Backend interface {
	Status(ctx context.Context) (*state.Node, error)
	Messages(ctx context.Context) (*state.Node, error)
	Vehicles(ctx context.Context) (*state.Node, error)
	RemoteClimate(ctx context.Context, forced bool) (*state.Node, error)
	PreferredChargeTimes(ctx context.Context) (*state.Node, error)
	EnergyTransferStatus(ctx context.Context) (*state.Node, error)
	EnergyTransferLogs(ctx context.Context) (*state.Node, error)
}

// Credentials is the view of the credential manager the synchronizer needs.
type Credentials interface {
	EnsureValid(ctx context.Context) error
	RefreshRelayIfExpiring(ctx context.Context, margin time.Duration) error
	RelayToken() string
	CommError() bool
	ReauthRequired() bool
}

// Clock is the time source of the watchdog, the poll loop and the debounced tasks.
type Clock interface {
	clock.WithTicker
	clock.WithDelayedExecution
}

// Config tunes a Synchronizer.
type Config struct {
	VIN          string
	PollInterval time.Duration
	ForceClimate bool

	WatchdogInterval time.Duration
	StaleAfter       time.Duration
	NotifyDelay      time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.NotifyDelay <= 0 {
		c.NotifyDelay = DefaultNotifyDelay
	}
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

func WithClock(c Clock) Option { return func(s *Synchronizer) { s.clock = c } }

func WithSink(sink Sink) Option { return func(s *Synchronizer) { s.sink = sink } }

func WithDumpSink(d dump.Sink) Option { return func(s *Synchronizer) { s.dump = d } }

func WithLogger(l log.Logger) Option { return func(s *Synchronizer) { s.log = l } }

// Synchronizer merges stream frames and poll results into one document.
type Synchronizer struct {
	cfg     Config
	backend Backend
	creds   Credentials
	dial    Dialer
	doc     *state.Document
	sink    Sink
	dump    dump.Sink
	clock   Clock
	log     log.Logger

	fsm   *fsm.FSM
	tasks *debounce.Group

	refreshMu sync.Mutex
	suppress  atomic.Int32

	mu             sync.Mutex
	caps           capabilities
	cache          map[string]*state.Node
	attempt        *attempt
	lastFrame      time.Time
	lastFresh      time.Time
	lastMessages   time.Time
	inUseToken     string
	reauthSurfaced bool
	edges          edgeState
}

// New returns a synchronizer writing into doc.
func New(cfg Config, backend Backend, creds Credentials, dial Dialer, doc *state.Document, opts ...Option) *Synchronizer {
	cfg.setDefaults()
	s := &Synchronizer{
		cfg:     cfg,
		backend: backend,
		creds:   creds,
		dial:    dial,
		doc:     doc,
		sink:    SinkFunc(func(*state.Node) {}),
		dump:    dump.Nop{},
		clock:   clock.RealClock{},
		cache:   map[string]*state.Node{},
		edges:   newEdgeState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.WithName("synchronizer").WithValues("vin", cfg.VIN)
	}
	s.tasks = debounce.NewGroup(s.clock)
	s.fsm = newConnectionFSM(s)
	return s
}

// Run polls once, then runs the watchdog and the poll loop until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	defer s.shutdown()

	if _, err := s.Refresh(ctx, true); err != nil && ctx.Err() == nil {
		s.log.Warn("Initial refresh failed", "error", err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(gctx, s.cfg.WatchdogInterval, s.watchdog)
		return nil
	})
	g.Go(func() error {
		s.loop(gctx, s.cfg.PollInterval, s.poll)
		return nil
	})
	return g.Wait()
}

func (s *Synchronizer) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := s.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			fn(ctx)
		}
	}
}

func (s *Synchronizer) shutdown() {
	s.stopAttempt()
	s.tasks.Stop()
	s.transition(context.Background(), EventDisconnect)
}

// watchdog surfaces re-authentication, starts a stream when none is up and
// drops a stream that went quiet.
func (s *Synchronizer) watchdog(ctx context.Context) {
	if s.creds.ReauthRequired() {
		s.mu.Lock()
		first := !s.reauthSurfaced
		s.reauthSurfaced = true
		s.mu.Unlock()
		if first {
			s.log.Warn("Re-authentication required, streaming stopped")
		}
		s.stopAttempt()
		s.transition(ctx, EventFallback)
		return
	}
	s.mu.Lock()
	s.reauthSurfaced = false
	s.mu.Unlock()

	if s.Streaming() {
		if quiet := s.clock.Since(s.lastFrameTime()); quiet > s.cfg.StaleAfter {
			s.log.Info("Stream is quiet, forcing reconnect", "quiet", quiet)
			s.stopAttempt()
		}
		return
	}

	s.log.Debug("Stream connect required", "state", s.State())
	s.startAttempt(ctx)
}

// poll refreshes from the backend while no stream is up.
func (s *Synchronizer) poll(ctx context.Context) {
	if _, err := s.Refresh(ctx, false); err != nil && ctx.Err() == nil && !errors.Is(err, auth.ErrReauthRequired) {
		s.log.Info("Polling refresh failed", "error", err.Error())
	}
}

// Refresh polls the backend unless a stream is up. force polls regardless.
// While status updates are suppressed the document is returned unchanged.
func (s *Synchronizer) Refresh(ctx context.Context, force bool) (*state.Node, error) {
	if s.creds.ReauthRequired() {
		return nil, auth.ErrReauthRequired
	}
	if s.Streaming() && !force {
		return s.doc.Snapshot(), nil
	}
	if !s.StatusUpdatesAllowed() {
		s.log.Info("Status updates suppressed by a running command, keeping document")
		return s.doc.Snapshot(), nil
	}
	snap, err := s.RefreshAll(ctx)
	if err != nil {
		return nil, err
	}
	s.notifyNow()
	return snap, nil
}

// SuppressStatusUpdates holds off polling until the returned release is called.
func (s *Synchronizer) SuppressStatusUpdates() (release func()) {
	s.suppress.Add(1)
	var once sync.Once
	return func() { once.Do(func() { s.suppress.Add(-1) }) }
}

func (s *Synchronizer) StatusUpdatesAllowed() bool { return s.suppress.Load() == 0 }

// Streaming reports whether the telemetry stream is up.
func (s *Synchronizer) Streaming() bool { return s.fsm.Current() == StateStreaming }

// State returns the connection state.
func (s *Synchronizer) State() string { return s.fsm.Current() }

// Document returns the document the synchronizer writes into.
func (s *Synchronizer) Document() *state.Document { return s.doc }

// Stale reports whether the document may be outdated: communication is
// failing or nothing fresh arrived for two poll intervals.
func (s *Synchronizer) Stale() bool {
	if s.creds.CommError() {
		return true
	}
	s.mu.Lock()
	last := s.lastFresh
	s.mu.Unlock()
	return last.IsZero() || s.clock.Since(last) > 2*s.cfg.PollInterval
}

func (s *Synchronizer) lastFrameTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

func (s *Synchronizer) markFresh() {
	s.mu.Lock()
	s.lastFresh = s.clock.Now()
	s.mu.Unlock()
}

// notify schedules a debounced sink update.
func (s *Synchronizer) notify() {
	s.tasks.Schedule(taskNotify, s.cfg.NotifyDelay, func(context.Context) {
		s.sink.OnStateUpdated(s.doc.Snapshot())
	})
}

// notifyNow cancels a pending debounced update and delivers the document.
func (s *Synchronizer) notifyNow() {
	s.tasks.Cancel(taskNotify)
	s.sink.OnStateUpdated(s.doc.Snapshot())
}
