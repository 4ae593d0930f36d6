// Package auth keeps the primary and relay token pairs of one vehicle session
// valid, escalating to re-authentication when refreshing keeps failing.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/credential"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/metrics"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

const (
	// ExpiryMargin is how long before expiry a token counts as expired.
	ExpiryMargin = 7 * time.Second
	// UnauthorizedBackoff is the pause after a tolerated unauthorized response.
	UnauthorizedBackoff = 5 * time.Second
	// ReloadTimeout bounds the store read of Invalidate.
	ReloadTimeout = 10 * time.Second
)

// Manager owns the credential record of one session.
type Manager struct {
	client   *transport.Client
	store    credential.Store
	key      credential.Key
	subject  string
	counters *CounterRegistry
	clock    clock.Clock
	log      log.Logger

	flight singleflight.Group

	mu       sync.RWMutex
	rec      *credential.Record
	reauth   bool
	notified bool
	commErr  bool
	onReauth []func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithCounters shares a counter registry between managers.
func WithCounters(r *CounterRegistry) Option {
	return func(m *Manager) { m.counters = r }
}

// WithSubject sets the name the failure counters are kept under, normally the VIN.
func WithSubject(subject string) Option {
	return func(m *Manager) { m.subject = subject }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager returns a manager for the record stored under key.
func NewManager(client *transport.Client, store credential.Store, key credential.Key, opts ...Option) *Manager {
	m := &Manager{
		client:  client,
		store:   store,
		key:     key,
		subject: key.String(),
		clock:   clock.RealClock{},
		log:     log.WithName("auth"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.counters == nil {
		m.counters = NewCounterRegistry()
	}
	return m
}

// EnsureValid makes sure both token pairs are usable, refreshing whatever is
// about to expire. Concurrent callers share one refresh. Two calls in a row
// with valid tokens make no network call.
func (m *Manager) EnsureValid(ctx context.Context) error {
	if m.ReauthRequired() {
		return ErrReauthRequired
	}
	_, err, _ := m.flight.Do("ensure", func() (any, error) {
		return nil, m.ensure(ctx)
	})
	return err
}

func (m *Manager) ensure(ctx context.Context) error {
	m.setCommError(false)

	rec, err := m.current(ctx)
	if err != nil {
		return err
	}

	relayFresh := false
	if rec.Primary.ExpiresWithin(m.clock.Now(), ExpiryMargin) {
		m.log.Debug("Primary token expires, refreshing", "expiry", rec.Primary.Expiry.Time())
		if rec, err = m.refreshPrimary(ctx, rec); err != nil {
			return err
		}
		if rec, err = m.exchangeRelay(ctx, rec); err != nil {
			return err
		}
		relayFresh = true
	}

	if !relayFresh && rec.Relay.ExpiresWithin(m.clock.Now(), ExpiryMargin) {
		if rec.Relay.Empty() {
			m.log.Debug("No relay token, requesting one")
		}
		if _, err = m.exchangeRelay(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// RefreshRelayIfExpiring exchanges a new relay token when the current one
// expires within margin.
func (m *Manager) RefreshRelayIfExpiring(ctx context.Context, margin time.Duration) error {
	if m.ReauthRequired() {
		return ErrReauthRequired
	}
	m.mu.RLock()
	rec := m.rec.Clone()
	m.mu.RUnlock()
	if rec == nil || rec.Relay.Expiry.IsZero() || !rec.Relay.ExpiresWithin(m.clock.Now(), margin) {
		return nil
	}
	_, err, _ := m.flight.Do("relay", func() (any, error) {
		_, err := m.exchangeRelay(ctx, rec)
		return nil, err
	})
	return err
}

// current returns the in-memory record, loading it from the store first when needed.
func (m *Manager) current(ctx context.Context) (*credential.Record, error) {
	m.mu.RLock()
	rec := m.rec.Clone()
	m.mu.RUnlock()
	if rec != nil {
		return rec, nil
	}

	rec, err := m.store.Load(ctx, m.key)
	switch {
	case err == nil:
	case errors.Is(err, credential.ErrNotFound), errors.Is(err, credential.ErrCorrupt):
		m.log.Error(err, "Stored credentials are unusable", "account", m.key.String())
		m.markReauth()
		return nil, fmt.Errorf("%w: %v", ErrReauthRequired, err)
	default:
		m.setCommError(true)
		return nil, fmt.Errorf("%w: loading credentials: %v", transport.ErrTransient, err)
	}

	m.mu.Lock()
	m.rec = rec.Clone()
	m.mu.Unlock()
	m.log.Debug("Credentials loaded from store", "account", m.key.String())
	return rec, nil
}

func (m *Manager) refreshPrimary(ctx context.Context, rec *credential.Record) (*credential.Record, error) {
	tok, err := m.client.RefreshPrimary(ctx, rec.Primary.Refresh)
	if err != nil {
		return nil, m.refreshFailed(ctx, transport.FamilyFord, err)
	}
	m.counters.Reset(m.subject, transport.FamilyFord)
	metrics.TokenRefreshTotal.WithLabelValues(transport.FamilyFord.String(), "success").Inc()

	rec.Primary = m.pairFrom(tok, rec.Primary)
	if err := m.install(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *Manager) exchangeRelay(ctx context.Context, rec *credential.Record) (*credential.Record, error) {
	if rec.Primary.Empty() {
		return nil, ErrNoRelayToken
	}
	tok, err := m.client.ExchangeRelay(ctx, rec.Primary.Access)
	if err != nil {
		return nil, m.refreshFailed(ctx, transport.FamilyAutonomic, err)
	}
	m.counters.Reset(m.subject, transport.FamilyAutonomic)
	metrics.TokenRefreshTotal.WithLabelValues(transport.FamilyAutonomic.String(), "success").Inc()

	rec.Relay = m.pairFrom(tok, rec.Relay)
	if err := m.install(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// refreshFailed applies the failure policy to a token call. A tolerated
// unauthorized response drops the in-memory tokens so the next attempt
// starts again from the store.
func (m *Manager) refreshFailed(ctx context.Context, family transport.Family, err error) error {
	if !errors.Is(err, transport.ErrUnauthorized) {
		metrics.TokenRefreshTotal.WithLabelValues(family.String(), "error").Inc()
		if ctx.Err() == nil {
			m.setCommError(true)
		}
		m.log.Warn("Token refresh failed", "family", family.String(), "error", err.Error())
		return err
	}

	metrics.TokenRefreshTotal.WithLabelValues(family.String(), "unauthorized").Inc()
	if se, ok := transport.AsStatusError(err); ok && se.InvalidatedToken() {
		m.counters.Escalate(m.subject, family)
	}
	oerr := m.Observe(ctx, family, err)

	m.mu.Lock()
	m.rec = nil
	m.mu.Unlock()
	return oerr
}

// Observe applies the failure policy to the result of an authorized call:
// success resets the family counter and clears the communication flag,
// unauthorized counts and either escalates or backs off, anything else sets
// the communication flag. It returns err, or ErrReauthRequired on escalation.
func (m *Manager) Observe(ctx context.Context, family transport.Family, err error) error {
	switch {
	case err == nil:
		m.counters.Reset(m.subject, family)
		m.setCommError(false)
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, transport.ErrUnauthorized):
		n := m.counters.Increment(m.subject, family)
		if Exceeded(n) {
			m.log.Error(err, "Too many unauthorized responses", "family", family.String(), "count", n)
			m.markReauth()
			return fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		if n > 2 {
			m.log.Warn("Unauthorized response", "family", family.String(), "count", n)
		} else {
			m.log.Info("Unauthorized response", "family", family.String(), "count", n)
		}
		if werr := m.sleep(ctx, UnauthorizedBackoff); werr != nil {
			return werr
		}
		return err
	default:
		m.setCommError(true)
		return err
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.clock.After(d):
		return nil
	}
}

func (m *Manager) pairFrom(tok *transport.TokenResponse, prev credential.TokenPair) credential.TokenPair {
	now := m.clock.Now()
	pair := credential.TokenPair{
		Access:        tok.AccessToken,
		Refresh:       tok.RefreshToken,
		Expiry:        credential.EpochOf(tok.Expiry(now)),
		RefreshExpiry: credential.EpochOf(tok.RefreshExpiry(now)),
	}
	if pair.Refresh == "" {
		pair.Refresh = prev.Refresh
	}
	if pair.Expiry.IsZero() {
		if exp, ok := expiryFromJWT(pair.Access); ok {
			pair.Expiry = credential.EpochOf(exp)
		}
	}
	return pair
}

// install stores rec in memory and persists it. The write survives
// cancellation of ctx.
func (m *Manager) install(ctx context.Context, rec *credential.Record) error {
	m.mu.Lock()
	m.rec = rec.Clone()
	m.mu.Unlock()

	if err := m.store.Save(context.WithoutCancel(ctx), m.key, rec.Clone()); err != nil {
		m.log.Error(err, "Failed to persist credentials", "account", m.key.String())
		return fmt.Errorf("persisting credentials: %w", err)
	}
	return nil
}

// Login exchanges an identity-provider access token for a new primary pair,
// obtains a relay token and installs both as fresh material.
func (m *Manager) Login(ctx context.Context, idpToken string) error {
	tok, err := m.client.LoginIDP(ctx, idpToken)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	rec := &credential.Record{Primary: m.pairFrom(tok, credential.TokenPair{})}
	if err := m.AcknowledgeReauth(ctx, rec); err != nil {
		return err
	}
	return m.EnsureValid(ctx)
}

// AcknowledgeReauth installs fresh credential material, clearing the
// re-authentication flag and both failure counters.
func (m *Manager) AcknowledgeReauth(ctx context.Context, rec *credential.Record) error {
	if rec == nil || rec.Primary.Refresh == "" {
		return errors.New("credential record without primary refresh token")
	}
	m.counters.ResetAll(m.subject)
	m.mu.Lock()
	m.reauth = false
	m.notified = false
	m.commErr = false
	m.mu.Unlock()

	m.log.Info("Fresh credentials installed", "account", m.key.String())
	return m.install(ctx, rec.Clone())
}

// ClearTokens deletes the stored record and requires re-authentication.
func (m *Manager) ClearTokens(ctx context.Context) error {
	m.mu.Lock()
	m.rec = nil
	m.mu.Unlock()
	m.markReauth()

	if err := m.store.Delete(context.WithoutCancel(ctx), m.key); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

// Invalidate reloads the record after the store was changed from outside.
// A missing or corrupt record drops the in-memory copy so the next
// EnsureValid escalates. Other load failures keep the current copy.
func (m *Manager) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), ReloadTimeout)
	defer cancel()

	rec, err := m.store.Load(ctx, m.key)
	switch {
	case err == nil:
		m.mu.Lock()
		m.rec = rec
		m.mu.Unlock()
		m.log.Info("Credentials reloaded after an outside change", "account", m.key.String())
	case errors.Is(err, credential.ErrNotFound), errors.Is(err, credential.ErrCorrupt):
		m.mu.Lock()
		m.rec = nil
		m.mu.Unlock()
		m.log.Info("Stored credentials removed or unreadable", "account", m.key.String())
	default:
		m.log.Error(err, "Failed to reload credentials, keeping the loaded copy", "account", m.key.String())
	}
}

// OnReauth registers fn to run once each time re-authentication becomes required.
func (m *Manager) OnReauth(fn func()) {
	m.mu.Lock()
	m.onReauth = append(m.onReauth, fn)
	m.mu.Unlock()
}

func (m *Manager) markReauth() {
	m.mu.Lock()
	m.reauth = true
	var fns []func()
	if !m.notified {
		m.notified = true
		fns = append(fns, m.onReauth...)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *Manager) setCommError(v bool) {
	m.mu.Lock()
	m.commErr = v
	m.mu.Unlock()
}

// PrimaryToken returns the primary access token, or "" when none is loaded.
func (m *Manager) PrimaryToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec == nil {
		return ""
	}
	return m.rec.Primary.Access
}

// RelayToken returns the relay access token, or "" when none is loaded.
func (m *Manager) RelayToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec == nil {
		return ""
	}
	return m.rec.Relay.Access
}

// RelayExpiry returns the relay token expiry, or the zero time when none is loaded.
func (m *Manager) RelayExpiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec == nil {
		return time.Time{}
	}
	return m.rec.Relay.Expiry.Time()
}

// CommError reports whether the last backend exchange failed for a reason other than authorization.
func (m *Manager) CommError() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commErr
}

// ReauthRequired reports whether fresh credentials must be supplied before any refresh.
func (m *Manager) ReauthRequired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reauth
}

// Key returns the account the record is stored under.
func (m *Manager) Key() credential.Key { return m.key }

// Counters returns the failure counters, shared with other sessions of the account.
func (m *Manager) Counters() *CounterRegistry { return m.counters }
