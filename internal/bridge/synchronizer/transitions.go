package synchronizer

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
)

// Debounced task names.
const (
	taskNotify         = "notify"
	taskFullRefresh    = "full-refresh"
	taskClimate        = "climate-refresh"
	taskChargeProfiles = "charge-profiles-refresh"
	taskEnergyLogs     = "energy-logs-refresh"
)

// Delays of the follow-up refreshes triggered by stream data.
const (
	FullRefreshDelay    = 30 * time.Second
	ClimateRefreshDelay = 5 * time.Second
	ChargeProfilesDelay = 30 * time.Second
	EnergyLogsDelay     = 180 * time.Second

	// stateMaxAge is the age beyond which a state entry causes no side effects.
	stateMaxAge = 10 * time.Minute

	suppressedRetries  = 11
	suppressedRetryMin = 2 * time.Second
	suppressedRetryMax = 30 * time.Second
)

const (
	edgeUnknown        = "INIT"
	remoteStartActive  = "ACTIVE"
	remoteStartStopped = "INACTIVE"
)

// edgeState holds the last observed value of each watched metric. No
// transition fires out of edgeUnknown.
type edgeState struct {
	ignition    string
	remoteStart string
	plug        string
}

func newEdgeState() edgeState {
	return edgeState{ignition: edgeUnknown, remoteStart: edgeUnknown, plug: edgeUnknown}
}

// MarkRemoteStartActive records a remote start issued by this bridge so that
// the stream does not trigger a second climate refresh for it.
func (s *Synchronizer) MarkRemoteStartActive() {
	s.mu.Lock()
	s.edges.remoteStart = remoteStartActive
	s.mu.Unlock()
}

// applyStates runs the side effects of fresh, successful state entries.
func (s *Synchronizer) applyStates(_ context.Context, states *state.Node) {
	for _, name := range states.Keys() {
		entry := states.Get(name)
		if ts, ok := entry.Get("timestamp").Str(); ok {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil && s.clock.Since(t) > stateMaxAge {
				s.log.Debug("Skipping old state", "state", name, "timestamp", ts)
				continue
			}
		}
		to, ok := entry.Path("value", "toState").Str()
		if !ok {
			continue
		}
		s.log.Debug("State update", "state", name, "toState", to)
		switch strings.ToUpper(to) {
		case "SUCCESS", "COMMAND_SUCCEEDED_ON_DEVICE":
		default:
			continue
		}

		if m := entry.Path("value", state.DomainMetrics); m.IsObject() {
			s.doc.Merge(state.Update{Domain: state.DomainMetrics, Value: m})
		}
		if name == "updateChargeProfilesCommand" {
			s.tasks.Schedule(taskChargeProfiles, ChargeProfilesDelay, s.refreshChargeProfiles)
		}
	}
}

// evaluateTransitions compares the watched metrics with their last values
// and schedules the follow-up refreshes.
func (s *Synchronizer) evaluateTransitions() {
	ignition := strings.ToUpper(s.doc.Lookup(state.DomainMetrics, "ignitionStatus", "value").StringOr(edgeUnknown))
	remoteStart := remoteStartStopped
	if n, _ := s.doc.Lookup(state.DomainMetrics, "remoteStartCountdownTimer", "value").Float64(); n > 0 {
		remoteStart = remoteStartActive
	}
	plug := strings.ToUpper(s.doc.Lookup(state.DomainMetrics, "xevPlugChargerStatus", "value").StringOr(edgeUnknown))

	s.mu.Lock()
	prev := s.edges
	s.edges = edgeState{ignition: ignition, remoteStart: remoteStart, plug: plug}
	s.mu.Unlock()

	if prev.ignition != edgeUnknown {
		switch {
		case ignition == "OFF" && prev.ignition != "OFF":
			s.log.Debug("Ignition switched off, scheduling full refresh", "delay", FullRefreshDelay)
			s.tasks.Schedule(taskFullRefresh, FullRefreshDelay, s.fullRefresh)
		case ignition == "ON":
			if s.tasks.Cancel(taskFullRefresh) {
				s.log.Debug("Ignition on, full refresh cancelled")
			}
		}
	}
	if prev.remoteStart != edgeUnknown && remoteStart == remoteStartActive && prev.remoteStart != remoteStartActive {
		s.tasks.Schedule(taskClimate, ClimateRefreshDelay, func(ctx context.Context) {
			if _, err := s.RefreshClimate(ctx); err != nil && ctx.Err() == nil {
				s.log.Info("Climate refresh failed", "error", err.Error())
			}
		})
	}
	if prev.plug != edgeUnknown && plug == "DISCONNECTED" && prev.plug != plug {
		s.tasks.Schedule(taskEnergyLogs, EnergyLogsDelay, func(ctx context.Context) {
			if _, err := s.RefreshEnergyLogs(ctx); err != nil && ctx.Err() == nil {
				s.log.Info("Energy transfer log refresh failed", "error", err.Error())
			}
		})
	}
}

// fullRefresh polls everything once status updates are allowed again, giving
// up on waiting after a bounded number of randomized retries.
func (s *Synchronizer) fullRefresh(ctx context.Context) {
	for i := 0; i < suppressedRetries && !s.StatusUpdatesAllowed(); i++ {
		wait := suppressedRetryMin + rand.N(suppressedRetryMax-suppressedRetryMin)
		s.log.Debug("Waiting for status updates to be allowed", "retry", i, "wait", wait)
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}
	}
	if _, err := s.RefreshAll(ctx); err != nil {
		if ctx.Err() == nil {
			s.log.Warn("Full refresh failed", "error", err.Error())
		}
		return
	}
	s.notifyNow()
}

func (s *Synchronizer) refreshChargeProfiles(ctx context.Context) {
	if _, err := s.RefreshChargeTimes(ctx); err != nil && ctx.Err() == nil {
		s.log.Info("Preferred charge times refresh failed", "error", err.Error())
	}
	if _, err := s.RefreshEnergyStatus(ctx); err != nil && ctx.Err() == nil {
		s.log.Info("Energy transfer status refresh failed", "error", err.Error())
	}
}
