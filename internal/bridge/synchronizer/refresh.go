package synchronizer

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/metrics"
)

// capabilities records which optional documents the vehicle offers. They are
// read once from the vehicle profile of the garage answer.
type capabilities struct {
	resolved bool
	climate  bool
	forced   bool
	pct      bool
	ets      bool
	etl      bool
}

// resolveCapabilities reads the profile of vin from a garage answer.
func resolveCapabilities(vehicles *state.Node, vin string, forceClimate bool) (capabilities, bool) {
	for _, profile := range vehicles.Get("vehicleProfile").Items() {
		if v, _ := profile.Get("VIN").Str(); v != vin {
			continue
		}
		c := capabilities{resolved: true}
		switch {
		case forceClimate:
			c.climate, c.forced = true, true
		case profile.Has("remoteClimateControl"):
			c.climate = profile.Get("remoteClimateControl").Truthy()
		case profile.Has("remoteHeatingCooling"):
			c.climate = profile.Get("remoteHeatingCooling").Truthy()
		}
		if profile.Has("showEVBatteryLevel") {
			ev := profile.Get("showEVBatteryLevel").Truthy()
			c.pct, c.ets, c.etl = ev, ev, ev
		} else {
			c.etl = true
		}
		return c, true
	}
	return capabilities{}, false
}

// Capabilities reports which optional documents are fetched for the vehicle.
func (s *Synchronizer) Capabilities() (climate, chargeTimes, energyStatus, energyLogs bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps.climate, s.caps.pct, s.caps.ets, s.caps.etl
}

// RefreshAll polls every document and installs the result as the new state.
// It returns nil without touching the document when the status poll fails.
func (s *Synchronizer) RefreshAll(ctx context.Context) (*state.Node, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	status, err := s.backend.Status(ctx)
	if err != nil {
		metrics.PollsTotal.WithLabelValues(s.cfg.VIN, "failure").Inc()
		return nil, fmt.Errorf("polling status: %w", err)
	}
	domains := map[string]*state.Node{}
	if status.IsObject() {
		for _, k := range status.Keys() {
			domains[k] = status.Get(k)
		}
	}

	if msgs, err := s.backend.Messages(ctx); err == nil {
		domains[state.DomainMessages] = msgs
		s.mu.Lock()
		s.lastMessages = s.clock.Now()
		s.mu.Unlock()
	} else {
		s.log.Info("Fetching messages failed", "error", err.Error())
	}

	vehicles := s.cached(state.DomainVehicles)
	if vehicles.Len() == 0 {
		vehicles = s.fetchCache(ctx, state.DomainVehicles, s.backend.Vehicles)
	}
	if vehicles.Len() > 0 {
		domains[state.DomainVehicles] = vehicles
		s.mu.Lock()
		if !s.caps.resolved {
			if c, ok := resolveCapabilities(vehicles, s.cfg.VIN, s.cfg.ForceClimate); ok {
				s.caps = c
				s.log.Info("Vehicle capabilities resolved",
					"climate", c.climate, "forcedClimate", c.forced, "chargeTimes", c.pct,
					"energyStatus", c.ets, "energyLogs", c.etl)
			}
		}
		s.mu.Unlock()
	}

	for _, opt := range s.optionalDocuments() {
		if !opt.supported {
			continue
		}
		doc := s.cached(opt.domain)
		if doc.Len() == 0 {
			doc = s.fetchCache(ctx, opt.domain, opt.fetch)
		}
		if doc.Len() > 0 {
			domains[opt.domain] = doc
		}
	}

	s.doc.ReplaceAll(domains)
	s.markFresh()
	metrics.PollsTotal.WithLabelValues(s.cfg.VIN, "success").Inc()
	return s.doc.Snapshot(), nil
}

type optionalDocument struct {
	domain    string
	supported bool
	fetch     func(context.Context) (*state.Node, error)
}

func (s *Synchronizer) optionalDocuments() []optionalDocument {
	s.mu.Lock()
	c := s.caps
	s.mu.Unlock()
	return []optionalDocument{
		{state.DomainRCC, c.climate, s.fetchClimate},
		{state.DomainPCT, c.pct, s.backend.PreferredChargeTimes},
		{state.DomainETS, c.ets, s.backend.EnergyTransferStatus},
		{state.DomainETL, c.etl, s.backend.EnergyTransferLogs},
	}
}

func (s *Synchronizer) fetchClimate(ctx context.Context) (*state.Node, error) {
	s.mu.Lock()
	forced := s.caps.forced
	s.mu.Unlock()
	return s.backend.RemoteClimate(ctx, forced)
}

func (s *Synchronizer) cached(domain string) *state.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[domain]
}

// fetchCache fetches a cached document and stores the answer. A failed fetch
// keeps the previous copy.
func (s *Synchronizer) fetchCache(ctx context.Context, domain string, fetch func(context.Context) (*state.Node, error)) *state.Node {
	n, err := fetch(ctx)
	if err != nil {
		s.log.Info("Fetching document failed", "domain", domain, "error", err.Error())
		return s.cached(domain)
	}
	s.mu.Lock()
	s.cache[domain] = n
	s.mu.Unlock()
	return n
}

// refreshOne re-fetches a single optional document into the cache and the
// state document. It reports whether the document now holds content.
func (s *Synchronizer) refreshOne(ctx context.Context, domain string) (bool, error) {
	for _, opt := range s.optionalDocuments() {
		if opt.domain != domain {
			continue
		}
		if !opt.supported {
			return false, nil
		}
		n, err := opt.fetch(ctx)
		if err != nil {
			return false, fmt.Errorf("refreshing %s: %w", domain, err)
		}
		s.mu.Lock()
		s.cache[domain] = n
		s.mu.Unlock()
		if n.Len() == 0 {
			return false, nil
		}
		s.doc.SetDomain(domain, n)
		s.notify()
		return true, nil
	}
	return false, fmt.Errorf("unknown document %q", domain)
}

// RefreshClimate re-fetches the remote climate profiles.
func (s *Synchronizer) RefreshClimate(ctx context.Context) (bool, error) {
	return s.refreshOne(ctx, state.DomainRCC)
}

// RefreshChargeTimes re-fetches the preferred charge times.
func (s *Synchronizer) RefreshChargeTimes(ctx context.Context) (bool, error) {
	return s.refreshOne(ctx, state.DomainPCT)
}

// RefreshEnergyStatus re-fetches the energy transfer status.
func (s *Synchronizer) RefreshEnergyStatus(ctx context.Context) (bool, error) {
	return s.refreshOne(ctx, state.DomainETS)
}

// RefreshEnergyLogs re-fetches the energy transfer logs.
func (s *Synchronizer) RefreshEnergyLogs(ctx context.Context) (bool, error) {
	return s.refreshOne(ctx, state.DomainETL)
}

// UpdateClimateProfiles replaces the cached profile list after a climate
// profile was written.
func (s *Synchronizer) UpdateClimateProfiles(profiles *state.Node) {
	s.mu.Lock()
	rcc := s.cache[state.DomainRCC].Clone()
	if !rcc.IsObject() {
		rcc = state.Object()
	}
	rcc.Set("rccUserProfiles", profiles.Clone())
	s.cache[state.DomainRCC] = rcc
	s.mu.Unlock()

	s.doc.SetDomain(state.DomainRCC, rcc)
	s.notify()
}

// RefreshMessages re-fetches the message list.
func (s *Synchronizer) RefreshMessages(ctx context.Context) error {
	msgs, err := s.backend.Messages(ctx)
	if err != nil {
		return err
	}
	s.doc.SetDomain(state.DomainMessages, msgs)
	s.mu.Lock()
	s.lastMessages = s.clock.Now()
	s.mu.Unlock()
	s.notify()
	return nil
}

// InvalidateMessages makes the next stream housekeeping fetch the messages.
func (s *Synchronizer) InvalidateMessages() {
	s.mu.Lock()
	s.lastMessages = time.Time{}
	s.mu.Unlock()
}
