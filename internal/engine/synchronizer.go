package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/daikin-cloud-core/internal/cloud"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/metrics"
	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// CloudPoller is the slice of the cloud client the synchronizer needs.
type CloudPoller interface {
	DiscoverUnits(ctx context.Context) ([]cloud.UnitInfo, error)
	FetchStatus(ctx context.Context, edgeIDs []string) (map[string]cloud.UnitStatus, error)
}

// SynchronizerConfig holds poll loop tuning.
type SynchronizerConfig struct {
	Interval          time.Duration
	DiscoveryInterval time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
}

// Synchronizer keeps the registry aligned with the cloud.
//
// One poll cycle fetches status for every unit not currently in backoff,
// applies observed state through the registry's mutator path, and
// reconciles pending commands: a command whose requested value shows up
// in observed state is confirmed, one whose confirmation window has
// closed is presumed failed and its optimistic state reverted to the
// last server snapshot.
//
// Units whose status fails to refresh enter per-unit exponential
// backoff, so one sick unit never slows the others down.
type Synchronizer struct {
	registry *unit.Registry
	poller   CloudPoller
	config   SynchronizerConfig
	logger   *logging.Logger
	metrics  *metrics.Metrics

	kick chan struct{}

	mu       sync.Mutex
	backoffs map[string]*backoffState
	misses   map[string]int
}

// rediscoverMissThreshold is the number of consecutive polls a unit may
// be absent from the status response before the catalogue is refreshed.
// The vendor silently drops responses for units removed from the
// account, so repeated absence is treated as an unknown-device signal.
const rediscoverMissThreshold = 3

type backoffState struct {
	delay time.Duration
	until time.Time
}

// NewSynchronizer creates a synchronizer. Run must be called to start
// polling.
func NewSynchronizer(registry *unit.Registry, poller CloudPoller, cfg SynchronizerConfig, logger *logging.Logger, m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{
		registry: registry,
		poller:   poller,
		config:   cfg,
		logger:   logger.With("component", "synchronizer"),
		metrics:  m,
		kick:     make(chan struct{}, 1),
		backoffs: make(map[string]*backoffState),
		misses:   make(map[string]int),
	}
}

// Run drives the poll loop until the context is cancelled. Discovery and
// an initial poll happen immediately; the catalogue is refreshed on its
// own slower interval after that.
func (s *Synchronizer) Run(ctx context.Context) error {
	if err := s.Rediscover(ctx); err != nil {
		// A failed initial discovery is not fatal; the loop retries on
		// the discovery interval and commands fail cleanly meanwhile.
		s.logger.Error("initial discovery failed", "error", err)
	}
	s.pollOnce(ctx)

	poll := time.NewTicker(s.config.Interval)
	defer poll.Stop()
	discover := time.NewTicker(s.config.DiscoveryInterval)
	defer discover.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			s.pollOnce(ctx)
		case <-discover.C:
			if err := s.Rediscover(ctx); err != nil {
				s.logger.Error("discovery failed", "error", err)
			}
		case <-s.kick:
			s.pollOnce(ctx)
		}
	}
}

// Refresh requests an immediate poll cycle outside the regular interval.
// Safe to call from any goroutine; coalesces when a refresh is already
// queued.
func (s *Synchronizer) Refresh() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Rediscover re-fetches the unit catalogue and reconciles the registry
// against it. On failure the existing catalogue stays untouched.
func (s *Synchronizer) Rediscover(ctx context.Context) error {
	infos, err := s.poller.DiscoverUnits(ctx)
	if err != nil {
		s.metrics.IncPollError("discovery")
		return err
	}

	units := make([]unit.Unit, 0, len(infos))
	for _, info := range infos {
		units = append(units, unit.Unit{
			ID:           info.EdgeID,
			Name:         info.Name,
			MAC:          info.MAC,
			Capabilities: unit.DefaultCapabilities(),
		})
	}
	s.registry.ReplaceCatalog(units)
	s.metrics.SetUnits(len(units))
	return nil
}

// pollOnce runs one status refresh cycle.
func (s *Synchronizer) pollOnce(ctx context.Context) {
	start := time.Now()

	due := s.dueUnits(start)
	if len(due) == 0 {
		return
	}

	statuses, err := s.poller.FetchStatus(ctx, due)
	if err != nil {
		s.recordCycleFailure(ctx, due, err)
		return
	}

	rediscover := false
	for _, id := range due {
		status, ok := statuses[id]
		if !ok {
			s.recordUnitFailure(id)
			s.expireOverdue(id, time.Now())
			if s.recordUnitMiss(id) {
				rediscover = true
			}
			continue
		}
		s.recordUnitSuccess(id)
		s.applyObserved(id, status)
	}

	// A unit the cloud has stopped answering for is most likely gone
	// from the account; refresh the catalogue instead of waiting for
	// the slow discovery ticker.
	if rediscover {
		s.logger.Info("units repeatedly missing from status, rediscovering")
		if err := s.Rediscover(ctx); err != nil {
			s.logger.Error("rediscovery after missing units failed", "error", err)
		}
	}

	s.metrics.ObservePoll(time.Since(start))
}

// applyObserved writes a fresh snapshot into the registry and settles
// any pending command against it.
func (s *Synchronizer) applyObserved(id string, status cloud.UnitStatus) {
	now := time.Now()

	if pending := s.registry.Pending(id); pending != nil {
		switch {
		case commandConfirmed(status, pending):
			s.registry.ResolvePending(id, true)
			s.logger.Info("command confirmed",
				"unit_id", id, "command_id", pending.ID, "type", string(pending.Type))
		case pending.Expired(now):
			s.registry.ResolvePending(id, false)
		default:
			// Still inside the confirmation window. Keep the optimistic
			// value on the requested field but let every other reading
			// refresh, otherwise sensors freeze while a command is in
			// flight.
			s.maskPendingField(&status, pending)
		}
	}

	if err := s.registry.UpsertState(id, cloud.ApplyStatus(status)); err != nil {
		s.logger.Warn("unit vanished during poll", "unit_id", id)
	}

	// A still-pending command keeps its optimistic flag set.
	if s.registry.Pending(id) != nil {
		_ = s.registry.UpsertState(id, func(st *unit.State) {
			st.Optimistic = true
		})
	}
}

// maskPendingField strips the in-flight command's field from an observed
// snapshot so a stale server echo does not stomp the optimistic value
// mid-window.
func (s *Synchronizer) maskPendingField(status *cloud.UnitStatus, pending *unit.Command) {
	switch pending.Type {
	case unit.CommandSetPower:
		status.PowerOn = nil
	case unit.CommandSetMode:
		status.ModeCode = ""
	case unit.CommandSetTargetTemperature:
		status.TargetTempC = nil
	case unit.CommandSetFanSpeed:
		status.FanCode = ""
	}
}

// expireOverdue presumes a pending command failed once its window closes
// while the unit cannot be refreshed, reverting the optimistic values to
// the last observed snapshot.
func (s *Synchronizer) expireOverdue(id string, now time.Time) {
	pending := s.registry.Pending(id)
	if pending == nil || !pending.Expired(now) {
		return
	}
	s.registry.ResolvePending(id, false)

	snap, err := s.registry.Get(id)
	if err != nil || snap.State.Raw == nil {
		return
	}
	_ = s.registry.UpsertState(id, cloud.ApplyStatus(cloud.StatusFromRaw(snap.State.Raw)))
}

// recordCycleFailure handles a whole-request failure. Session problems
// are not the units' fault, so they skip per-unit backoff.
func (s *Synchronizer) recordCycleFailure(ctx context.Context, due []string, err error) {
	switch {
	case ctx.Err() != nil:
		return
	case errors.Is(err, cloud.ErrSessionUnstable):
		s.metrics.IncPollError("session_unstable")
		s.logger.Warn("poll skipped, session unstable", "error", err)
	case errors.Is(err, cloud.ErrNotConfigured):
		s.metrics.IncPollError("not_configured")
		s.logger.Warn("poll skipped, no account configured")
	case errors.Is(err, cloud.ErrAuthenticationFailed):
		s.metrics.IncPollError("auth_failed")
		s.logger.Error("poll failed, authentication rejected", "error", err)
	default:
		s.metrics.IncPollError("transport")
		s.logger.Error("poll failed", "error", err)
		now := time.Now()
		for _, id := range due {
			s.recordUnitFailure(id)
			s.expireOverdue(id, now)
		}
	}
}

// dueUnits lists units not currently held back by backoff.
func (s *Synchronizer) dueUnits(now time.Time) []string {
	snaps := s.registry.List()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop backoff entries for units no longer in the catalogue.
	known := make(map[string]struct{}, len(snaps))
	for _, snap := range snaps {
		known[snap.Unit.ID] = struct{}{}
	}
	for id := range s.backoffs {
		if _, ok := known[id]; !ok {
			delete(s.backoffs, id)
		}
	}
	for id := range s.misses {
		if _, ok := known[id]; !ok {
			delete(s.misses, id)
		}
	}

	due := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		if b, ok := s.backoffs[snap.Unit.ID]; ok && now.Before(b.until) {
			continue
		}
		due = append(due, snap.Unit.ID)
	}
	return due
}

func (s *Synchronizer) recordUnitFailure(id string) {
	failures := s.registry.RecordRefreshFailure(id)

	s.mu.Lock()
	b := s.backoffs[id]
	if b == nil {
		b = &backoffState{delay: s.config.BackoffInitial}
		s.backoffs[id] = b
	} else {
		b.delay *= 2
		if b.delay > s.config.BackoffMax {
			b.delay = s.config.BackoffMax
		}
	}
	b.until = time.Now().Add(b.delay)
	delay := b.delay
	s.mu.Unlock()

	s.logger.Warn("unit refresh failed",
		"unit_id", id, "consecutive_failures", failures, "next_attempt_in", delay)
}

func (s *Synchronizer) recordUnitSuccess(id string) {
	s.registry.RecordRefreshSuccess(id)

	s.mu.Lock()
	delete(s.backoffs, id)
	delete(s.misses, id)
	s.mu.Unlock()
}

// recordUnitMiss counts a unit absent from an otherwise successful
// status response. Reports true once the absence streak reaches the
// rediscovery threshold, resetting the streak so a failed rediscovery
// does not retrigger on every poll.
func (s *Synchronizer) recordUnitMiss(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.misses[id]++
	if s.misses[id] < rediscoverMissThreshold {
		return false
	}
	delete(s.misses, id)
	return true
}

// commandConfirmed reports whether an observed snapshot carries the
// command's requested value. A reading absent from the snapshot never
// confirms anything; confirmation requires positive evidence.
func commandConfirmed(status cloud.UnitStatus, cmd *unit.Command) bool {
	switch cmd.Type {
	case unit.CommandSetPower:
		return status.PowerOn != nil && cmd.Power != nil && *status.PowerOn == *cmd.Power
	case unit.CommandSetMode:
		return status.ModeCode != "" && cmd.Mode != nil &&
			cloud.ModeFromCode(status.ModeCode) == *cmd.Mode
	case unit.CommandSetTargetTemperature:
		if status.TargetTempC == nil || cmd.TargetTempC == nil {
			return false
		}
		diff := *status.TargetTempC - *cmd.TargetTempC
		if diff < 0 {
			diff = -diff
		}
		return diff < unit.TargetTempStepC/2
	case unit.CommandSetFanSpeed:
		return status.FanCode != "" && cmd.FanSpeed != nil &&
			cloud.FanSpeedFromCode(status.FanCode) == *cmd.FanSpeed
	}
	return false
}
