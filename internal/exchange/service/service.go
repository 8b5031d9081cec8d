// Package service orchestrates the exchange-instance lifecycle: creation,
// check-in processing, dispute filing, and finalization. All mutations go
// through the store's versioned Update; conflicting writers retry a bounded
// number of times before surfacing a conflict.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	id "handoff/pkg/domain"
	dErrors "handoff/pkg/domain-errors"
	"handoff/pkg/requestcontext"

	"handoff/internal/events"
	"handoff/internal/exchange"
	"handoff/internal/exchange/metrics"
	"handoff/internal/exchange/models"
	"handoff/internal/exchange/store"
	"handoff/internal/geofence"
)

// maxUpdateAttempts bounds internal retries on a version conflict before the
// caller sees CodeConflict.
const maxUpdateAttempts = 3

// Finalization triggers, recorded on metrics and events.
const (
	TriggerEager   = "eager"
	TriggerSweep   = "sweep"
	TriggerDispute = "dispute"
)

// Archiver uploads a snapshot of a finalized instance to long-term evidence
// storage. Best-effort: archive failures never fail the finalization.
type Archiver interface {
	ArchiveInstance(ctx context.Context, inst *models.ExchangeInstance) error
}

// Service is the exchange-instance application service.
type Service struct {
	store        store.Store
	events       events.Publisher
	archiver     Archiver
	logger       *slog.Logger
	metrics      *metrics.Metrics
	disputeGrace time.Duration
}

// NewService constructs a Service. archiver may be nil when no evidence
// bucket is configured.
func NewService(st store.Store, publisher events.Publisher, archiver Archiver, logger *slog.Logger, m *metrics.Metrics, disputeGrace time.Duration) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		store:        st,
		events:       publisher,
		archiver:     archiver,
		logger:       logger,
		metrics:      m,
		disputeGrace: disputeGrace,
	}
}

// CreateParams are the inputs for instance creation. The window is derived
// once from the scheduled time; the geofence is snapshotted onto the
// instance so later definition edits cannot alter evidence.
type CreateParams struct {
	DefinitionID  id.DefinitionID
	FromParty     id.PartyID
	ToParty       id.PartyID
	ScheduledTime time.Time
	WindowBefore  time.Duration
	WindowAfter   time.Duration
	Geofence      models.Geofence
}

// CreateInstance creates a new scheduled exchange instance.
func (s *Service) CreateInstance(ctx context.Context, p CreateParams) (*models.ExchangeInstance, error) {
	if p.WindowBefore < 0 || p.WindowAfter < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "window offsets must be non-negative")
	}
	if err := geofence.Validate(geofence.Point{Lat: p.Geofence.CenterLat, Lng: p.Geofence.CenterLng}); err != nil {
		return nil, err
	}
	if p.Geofence.RadiusM <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "geofence radius must be positive")
	}

	now := requestcontext.Now(ctx)
	scheduled := p.ScheduledTime.UTC()
	inst := &models.ExchangeInstance{
		ID:            id.NewInstanceID(),
		DefinitionID:  p.DefinitionID,
		FromParty:     p.FromParty,
		ToParty:       p.ToParty,
		ScheduledTime: scheduled,
		WindowStart:   scheduled.Add(-p.WindowBefore),
		WindowEnd:     scheduled.Add(p.WindowAfter),
		Geofence:      p.Geofence,
		State:         models.StateScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := inst.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, inst); err != nil {
		s.logger.ErrorContext(ctx, "failed to create exchange instance",
			"instance_id", inst.ID.String(),
			"error", err)
		return nil, dErrors.New(dErrors.CodeInternal, "failed to create exchange instance")
	}

	s.logger.InfoContext(ctx, "exchange instance created",
		"instance_id", inst.ID.String(),
		"definition_id", inst.DefinitionID.String(),
		"window_start", inst.WindowStart,
		"window_end", inst.WindowEnd)
	return inst, nil
}

// GetInstance returns one instance by ID. The window-open transition is
// observed lazily: a scheduled instance read while its window is open is
// surfaced as window_open without waiting for a write.
func (s *Service) GetInstance(ctx context.Context, instanceID id.InstanceID) (*models.ExchangeInstance, error) {
	inst, err := s.store.Get(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInstanceNotFound, "exchange instance not found")
		}
		return nil, dErrors.New(dErrors.CodeInternal, "failed to load exchange instance")
	}
	if inst.State == models.StateScheduled && inst.WindowOpenAt(requestcontext.Now(ctx)) {
		inst.State = models.StateWindowOpen
	}
	return inst, nil
}

// CheckInParams are one party's check-in submission.
type CheckInParams struct {
	InstanceID      id.InstanceID
	Role            models.PartyRole
	Lat             float64
	Lng             float64
	DeviceAccuracyM float64
	// ClientClaimedAt is the client-reported capture time, kept for audit.
	// It never drives window comparisons.
	ClientClaimedAt time.Time
}

// CheckInResult reports what the processor recorded.
type CheckInResult struct {
	DistanceM      float64
	WithinGeofence bool
	Late           bool
	Finalized      bool
	Outcome        *models.Outcome
	State          models.InstanceState
}

// SubmitCheckIn validates and records a check-in, then finalizes eagerly when
// the recorded facts already determine the outcome. A party may re-submit
// while the instance is live; the latest submission wins. Once the instance
// is terminal the record is frozen.
func (s *Service) SubmitCheckIn(ctx context.Context, p CheckInParams) (*CheckInResult, error) {
	point := geofence.Point{Lat: p.Lat, Lng: p.Lng}
	if err := geofence.Validate(point); err != nil {
		s.metrics.IncrementCheckIn("rejected")
		return nil, err
	}

	var (
		inst      *models.ExchangeInstance
		result    *CheckInResult
		finalized bool
	)
	err := s.withRetry(ctx, func() error {
		var err error
		inst, err = s.GetInstance(ctx, p.InstanceID)
		if err != nil {
			return err
		}
		now := requestcontext.Now(ctx)

		if inst.Finalized() {
			s.metrics.IncrementCheckIn("rejected")
			return dErrors.New(dErrors.CodeInstanceFinalized, "exchange instance is already finalized")
		}

		if now.Before(inst.WindowStart) {
			// Early attempts are rejected but retained for audit.
			inst.EarlyAttempts++
			inst.LastEarlyAttemptAt = &now
			inst.UpdatedAt = now
			if err := s.store.Update(ctx, inst); err != nil {
				return err
			}
			s.metrics.IncrementCheckIn("early")
			return dErrors.New(dErrors.CodeOutOfWindow, "check-in window has not opened yet")
		}

		within, distance, err := geofence.WithinGeofence(point,
			geofence.Point{Lat: inst.Geofence.CenterLat, Lng: inst.Geofence.CenterLng},
			inst.Geofence.RadiusM, p.DeviceAccuracyM)
		if err != nil {
			s.metrics.IncrementCheckIn("rejected")
			return err
		}

		claimed := p.ClientClaimedAt.UTC()
		late := inst.WindowClosed(now) ||
			(!claimed.IsZero() && !inst.WindowOpenAt(claimed))

		inst.SetCheckIn(p.Role, &models.CheckIn{
			Lat:             p.Lat,
			Lng:             p.Lng,
			DeviceAccuracyM: p.DeviceAccuracyM,
			CheckedInAt:     now,
			ClientClaimedAt: claimed,
			DistanceM:       distance,
			WithinGeofence:  within,
			Late:            late,
		})

		outcome, final := exchange.ResolveOutcome(exchange.FactsOf(inst, inst.WindowClosed(now)))
		if final {
			s.applyFinalization(inst, outcome, now, false)
		} else {
			inst.State = models.StatePartiallyCheckedIn
		}
		inst.UpdatedAt = now

		if err := s.store.Update(ctx, inst); err != nil {
			return err
		}

		finalized = final
		result = &CheckInResult{
			DistanceM:      distance,
			WithinGeofence: within,
			Late:           late,
			Finalized:      final,
			Outcome:        inst.Outcome,
			State:          inst.State,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Late {
		s.metrics.IncrementCheckIn("late")
	} else {
		s.metrics.IncrementCheckIn("accepted")
	}
	s.publish(ctx, events.New(events.TypeCheckedIn, inst.ID, requestcontext.Now(ctx), map[string]string{
		"role":            string(p.Role),
		"within_geofence": boolString(result.WithinGeofence),
		"late":            boolString(result.Late),
	}))
	if finalized {
		s.afterFinalization(ctx, inst, TriggerEager)
	}

	s.logger.InfoContext(ctx, "check-in recorded",
		"instance_id", inst.ID.String(),
		"role", string(p.Role),
		"distance_m", result.DistanceM,
		"within_geofence", result.WithinGeofence,
		"late", result.Late,
		"finalized", result.Finalized)
	return result, nil
}

// FileDispute flags the instance as disputed. Allowed while live and up to
// the configured grace period after finalization. The flag is monotonic:
// filing on an already-disputed instance is a no-op.
func (s *Service) FileDispute(ctx context.Context, instanceID id.InstanceID, filedBy id.PartyID, notes string) (*models.ExchangeInstance, error) {
	var (
		inst   *models.ExchangeInstance
		timing string
		noop   bool
	)
	err := s.withRetry(ctx, func() error {
		var err error
		inst, err = s.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		now := requestcontext.Now(ctx)

		if inst.Dispute != nil {
			noop = true
			return nil
		}

		timing = "pre_finalization"
		if inst.Finalized() {
			timing = "post_finalization"
			deadline := inst.FinalizedAt.Add(s.disputeGrace)
			if now.After(deadline) {
				return dErrors.New(dErrors.CodeDisputeWindowClosed, "dispute grace period has passed")
			}
		}

		inst.Dispute = &models.Dispute{
			FiledBy: filedBy,
			FiledAt: now,
			Notes:   notes,
		}
		// A dispute overrides any previously resolved outcome but keeps
		// the original finalization timestamp for the record.
		outcome := models.OutcomeDisputed
		inst.Outcome = &outcome
		inst.State = models.StateDisputed
		if inst.FinalizedAt == nil {
			inst.FinalizedAt = &now
		}
		inst.UpdatedAt = now
		return s.store.Update(ctx, inst)
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return inst, nil
	}

	s.metrics.IncrementDispute(timing)
	s.metrics.IncrementOutcome(string(models.OutcomeDisputed), TriggerDispute)
	s.publish(ctx, events.New(events.TypeDisputed, inst.ID, requestcontext.Now(ctx), map[string]string{
		"filed_by": filedBy.String(),
		"timing":   timing,
	}))
	s.archive(ctx, inst)

	s.logger.InfoContext(ctx, "dispute filed",
		"instance_id", inst.ID.String(),
		"filed_by", filedBy.String(),
		"timing", timing)
	return inst, nil
}

// FinalizeExpired closes one instance whose window has passed. Idempotent:
// an already-terminal or not-yet-expired instance is a no-op. Returns whether
// this call performed the finalization.
func (s *Service) FinalizeExpired(ctx context.Context, inst *models.ExchangeInstance) (bool, error) {
	now := requestcontext.Now(ctx)
	if inst.Finalized() || inst.ArchivedAt != nil || !inst.WindowClosed(now) {
		return false, nil
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		outcome, final := exchange.ResolveOutcome(exchange.FactsOf(inst, true))
		if !final {
			// Unreachable with a closed window; resolver always decides.
			return false, nil
		}
		s.applyFinalization(inst, outcome, now, true)
		inst.UpdatedAt = now

		err := s.store.Update(ctx, inst)
		if err == nil {
			s.afterFinalization(ctx, inst, TriggerSweep)
			return true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return false, err
		}

		// Another writer got there first. Re-read; if it finalized the
		// instance the sweep's work is done.
		fresh, err := s.store.Get(ctx, inst.ID)
		if err != nil {
			return false, err
		}
		if fresh.Finalized() {
			return false, nil
		}
		inst = fresh
	}
	return false, dErrors.New(dErrors.CodeConflict, "exchange instance is being modified concurrently")
}

// applyFinalization stamps the terminal state onto the instance in memory.
func (s *Service) applyFinalization(inst *models.ExchangeInstance, outcome models.Outcome, now time.Time, autoClosed bool) {
	inst.Outcome = &outcome
	inst.State = outcome.State()
	inst.FinalizedAt = &now
	if autoClosed {
		inst.AutoClosed = true
		inst.AutoClosedAt = &now
	}
}

// afterFinalization emits the side effects of a finalization: metrics, the
// lifecycle event, and the best-effort evidence archive.
func (s *Service) afterFinalization(ctx context.Context, inst *models.ExchangeInstance, trigger string) {
	outcome := ""
	if inst.Outcome != nil {
		outcome = string(*inst.Outcome)
	}
	s.metrics.IncrementOutcome(outcome, trigger)
	s.publish(ctx, events.New(events.TypeFinalized, inst.ID, requestcontext.Now(ctx), map[string]string{
		"outcome": outcome,
		"trigger": trigger,
	}))
	s.archive(ctx, inst)

	s.logger.InfoContext(ctx, "exchange instance finalized",
		"instance_id", inst.ID.String(),
		"outcome", outcome,
		"trigger", trigger)
}

// withRetry runs fn, retrying on store version conflicts up to
// maxUpdateAttempts before surfacing CodeConflict.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		lastErr = err
		s.logger.WarnContext(ctx, "concurrent update conflict, retrying",
			"attempt", attempt)
	}
	s.logger.WarnContext(ctx, "update conflict retries exhausted", "error", lastErr)
	return dErrors.New(dErrors.CodeConflict, "exchange instance is being modified concurrently")
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"event_type", event.Type,
			"instance_id", event.Instance,
			"error", err)
	}
}

func (s *Service) archive(ctx context.Context, inst *models.ExchangeInstance) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveInstance(ctx, inst); err != nil {
		s.logger.WarnContext(ctx, "failed to archive exchange instance",
			"instance_id", inst.ID.String(),
			"error", err)
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
