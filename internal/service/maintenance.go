// Package service runs maintenance operations against the store. Each call
// reads the clock once, loads the record set, asks the engine for the new
// state and persists it. Status is always re-derived before leaving here.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/clock"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/events"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/metrics"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/retry"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/storage"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultStoreTimeout = 5 * time.Second

type Options struct {
	// StoreTimeout bounds every store call. Zero means five seconds.
	StoreTimeout time.Duration
	// CommitRetries is the number of completion attempts after a lost race.
	CommitRetries int
}

type Service struct {
	store   storage.RecordStore
	engine  *maintenance.Engine
	clock   clock.Clock
	events  events.Publisher
	metrics *metrics.Collector
	logger  *zap.Logger

	storeTimeout time.Duration
	commitPolicy retry.Policy
}

// New wires a service. publisher and collector may be nil.
func New(store storage.RecordStore, engine *maintenance.Engine, clk clock.Clock, publisher events.Publisher, collector *metrics.Collector, logger *zap.Logger, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	policy := retry.DefaultPolicy()
	if opts.CommitRetries > 0 {
		policy.Attempts = opts.CommitRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:        store,
		engine:       engine,
		clock:        clk,
		events:       publisher,
		metrics:      collector,
		logger:       logger,
		storeTimeout: opts.StoreTimeout,
		commitPolicy: policy,
	}
}

// CreateInput describes a machine entered by hand or imported.
type CreateInput struct {
	maintenance.Details
	TicketReference     string      `json:"ticket_reference"`
	NextMaintenanceDate *civil.Date `json:"next_maintenance_date"`
}

// Get returns one record with its status derived for today.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (r maintenance.Record, err error) {
	defer s.observe("get", time.Now(), &err)
	today := s.clock.Today()

	r, err = s.get(ctx, id)
	if err != nil {
		return maintenance.Record{}, err
	}
	return r.Refreshed(today), nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (r maintenance.Record, err error) {
	defer s.observe("create", time.Now(), &err)
	today := s.clock.Today()

	records, err := s.list(ctx)
	if err != nil {
		return maintenance.Record{}, err
	}

	record, err := s.engine.NewRecord(in.Details, in.TicketReference, in.NextMaintenanceDate, records, today)
	if err != nil {
		return maintenance.Record{}, err
	}

	stored, err := s.insert(ctx, record)
	if err != nil {
		return maintenance.Record{}, err
	}
	stored = stored.Refreshed(today)

	s.logger.Info("Maintenance record created",
		zap.String("record_id", stored.ID.String()),
		zap.String("machine", stored.MachineName),
		zap.String("sector", stored.Sector))
	s.publish(events.RecordCreated, stored)
	return stored, nil
}

// Edit replaces the descriptive fields of an open record.
func (s *Service) Edit(ctx context.Context, id uuid.UUID, details maintenance.Details) (r maintenance.Record, err error) {
	defer s.observe("edit", time.Now(), &err)
	today := s.clock.Today()

	records, err := s.list(ctx)
	if err != nil {
		return maintenance.Record{}, err
	}

	updated, err := s.engine.EditDetails(id, details, records, today)
	if err != nil {
		return maintenance.Record{}, err
	}

	stored, err := s.update(ctx, updated)
	if err != nil {
		return maintenance.Record{}, err
	}
	stored = stored.Refreshed(today)

	s.logger.Info("Maintenance record updated", zap.String("record_id", stored.ID.String()))
	s.publish(events.RecordUpdated, stored)
	return stored, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer s.observe("delete", time.Now(), &err)
	today := s.clock.Today()

	record, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Delete(callCtx, id); err != nil {
		return s.storeError(err)
	}

	s.logger.Info("Maintenance record deleted", zap.String("record_id", id.String()))
	s.publish(events.RecordDeleted, record.Refreshed(today))
	return nil
}

// Schedule books date as the next maintenance of an open record. A taken
// date is a conflict; it is never moved.
func (s *Service) Schedule(ctx context.Context, id uuid.UUID, date *civil.Date) (r maintenance.Record, err error) {
	defer s.observe("schedule", time.Now(), &err)
	today := s.clock.Today()

	records, err := s.list(ctx)
	if err != nil {
		return maintenance.Record{}, err
	}

	updated, err := s.engine.ScheduleAppointment(id, date, records, today)
	if err != nil {
		return maintenance.Record{}, err
	}

	stored, err := s.update(ctx, updated)
	if err != nil {
		return maintenance.Record{}, err
	}
	stored = stored.Refreshed(today)

	s.logger.Info("Maintenance scheduled",
		zap.String("record_id", stored.ID.String()),
		zap.Stringer("date", stored.NextMaintenanceDate))
	s.publish(events.RecordScheduled, stored)
	return stored, nil
}

// Complete closes the cycle of id and opens the next one. Retrying a request
// whose first attempt committed returns the stored outcome.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, completionDate *civil.Date, ticketReference string) (c maintenance.Completion, err error) {
	defer s.observe("complete", time.Now(), &err)
	today := s.clock.Today()

	if err := maintenance.ValidateCompletion(completionDate, ticketReference, today); err != nil {
		return maintenance.Completion{}, err
	}

	var (
		result  maintenance.Completion
		created bool
	)
	err = retry.Do(ctx, s.commitPolicy, lostRace, func(attempt int) error {
		if attempt > 1 {
			s.metrics.CommitRetried()
			s.logger.Warn("Retrying completion after concurrent write",
				zap.String("record_id", id.String()),
				zap.Int("attempt", attempt))
		}

		if prior, ok, err := s.priorCompletion(ctx, id); err != nil {
			return err
		} else if ok {
			if !sameCompletion(prior.Updated, completionDate, ticketReference) {
				return &maintenance.ValidationError{
					Field:   "completion_date",
					Message: fmt.Sprintf("cycle was already completed on %s", prior.Updated.CompletionDate),
				}
			}
			result, created = prior, false
			return nil
		}

		records, err := s.list(ctx)
		if err != nil {
			return err
		}

		outcome, err := s.engine.CompleteMaintenance(id, completionDate, ticketReference, records, today)
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		next, err := s.store.CommitCompletion(callCtx, outcome.Updated, outcome.Next)
		if err != nil {
			if lostRace(err) {
				return err
			}
			return s.storeError(err)
		}

		outcome.Next = next
		result, created = outcome, true
		return nil
	})
	if err != nil {
		switch {
		case lostRace(err):
			return maintenance.Completion{}, s.raceError(err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return maintenance.Completion{}, fmt.Errorf("%w: %v", maintenance.ErrStoreUnavailable, err)
		}
		return maintenance.Completion{}, err
	}

	result.Updated = result.Updated.Refreshed(today)
	result.Next = result.Next.Refreshed(today)

	if created {
		s.logger.Info("Maintenance completed",
			zap.String("record_id", result.Updated.ID.String()),
			zap.String("ticket", result.Updated.TicketReference),
			zap.String("next_record_id", result.Next.ID.String()),
			zap.Stringer("next_date", result.Next.NextMaintenanceDate))
		s.publish(events.RecordCompleted, result.Updated)
		s.publish(events.CycleCreated, result.Next)
	}
	return result, nil
}

// sameCompletion reports whether a request repeats the completion stored on r.
func sameCompletion(r maintenance.Record, completionDate *civil.Date, ticketReference string) bool {
	return r.CompletionDate != nil && *r.CompletionDate == *completionDate &&
		r.TicketReference == strings.TrimSpace(ticketReference)
}

// priorCompletion finds an already committed completion of id.
func (s *Service) priorCompletion(ctx context.Context, id uuid.UUID) (maintenance.Completion, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	next, err := s.store.FindByPrevious(callCtx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return maintenance.Completion{}, false, nil
	}
	if err != nil {
		return maintenance.Completion{}, false, s.storeError(err)
	}

	updated, err := s.store.Get(callCtx, id)
	if err != nil {
		return maintenance.Completion{}, false, s.storeError(err)
	}
	return maintenance.Completion{Updated: updated, Next: next}, true, nil
}

func lostRace(err error) bool {
	return errors.Is(err, storage.ErrBookingConflict) || errors.Is(err, storage.ErrStale)
}

// raceError reports a completion that kept losing after every retry.
func (s *Service) raceError(err error) error {
	if errors.Is(err, storage.ErrBookingConflict) {
		return fmt.Errorf("%w: %v", maintenance.ErrDateConflict, err)
	}
	return &maintenance.ValidationError{Field: "record", Message: "was modified concurrently"}
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (maintenance.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	r, err := s.store.Get(callCtx, id)
	if err != nil {
		return maintenance.Record{}, s.storeError(err)
	}
	return r, nil
}

func (s *Service) list(ctx context.Context) ([]maintenance.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	records, err := s.store.List(callCtx)
	if err != nil {
		return nil, s.storeError(err)
	}
	return records, nil
}

func (s *Service) insert(ctx context.Context, r maintenance.Record) (maintenance.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	stored, err := s.store.Insert(callCtx, r)
	if err != nil {
		if errors.Is(err, storage.ErrBookingConflict) && r.NextMaintenanceDate != nil {
			return maintenance.Record{}, &maintenance.ConflictError{Date: *r.NextMaintenanceDate}
		}
		return maintenance.Record{}, s.storeError(err)
	}
	return stored, nil
}

func (s *Service) update(ctx context.Context, r maintenance.Record) (maintenance.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	stored, err := s.store.Update(callCtx, r)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrBookingConflict) && r.NextMaintenanceDate != nil:
			return maintenance.Record{}, &maintenance.ConflictError{Date: *r.NextMaintenanceDate}
		case errors.Is(err, storage.ErrStale):
			return maintenance.Record{}, &maintenance.ValidationError{Field: "record", Message: "cycle was completed concurrently"}
		}
		return maintenance.Record{}, s.storeError(err)
	}
	return stored, nil
}

// storeError maps driver failures onto the maintenance error kinds.
// Anything unrecognised, timeouts included, is StoreUnavailable.
func (s *Service) storeError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return maintenance.ErrNotFound
	case errors.Is(err, storage.ErrBookingConflict):
		return fmt.Errorf("%w: %v", maintenance.ErrDateConflict, err)
	}
	s.logger.Error("Store call failed", zap.Error(err))
	return fmt.Errorf("%w: %v", maintenance.ErrStoreUnavailable, err)
}

func (s *Service) publish(t events.Type, r maintenance.Record) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.New(t, r))
}

func (s *Service) observe(operation string, start time.Time, err *error) {
	s.metrics.Observe(operation, Outcome(*err), time.Since(start))
}

// Outcome names the error kind of err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, maintenance.ErrValidation):
		return "validation"
	case errors.Is(err, maintenance.ErrNotFound):
		return "not_found"
	case errors.Is(err, maintenance.ErrDateConflict):
		return "conflict"
	case errors.Is(err, maintenance.ErrSchedulingExhausted):
		return "exhausted"
	case errors.Is(err, maintenance.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
