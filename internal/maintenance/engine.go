// Package maintenance is the maintenance-cycle state machine. Every function
// is pure: callers pass the full record set and the current date, and persist
// whatever comes back.
package maintenance

import (
	"strings"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

const (
	DefaultIntervalDays  = 90
	DefaultMaxSearchDays = 3650
)

type Engine struct {
	intervalDays  int
	maxSearchDays int
}

// NewEngine builds an engine. Non-positive values fall back to the quarterly
// interval and a ten year search window.
func NewEngine(intervalDays, maxSearchDays int) *Engine {
	if intervalDays <= 0 {
		intervalDays = DefaultIntervalDays
	}
	if maxSearchDays <= 0 {
		maxSearchDays = DefaultMaxSearchDays
	}
	return &Engine{intervalDays: intervalDays, maxSearchDays: maxSearchDays}
}

func (e *Engine) IntervalDays() int { return e.intervalDays }

// Completion is the outcome of closing a cycle: the closed record and the
// record of the next cycle, which has no ID until the store assigns one.
type Completion struct {
	Updated Record `json:"updated"`
	Next    Record `json:"next"`
}

// CompleteMaintenance closes the cycle of recordID and opens the next one,
// due intervalDays after the completion on the first free business day.
func (e *Engine) CompleteMaintenance(recordID uuid.UUID, completionDate *civil.Date, ticketReference string, records []Record, today civil.Date) (Completion, error) {
	if err := ValidateCompletion(completionDate, ticketReference, today); err != nil {
		return Completion{}, err
	}
	ticketReference = strings.TrimSpace(ticketReference)

	target, ok := find(records, recordID)
	if !ok {
		return Completion{}, ErrNotFound
	}
	if !target.IsOpen() {
		return Completion{}, invalid("completion_date", "cycle was already completed on %s", target.CompletionDate)
	}

	updated := target.Refreshed(today)
	updated.CompletionDate = Date(*completionDate)
	updated.TicketReference = ticketReference
	updated.Status = DeriveStatus(updated.NextMaintenanceDate, updated.CompletionDate, today)

	due, err := e.FindNextAvailableBusinessDay(target.ID, completionDate.AddDays(e.intervalDays), records)
	if err != nil {
		return Completion{}, err
	}

	previous := target.ID
	next := Record{
		Sector:              target.Sector,
		MachineName:         target.MachineName,
		AssetTag:            target.AssetTag,
		NextMaintenanceDate: Date(due),
		PreviousRecordID:    &previous,
	}
	next.Status = DeriveStatus(next.NextMaintenanceDate, next.CompletionDate, today)

	return Completion{Updated: updated, Next: next}, nil
}

// ValidateCompletion checks the completion inputs on their own, without
// looking at any record.
func ValidateCompletion(completionDate *civil.Date, ticketReference string, today civil.Date) error {
	if completionDate == nil {
		return invalid("completion_date", "is required")
	}
	if !completionDate.IsValid() {
		return invalid("completion_date", "%s is not a calendar date", completionDate)
	}
	if completionDate.After(today) {
		return invalid("completion_date", "%s is in the future", completionDate)
	}
	if strings.TrimSpace(ticketReference) == "" {
		return invalid("ticket_reference", "is required")
	}
	return nil
}

// ScheduleAppointment books candidate as the next maintenance date of
// recordID. A taken date is reported as a conflict, never moved.
func (e *Engine) ScheduleAppointment(recordID uuid.UUID, candidate *civil.Date, records []Record, today civil.Date) (Record, error) {
	if err := checkBookable(candidate, today); err != nil {
		return Record{}, err
	}

	target, ok := find(records, recordID)
	if !ok {
		return Record{}, ErrNotFound
	}
	if !target.IsOpen() {
		return Record{}, invalid("next_maintenance_date", "completed cycles cannot be rescheduled")
	}
	if holder, booked := bookedBy(*candidate, recordID, records); booked {
		return Record{}, &ConflictError{Date: *candidate, HeldBy: holder}
	}

	updated := target.Refreshed(today)
	updated.NextMaintenanceDate = Date(*candidate)
	updated.Status = DeriveStatus(updated.NextMaintenanceDate, updated.CompletionDate, today)
	return updated, nil
}

// NewRecord validates a manually entered machine. The first appointment is
// optional and follows the same rules as ScheduleAppointment.
func (e *Engine) NewRecord(details Details, ticketReference string, nextMaintenance *civil.Date, records []Record, today civil.Date) (Record, error) {
	details = details.normalize()
	if err := checkDetails(details); err != nil {
		return Record{}, err
	}

	if nextMaintenance != nil {
		if err := checkBookable(nextMaintenance, today); err != nil {
			return Record{}, err
		}
		if holder, booked := bookedBy(*nextMaintenance, uuid.Nil, records); booked {
			return Record{}, &ConflictError{Date: *nextMaintenance, HeldBy: holder}
		}
	}

	r := Record{
		Sector:              details.Sector,
		MachineName:         details.MachineName,
		AssetTag:            details.AssetTag,
		TicketReference:     strings.TrimSpace(ticketReference),
		NextMaintenanceDate: copyDate(nextMaintenance),
	}
	r.Status = DeriveStatus(r.NextMaintenanceDate, nil, today)
	return r, nil
}

// EditDetails replaces the descriptive fields of an open record. Dates are
// left untouched.
func (e *Engine) EditDetails(recordID uuid.UUID, details Details, records []Record, today civil.Date) (Record, error) {
	details = details.normalize()
	if err := checkDetails(details); err != nil {
		return Record{}, err
	}

	target, ok := find(records, recordID)
	if !ok {
		return Record{}, ErrNotFound
	}
	if !target.IsOpen() {
		return Record{}, invalid("record", "completed cycles are read-only")
	}

	updated := target.Refreshed(today)
	updated.Sector = details.Sector
	updated.MachineName = details.MachineName
	updated.AssetTag = details.AssetTag
	return updated, nil
}

func checkDetails(d Details) error {
	if d.Sector == "" {
		return invalid("sector", "is required")
	}
	if d.MachineName == "" {
		return invalid("machine_name", "is required")
	}
	return nil
}

func checkBookable(candidate *civil.Date, today civil.Date) error {
	if candidate == nil {
		return invalid("next_maintenance_date", "is required")
	}
	if !candidate.IsValid() {
		return invalid("next_maintenance_date", "%s is not a calendar date", candidate)
	}
	if candidate.Before(today) {
		return invalid("next_maintenance_date", "%s is in the past", candidate)
	}
	return nil
}
