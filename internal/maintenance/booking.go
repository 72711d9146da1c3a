package maintenance

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

// IsDateBooked reports whether an open record other than exclude already
// holds candidate as its next maintenance date. Completed records never
// block a booking.
func IsDateBooked(candidate civil.Date, exclude uuid.UUID, records []Record) bool {
	_, booked := bookedBy(candidate, exclude, records)
	return booked
}

func bookedBy(candidate civil.Date, exclude uuid.UUID, records []Record) (uuid.UUID, bool) {
	for _, r := range records {
		if r.ID == exclude || !r.IsOpen() || r.NextMaintenanceDate == nil {
			continue
		}
		if *r.NextMaintenanceDate == candidate {
			return r.ID, true
		}
	}
	return uuid.Nil, false
}

// NextBusinessDay moves a weekend date forward to Monday. Holidays are not
// modelled.
func NextBusinessDay(d civil.Date) civil.Date {
	switch weekday(d) {
	case time.Saturday:
		return d.AddDays(2)
	case time.Sunday:
		return d.AddDays(1)
	}
	return d
}

// IsBusinessDay reports whether d falls Monday through Friday.
func IsBusinessDay(d civil.Date) bool {
	wd := weekday(d)
	return wd != time.Saturday && wd != time.Sunday
}

func weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// FindNextAvailableBusinessDay walks forward from start until it reaches a
// business day no other open record holds. The walk is bounded by
// engine's search window; running past it yields ErrSchedulingExhausted.
func (e *Engine) FindNextAvailableBusinessDay(exclude uuid.UUID, start civil.Date, records []Record) (civil.Date, error) {
	candidate := start
	for attempt := 0; attempt < e.maxSearchDays; attempt++ {
		candidate = NextBusinessDay(candidate)
		if !IsDateBooked(candidate, exclude, records) {
			return candidate, nil
		}
		candidate = candidate.AddDays(1)
	}
	return civil.Date{}, ErrSchedulingExhausted
}
