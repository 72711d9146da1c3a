// Package clock supplies "today" to request handlers. Nothing below the
// service layer reads wall time.
package clock

import (
	"fmt"
	"time"

	"github.com/golang-sql/civil"
)

type Clock interface {
	Today() civil.Date
}

// System reads the wall clock in a fixed location.
type System struct {
	loc *time.Location
	now func() time.Time
}

func NewSystem(timezone string) (*System, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	return &System{loc: loc, now: time.Now}, nil
}

func (s *System) Today() civil.Date {
	return civil.DateOf(s.now().In(s.loc))
}

// Fixed always returns the same date. Used by tests and the seed command.
type Fixed civil.Date

func (f Fixed) Today() civil.Date { return civil.Date(f) }
