package maintenance

import (
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the three derived statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusCompleted:
		return true
	}
	return false
}

// Record is one maintenance cycle of one machine. Completing a cycle never
// rewrites history: it closes this record and spawns a new one.
type Record struct {
	ID                  uuid.UUID   `json:"id"`
	Sector              string      `json:"sector"`
	MachineName         string      `json:"machine_name"`
	AssetTag            string      `json:"asset_tag"`
	TicketReference     string      `json:"ticket_reference"`
	NextMaintenanceDate *civil.Date `json:"next_maintenance_date"`
	CompletionDate      *civil.Date `json:"completion_date"`
	Status              Status      `json:"status"` // cache, see DeriveStatus
	PreviousRecordID    *uuid.UUID  `json:"previous_record_id,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Details are the operator-editable descriptive fields of a record.
type Details struct {
	Sector      string `json:"sector"`
	MachineName string `json:"machine_name"`
	AssetTag    string `json:"asset_tag"`
}

func (d Details) normalize() Details {
	return Details{
		Sector:      strings.TrimSpace(d.Sector),
		MachineName: strings.TrimSpace(d.MachineName),
		AssetTag:    strings.TrimSpace(d.AssetTag),
	}
}

// IsOpen reports whether the cycle is still pending or scheduled.
func (r Record) IsOpen() bool {
	return r.CompletionDate == nil
}

// Details returns the descriptive fields of r.
func (r Record) Details() Details {
	return Details{Sector: r.Sector, MachineName: r.MachineName, AssetTag: r.AssetTag}
}

// Refreshed returns a copy of r whose Status is recomputed for today.
// Dates are copied so the result never aliases r.
func (r Record) Refreshed(today civil.Date) Record {
	r.NextMaintenanceDate = copyDate(r.NextMaintenanceDate)
	r.CompletionDate = copyDate(r.CompletionDate)
	r.Status = DeriveStatus(r.NextMaintenanceDate, r.CompletionDate, today)
	return r
}

// RefreshAll recomputes the status of every record for today.
func RefreshAll(records []Record, today civil.Date) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Refreshed(today)
	}
	return out
}

// Date returns a pointer to d, for optional date fields.
func Date(d civil.Date) *civil.Date {
	return &d
}

func copyDate(d *civil.Date) *civil.Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func find(records []Record, id uuid.UUID) (Record, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}
