package maintenance

import "github.com/golang-sql/civil"

// DeriveStatus computes a record's status from its dates. A stored status is
// never consulted.
func DeriveStatus(nextMaintenance, completion *civil.Date, today civil.Date) Status {
	switch {
	case completion != nil:
		return StatusCompleted
	case nextMaintenance == nil:
		return StatusPending
	case nextMaintenance.Before(today):
		return StatusPending
	default:
		return StatusScheduled
	}
}

// Overdue reports whether r is open with a due date already in the past.
func Overdue(r Record, today civil.Date) bool {
	return r.IsOpen() && r.NextMaintenanceDate != nil && r.NextMaintenanceDate.Before(today)
}
