package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/events"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"go.uber.org/zap"
)

// ImportResult summarises a bulk import.
type ImportResult struct {
	Created []maintenance.Record `json:"created"`
	Skipped []string             `json:"skipped"`
}

// Import creates a record for every machine not already in the fleet.
// A machine is known when an existing record has the same sector and
// machine name. Items are validated like Create; the first invalid item
// aborts the run, leaving earlier items in place.
func (s *Service) Import(ctx context.Context, items []CreateInput) (res ImportResult, err error) {
	defer s.observe("import", time.Now(), &err)
	today := s.clock.Today()

	records, err := s.list(ctx)
	if err != nil {
		return ImportResult{}, err
	}

	known := make(map[string]bool, len(records))
	for _, r := range records {
		known[machineKey(r.Details())] = true
	}

	res = ImportResult{Created: []maintenance.Record{}, Skipped: []string{}}
	for i, item := range items {
		key := machineKey(item.Details)
		if known[key] {
			res.Skipped = append(res.Skipped, strings.TrimSpace(item.MachineName))
			continue
		}

		record, err := s.engine.NewRecord(item.Details, item.TicketReference, item.NextMaintenanceDate, records, today)
		if err != nil {
			var verr *maintenance.ValidationError
			if errors.As(err, &verr) {
				verr.Message = fmt.Sprintf("item %d: %s", i, verr.Message)
				return res, verr
			}
			return res, fmt.Errorf("item %d: %w", i, err)
		}

		stored, err := s.insert(ctx, record)
		if err != nil {
			return res, err
		}
		stored = stored.Refreshed(today)

		records = append(records, stored)
		known[key] = true
		res.Created = append(res.Created, stored)
		s.publish(events.RecordCreated, stored)
	}

	s.logger.Info("Machine import finished",
		zap.Int("created", len(res.Created)),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func machineKey(d maintenance.Details) string {
	return strings.ToLower(strings.TrimSpace(d.Sector)) + "\x00" + strings.ToLower(strings.TrimSpace(d.MachineName))
}
