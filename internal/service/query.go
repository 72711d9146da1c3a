package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	Search string
	Sector string
	Status maintenance.Status
}

// Listing is one page of the dashboard: the matching records plus per
// status counts over everything the search and sector filters matched.
type Listing struct {
	Today   civil.Date                 `json:"today"`
	Records []maintenance.Record       `json:"records"`
	Tabs    map[maintenance.Status]int `json:"tabs"`
	Total   int                        `json:"total"`
}

func (s *Service) List(ctx context.Context, filter Filter) (l Listing, err error) {
	defer s.observe("list", time.Now(), &err)
	today := s.clock.Today()

	if filter.Status != "" && !filter.Status.Valid() {
		return Listing{}, &maintenance.ValidationError{Field: "status", Message: "must be pending, scheduled or completed"}
	}

	records, err := s.list(ctx)
	if err != nil {
		return Listing{}, err
	}
	records = maintenance.RefreshAll(records, today)
	s.metrics.SetStatusCounts(countByStatus(records))

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	sector := strings.TrimSpace(filter.Sector)

	listing := Listing{
		Today:   today,
		Records: []maintenance.Record{},
		Tabs: map[maintenance.Status]int{
			maintenance.StatusPending:   0,
			maintenance.StatusScheduled: 0,
			maintenance.StatusCompleted: 0,
		},
	}
	for _, r := range records {
		if sector != "" && !strings.EqualFold(r.Sector, sector) {
			continue
		}
		if search != "" && !matches(r, search) {
			continue
		}
		listing.Tabs[r.Status]++
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		listing.Records = append(listing.Records, r)
	}

	SortByDueDate(listing.Records)
	listing.Total = len(listing.Records)
	return listing, nil
}

func matches(r maintenance.Record, needle string) bool {
	return strings.Contains(strings.ToLower(r.MachineName), needle) ||
		strings.Contains(strings.ToLower(r.AssetTag), needle)
}

func countByStatus(records []maintenance.Record) map[maintenance.Status]int {
	counts := make(map[maintenance.Status]int, 3)
	for _, r := range records {
		counts[r.Status]++
	}
	return counts
}

// SortByDueDate orders by next maintenance date, undated records last, then
// by machine name.
func SortByDueDate(records []maintenance.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].NextMaintenanceDate, records[j].NextMaintenanceDate
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return a.Before(*b)
		}
		return records[i].MachineName < records[j].MachineName
	})
}

// History returns every cycle of the machine id belongs to, newest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) (h []maintenance.Record, err error) {
	defer s.observe("history", time.Now(), &err)
	today := s.clock.Today()

	records, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]maintenance.Record, len(records))
	successor := make(map[uuid.UUID]uuid.UUID, len(records))
	for _, r := range records {
		byID[r.ID] = r
		if r.PreviousRecordID != nil {
			successor[*r.PreviousRecordID] = r.ID
		}
	}

	if _, ok := byID[id]; !ok {
		return nil, maintenance.ErrNotFound
	}

	head := id
	for seen := 0; seen < len(records); seen++ {
		next, ok := successor[head]
		if !ok {
			break
		}
		head = next
	}

	var lineage []maintenance.Record
	for cursor := &head; cursor != nil && len(lineage) < len(records); {
		current, ok := byID[*cursor]
		if !ok {
			break
		}
		lineage = append(lineage, current.Refreshed(today))
		cursor = current.PreviousRecordID
	}
	return lineage, nil
}

// Sectors lists the distinct sectors in use, sorted.
func (s *Service) Sectors(ctx context.Context) (out []string, err error) {
	defer s.observe("sectors", time.Now(), &err)

	records, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	out = []string{}
	for _, r := range records {
		if _, ok := seen[r.Sector]; ok {
			continue
		}
		seen[r.Sector] = struct{}{}
		out = append(out, r.Sector)
	}
	sort.Strings(out)
	return out, nil
}

// Equipment returns the latest cycle of every machine, whatever its status,
// ordered by sector and machine name.
func (s *Service) Equipment(ctx context.Context) (out []maintenance.Record, err error) {
	defer s.observe("equipment", time.Now(), &err)
	today := s.clock.Today()

	records, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	superseded := make(map[uuid.UUID]bool, len(records))
	for _, r := range records {
		if r.PreviousRecordID != nil {
			superseded[*r.PreviousRecordID] = true
		}
	}

	out = []maintenance.Record{}
	for _, r := range records {
		if !superseded[r.ID] {
			out = append(out, r.Refreshed(today))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sector != out[j].Sector {
			return out[i].Sector < out[j].Sector
		}
		return out[i].MachineName < out[j].MachineName
	})
	return out, nil
}
