package service

import (
	"context"
	"testing"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(records []maintenance.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.MachineName
	}
	return out
}

func TestListFiltersAndSorts(t *testing.T) {
	h := newHarness(t, sqliteStore(t), "2025-01-06", Options{})
	ctx := context.Background()

	h.create(t, "undated-pc", "")
	h.create(t, "late-pc", "2025-02-10")
	early := h.create(t, "early-pc", "2025-01-07")
	_, err := h.svc.Create(ctx, CreateInput{Details: maintenance.Details{Sector: "LOG", MachineName: "log-pc", AssetTag: "MA-9S0T1U2-L"}})
	require.NoError(t, err)

	_, err = h.svc.Complete(ctx, early.ID, day(t, "2025-01-06"), "CH1")
	require.NoError(t, err)

	listing, err := h.svc.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"early-pc", "late-pc", "early-pc", "log-pc", "undated-pc"}, names(listing.Records))
	assert.Equal(t, map[maintenance.Status]int{
		maintenance.StatusPending:   2,
		maintenance.StatusScheduled: 2,
		maintenance.StatusCompleted: 1,
	}, listing.Tabs)

	t.Run("status", func(t *testing.T) {
		listing, err := h.svc.List(ctx, Filter{Status: maintenance.StatusPending})
		require.NoError(t, err)
		assert.Equal(t, []string{"log-pc", "undated-pc"}, names(listing.Records))
		assert.Equal(t, 5, listing.Tabs[maintenance.StatusPending]+listing.Tabs[maintenance.StatusScheduled]+listing.Tabs[maintenance.StatusCompleted])
	})

	t.Run("sector", func(t *testing.T) {
		listing, err := h.svc.List(ctx, Filter{Sector: "log"})
		require.NoError(t, err)
		assert.Equal(t, []string{"log-pc"}, names(listing.Records))
	})

	t.Run("search matches name or asset tag", func(t *testing.T) {
		listing, err := h.svc.List(ctx, Filter{Search: "LATE"})
		require.NoError(t, err)
		assert.Equal(t, []string{"late-pc"}, names(listing.Records))

		listing, err = h.svc.List(ctx, Filter{Search: "9s0t1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"log-pc"}, names(listing.Records))
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := h.svc.List(ctx, Filter{Status: "overdue"})
		assert.ErrorIs(t, err, maintenance.ErrValidation)
	})
}

func TestListDerivesStatusFromToday(t *testing.T) {
	store := sqliteStore(t)
	before := newHarness(t, store, "2025-01-06", Options{})
	r := before.create(t, "info-pc", "2025-01-07")

	// Same data read a week later: the due date has passed, so the record
	// reads as pending again without anything being written.
	after := newHarness(t, store, "2025-01-14", Options{})
	got, err := after.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, maintenance.StatusPending, got.Status)
	assert.True(t, maintenance.Overdue(got, *day(t, "2025-01-14")))
}

func TestHistory(t *testing.T) {
	h := newHarness(t, sqliteStore(t), "2025-03-03", Options{})
	ctx := context.Background()

	first := h.create(t, "bal1-pc", "")
	c1, err := h.svc.Complete(ctx, first.ID, day(t, "2025-01-02"), "CH1")
	require.NoError(t, err)
	c2, err := h.svc.Complete(ctx, c1.Next.ID, day(t, "2025-03-03"), "CH2")
	require.NoError(t, err)
	h.create(t, "other-pc", "")

	history, err := h.svc.History(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, c2.Next.ID, history[0].ID)
	assert.Equal(t, c1.Next.ID, history[1].ID)
	assert.Equal(t, first.ID, history[2].ID)
	assert.Equal(t, maintenance.StatusCompleted, history[2].Status)

	fromHead, err := h.svc.History(ctx, c2.Next.ID)
	require.NoError(t, err)
	assert.Equal(t, history, fromHead)
}

func TestSectorsAndEquipment(t *testing.T) {
	h := newHarness(t, sqliteStore(t), "2025-03-03", Options{})
	ctx := context.Background()

	bal := h.create(t, "bal1-pc", "")
	_, err := h.svc.Create(ctx, CreateInput{Details: maintenance.Details{Sector: "BAL", MachineName: "bal2-pc"}})
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, CreateInput{Details: maintenance.Details{Sector: "LOG", MachineName: "log-pc"}})
	require.NoError(t, err)

	completion, err := h.svc.Complete(ctx, bal.ID, day(t, "2025-03-03"), "CH1")
	require.NoError(t, err)

	sectors, err := h.svc.Sectors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BAL", "LOG", "TI"}, sectors)

	equipment, err := h.svc.Equipment(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bal2-pc", "log-pc", "bal1-pc"}, names(equipment))
	assert.Equal(t, completion.Next.ID, equipment[2].ID, "only the latest cycle is listed")
}

func TestImport(t *testing.T) {
	h := newHarness(t, sqliteStore(t), "2025-01-06", Options{})
	ctx := context.Background()
	h.create(t, "info-pc", "2025-01-20")

	res, err := h.svc.Import(ctx, []CreateInput{
		{Details: maintenance.Details{Sector: "TI", MachineName: "INFO-PC"}},
		{Details: maintenance.Details{Sector: "BAL", MachineName: "bal1-pc", AssetTag: "MA-3R4S5T6-P"}},
		{Details: maintenance.Details{Sector: "BAL", MachineName: "bal1-pc"}},
		{Details: maintenance.Details{Sector: "LOG", MachineName: "log-pc"}, NextMaintenanceDate: day(t, "2025-01-21")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bal1-pc", "log-pc"}, names(res.Created))
	assert.Equal(t, []string{"INFO-PC", "bal1-pc"}, res.Skipped)

	_, err = h.svc.Import(ctx, []CreateInput{
		{Details: maintenance.Details{Sector: "LOG", MachineName: "log2-pc"}, NextMaintenanceDate: day(t, "2025-01-21")},
	})
	assert.ErrorIs(t, err, maintenance.ErrDateConflict)

	_, err = h.svc.Import(ctx, []CreateInput{{Details: maintenance.Details{MachineName: "nameless"}}})
	var verr *maintenance.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "item 0")
}
