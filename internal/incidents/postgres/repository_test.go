//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/incidents"
	"github.com/bissquit/incident-pager/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newIncident(number string, severity domain.Severity, status domain.IncidentStatus, createdAt time.Time) *domain.Incident {
	return &domain.Incident{
		IncidentNumber: number,
		Title:          "title " + number,
		Severity:       severity,
		Status:         status,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestRepository(t *testing.T) {
	pool := testutil.NewMigratedPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	first := newIncident("INC-20250301-0001", domain.SeverityP1, domain.IncidentStatusTriggered, base)
	second := newIncident("INC-20250301-0002", domain.SeverityP2, domain.IncidentStatusTriggered, base.Add(time.Minute))
	third := newIncident("INC-20250301-0003", domain.SeverityP1, domain.IncidentStatusResolved, base.Add(2*time.Minute))
	for _, inc := range []*domain.Incident{first, second, third} {
		require.NoError(t, repo.Create(ctx, inc))
		require.NotZero(t, inc.ID)
	}

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.IncidentNumber, got.IncidentNumber)
		assert.Equal(t, domain.SeverityP1, got.Severity)
		assert.True(t, base.Equal(got.CreatedAt))
		assert.Nil(t, got.AssigneeID)

		_, err = repo.GetByID(ctx, 9999)
		assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
	})

	t.Run("duplicate number", func(t *testing.T) {
		err := repo.Create(ctx, newIncident(first.IncidentNumber, domain.SeverityP4, domain.IncidentStatusTriggered, base))
		assert.ErrorIs(t, err, incidents.ErrDuplicateNumber)
		assert.ErrorIs(t, err, incidents.ErrStore)
	})

	t.Run("update", func(t *testing.T) {
		acked := base.Add(5 * time.Minute)
		assignee := int64(3)
		name := "carol"

		got, err := repo.Update(ctx, first.ID, func(i *domain.Incident) error {
			i.Status = domain.IncidentStatusAcknowledged
			i.AcknowledgedAt = &acked
			i.UpdatedAt = acked
			i.AssigneeID = &assignee
			i.AssigneeName = &name
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, domain.IncidentStatusAcknowledged, got.Status)

		stored, err := repo.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.IncidentStatusAcknowledged, stored.Status)
		require.NotNil(t, stored.AcknowledgedAt)
		assert.True(t, acked.Equal(*stored.AcknowledgedAt))
		require.NotNil(t, stored.AssigneeName)
		assert.Equal(t, "carol", *stored.AssigneeName)
	})

	t.Run("update aborted by mutate", func(t *testing.T) {
		errNope := errors.New("nope")
		_, err := repo.Update(ctx, second.ID, func(i *domain.Incident) error {
			i.Title = "should not persist"
			return errNope
		})
		assert.ErrorIs(t, err, errNope)

		stored, err := repo.GetByID(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, "title INC-20250301-0002", stored.Title)

		_, err = repo.Update(ctx, 9999, func(*domain.Incident) error { return nil })
		assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
	})

	t.Run("concurrent updates serialize", func(t *testing.T) {
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Update(ctx, second.ID, func(i *domain.Incident) error {
					i.EscalationLevel++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		stored, err := repo.GetByID(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, stored.EscalationLevel)
	})

	t.Run("list", func(t *testing.T) {
		page, err := repo.List(ctx, incidents.PageRequest{Page: 0, Size: 2, SortField: "created_at", SortDir: incidents.SortAsc})
		require.NoError(t, err)
		assert.Equal(t, int64(3), page.TotalItems)
		assert.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Items, 2)
		assert.Equal(t, first.ID, page.Items[0].ID)
		assert.Equal(t, second.ID, page.Items[1].ID)

		page, err = repo.List(ctx, incidents.PageRequest{Page: 1, Size: 2, SortField: "incidentNumber", SortDir: incidents.SortAsc})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, third.ID, page.Items[0].ID)
		assert.True(t, page.Last)
	})

	t.Run("filters", func(t *testing.T) {
		severity := domain.SeverityP1
		page, err := repo.ListByFilters(ctx, incidents.Filters{Severity: &severity, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.TotalItems)
		require.Len(t, page.Items, 2)
		assert.Equal(t, third.ID, page.Items[0].ID, "newest first")

		status := domain.IncidentStatusResolved
		page, err = repo.ListByFilters(ctx, incidents.Filters{Severity: &severity, Status: &status, Size: 10})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, third.ID, page.Items[0].ID)

		assignee := int64(3)
		page, err = repo.ListByFilters(ctx, incidents.Filters{AssigneeID: &assignee, Size: 10})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, first.ID, page.Items[0].ID)
	})

	t.Run("by statuses", func(t *testing.T) {
		items, err := repo.ListByStatuses(ctx, domain.ActiveIncidentStatuses)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, second.ID, items[0].ID)
		assert.Equal(t, first.ID, items[1].ID)
	})
}
