package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/incidents"
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

func TestRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	inc := newIncident("INC-20250301-0001", domain.SeverityP1, domain.IncidentStatusTriggered, base)
	require.NoError(t, repo.Create(ctx, inc))
	assert.Equal(t, int64(1), inc.ID)

	got, err := repo.GetByID(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc, got)

	// returned values are copies
	got.Title = "changed"
	again, err := repo.GetByID(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "title INC-20250301-0001", again.Title)

	_, err = repo.GetByID(ctx, 99)
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRepository_DuplicateNumber(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	require.NoError(t, repo.Create(ctx, newIncident("INC-20250301-0001", domain.SeverityP1, domain.IncidentStatusTriggered, base)))
	err := repo.Create(ctx, newIncident("INC-20250301-0001", domain.SeverityP2, domain.IncidentStatusTriggered, base))

	assert.ErrorIs(t, err, incidents.ErrDuplicateNumber)
	assert.ErrorIs(t, err, incidents.ErrStore)
}

func TestRepository_UpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	inc := newIncident("INC-20250301-0001", domain.SeverityP1, domain.IncidentStatusTriggered, base)
	require.NoError(t, repo.Create(ctx, inc))

	boom := errors.New("boom")
	_, err := repo.Update(ctx, inc.ID, func(i *domain.Incident) error {
		i.Status = domain.IncidentStatusClosed
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusTriggered, got.Status)

	_, err = repo.Update(ctx, 42, func(*domain.Incident) error { return nil })
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestRepository_UpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	inc := newIncident("INC-20250301-0001", domain.SeverityP1, domain.IncidentStatusTriggered, base)
	require.NoError(t, repo.Create(ctx, inc))

	updated, err := repo.Update(ctx, inc.ID, func(i *domain.Incident) error {
		i.IncidentNumber = "INC-OTHER"
		i.CreatedAt = base.Add(time.Hour)
		i.Title = "new"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "INC-20250301-0001", updated.IncidentNumber)
	assert.Equal(t, base, updated.CreatedAt)
	assert.Equal(t, "new", updated.Title)
}

func TestRepository_ConcurrentUpdatesSerialized(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	inc := newIncident("INC-20250301-0001", domain.SeverityP1, domain.IncidentStatusTriggered, base)
	require.NoError(t, repo.Create(ctx, inc))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, inc.ID, func(i *domain.Incident) error {
				i.EscalationLevel++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.EscalationLevel)
}

func seed(t *testing.T, repo *Repository) {
	t.Helper()
	ctx := context.Background()
	items := []*domain.Incident{
		newIncident("INC-20250301-0001", domain.SeverityP3, domain.IncidentStatusTriggered, base),
		newIncident("INC-20250301-0002", domain.SeverityP1, domain.IncidentStatusResolved, base.Add(time.Minute)),
		newIncident("INC-20250301-0003", domain.SeverityP2, domain.IncidentStatusEscalated, base.Add(2*time.Minute)),
		newIncident("INC-20250301-0004", domain.SeverityP1, domain.IncidentStatusClosed, base.Add(3*time.Minute)),
		newIncident("INC-20250301-0005", domain.SeverityP1, domain.IncidentStatusInvestigating, base.Add(4*time.Minute)),
	}
	assignee := int64(7)
	items[2].AssigneeID = &assignee
	items[4].AssigneeID = &assignee
	for _, inc := range items {
		require.NoError(t, repo.Create(ctx, inc))
	}
}

func numbers(items []*domain.Incident) []string {
	out := make([]string, len(items))
	for i, inc := range items {
		out[i] = inc.IncidentNumber[len(inc.IncidentNumber)-4:]
	}
	return out
}

func TestRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	seed(t, repo)

	tests := []struct {
		name string
		req  incidents.PageRequest
		want []string
		last bool
	}{
		{
			name: "newest first",
			req:  incidents.PageRequest{Page: 0, Size: 2, SortField: "created_at", SortDir: incidents.SortDesc},
			want: []string{"0005", "0004"},
		},
		{
			name: "second page",
			req:  incidents.PageRequest{Page: 1, Size: 2, SortField: "createdAt", SortDir: incidents.SortDesc},
			want: []string{"0003", "0002"},
		},
		{
			name: "last page",
			req:  incidents.PageRequest{Page: 2, Size: 2, SortField: "created_at", SortDir: incidents.SortDesc},
			want: []string{"0001"},
			last: true,
		},
		{
			name: "by severity ascending, ties by id",
			req:  incidents.PageRequest{Page: 0, Size: 10, SortField: "severity", SortDir: incidents.SortAsc},
			want: []string{"0002", "0004", "0005", "0003", "0001"},
			last: true,
		},
		{
			name: "page past end",
			req:  incidents.PageRequest{Page: 9, Size: 10, SortField: "id", SortDir: incidents.SortAsc},
			want: []string{},
			last: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, numbers(page.Items))
			assert.Equal(t, int64(5), page.TotalItems)
			assert.Equal(t, tt.last, page.Last)
		})
	}
}

func TestRepository_ListByFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	seed(t, repo)

	p1 := domain.SeverityP1
	resolved := domain.IncidentStatusResolved
	assignee := int64(7)

	tests := []struct {
		name    string
		filters incidents.Filters
		want    []string
	}{
		{name: "no filters", filters: incidents.Filters{Size: 10}, want: []string{"0005", "0004", "0003", "0002", "0001"}},
		{name: "severity", filters: incidents.Filters{Severity: &p1, Size: 10}, want: []string{"0005", "0004", "0002"}},
		{name: "status", filters: incidents.Filters{Status: &resolved, Size: 10}, want: []string{"0002"}},
		{name: "assignee", filters: incidents.Filters{AssigneeID: &assignee, Size: 10}, want: []string{"0005", "0003"}},
		{name: "combined", filters: incidents.Filters{AssigneeID: &assignee, Severity: &p1, Size: 10}, want: []string{"0005"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.ListByFilters(ctx, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, numbers(page.Items))
		})
	}
}

func TestRepository_ListByStatuses(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	seed(t, repo)

	active, err := repo.ListByStatuses(ctx, domain.ActiveIncidentStatuses)
	require.NoError(t, err)
	assert.Equal(t, []string{"0005", "0003", "0001"}, numbers(active))
}
