// Package memory provides an in-process implementation of incidents.Repository.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/incidents"
)

type record struct {
	mu       sync.Mutex
	incident *domain.Incident
}

// Repository keeps incidents in memory. Updates of one id are serialized by a
// per-record lock; different ids proceed in parallel.
type Repository struct {
	mu       sync.RWMutex
	nextID   int64
	records  map[int64]*record
	byNumber map[string]int64
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		records:  make(map[int64]*record),
		byNumber: make(map[string]int64),
	}
}

// Create stores a new incident and assigns its ID.
func (r *Repository) Create(_ context.Context, incident *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNumber[incident.IncidentNumber]; exists {
		return incidents.ErrDuplicateNumber
	}

	r.nextID++
	incident.ID = r.nextID
	r.records[incident.ID] = &record{incident: incident.Clone()}
	r.byNumber[incident.IncidentNumber] = incident.ID
	return nil
}

// GetByID returns a copy of the stored incident.
func (r *Repository) GetByID(_ context.Context, id int64) (*domain.Incident, error) {
	rec, ok := r.record(id)
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.incident.Clone(), nil
}

// Update applies mutate to a working copy and stores it if mutate succeeds.
func (r *Repository) Update(_ context.Context, id int64, mutate incidents.MutateFunc) (*domain.Incident, error) {
	rec, ok := r.record(id)
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	working := rec.incident.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.ID = rec.incident.ID
	working.IncidentNumber = rec.incident.IncidentNumber
	working.CreatedAt = rec.incident.CreatedAt
	rec.incident = working
	return working.Clone(), nil
}

// List returns one sorted page of all incidents.
func (r *Repository) List(_ context.Context, req incidents.PageRequest) (*incidents.Page, error) {
	all := r.snapshot(nil)
	column, ok := incidents.SortColumn(req.SortField)
	if !ok {
		column = "created_at"
	}
	sortIncidents(all, column, req.SortDir == incidents.SortAsc)
	return paginate(all, req.Page, req.Size), nil
}

// ListByFilters returns one page of matching incidents, newest first.
func (r *Repository) ListByFilters(_ context.Context, filters incidents.Filters) (*incidents.Page, error) {
	matched := r.snapshot(filters.Matches)
	sortIncidents(matched, "created_at", false)
	return paginate(matched, filters.Page, filters.Size), nil
}

// ListByStatuses returns every incident in one of statuses, newest first.
func (r *Repository) ListByStatuses(_ context.Context, statuses []domain.IncidentStatus) ([]*domain.Incident, error) {
	matched := r.snapshot(func(i *domain.Incident) bool {
		return slices.Contains(statuses, i.Status)
	})
	sortIncidents(matched, "created_at", false)
	return matched, nil
}

// Count returns the number of stored incidents.
func (r *Repository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.records)), nil
}

func (r *Repository) record(id int64) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

func (r *Repository) snapshot(keep func(*domain.Incident) bool) []*domain.Incident {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]*domain.Incident, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		incident := rec.incident.Clone()
		rec.mu.Unlock()
		if keep == nil || keep(incident) {
			out = append(out, incident)
		}
	}
	return out
}

func sortIncidents(items []*domain.Incident, column string, asc bool) {
	slices.SortStableFunc(items, func(a, b *domain.Incident) int {
		c := compareColumn(a, b, column)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if !asc {
			c = -c
		}
		return c
	})
}

func compareColumn(a, b *domain.Incident, column string) int {
	switch column {
	case "id":
		return cmp.Compare(a.ID, b.ID)
	case "incident_number":
		return strings.Compare(a.IncidentNumber, b.IncidentNumber)
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "severity":
		return strings.Compare(string(a.Severity), string(b.Severity))
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "escalation_level":
		return cmp.Compare(a.EscalationLevel, b.EscalationLevel)
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func paginate(items []*domain.Incident, page, size int) *incidents.Page {
	total := int64(len(items))
	start := page * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return incidents.NewPage(items[start:end], page, size, total)
}
