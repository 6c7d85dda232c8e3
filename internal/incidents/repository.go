package incidents

import (
	"context"
	"strings"

	"github.com/bissquit/incident-pager/internal/domain"
)

// MutateFunc changes an incident loaded under the store's per-record lock.
// Returning an error aborts the update without persisting anything.
type MutateFunc func(incident *domain.Incident) error

// Repository defines the interface for incident storage.
type Repository interface {
	// Create persists a new incident and assigns its ID.
	Create(ctx context.Context, incident *domain.Incident) error
	GetByID(ctx context.Context, id int64) (*domain.Incident, error)
	// Update runs mutate against the current record and saves the result atomically.
	// Updates of the same id are serialized.
	Update(ctx context.Context, id int64, mutate MutateFunc) (*domain.Incident, error)
	List(ctx context.Context, req PageRequest) (*Page, error)
	ListByFilters(ctx context.Context, filters Filters) (*Page, error)
	ListByStatuses(ctx context.Context, statuses []domain.IncidentStatus) ([]*domain.Incident, error)
	Count(ctx context.Context) (int64, error)
}

// SortDirection is the order of a paged listing.
type SortDirection string

// Sort directions.
const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Paging defaults.
const (
	DefaultPageSize  = 20
	MaxPageSize      = 100
	DefaultSortField = "created_at"
)

// sortColumns whitelists sortable fields. Keys are the accepted API names,
// values the storage column names.
var sortColumns = map[string]string{
	"id":               "id",
	"incident_number":  "incident_number",
	"incidentNumber":   "incident_number",
	"title":            "title",
	"severity":         "severity",
	"status":           "status",
	"escalation_level": "escalation_level",
	"escalationLevel":  "escalation_level",
	"created_at":       "created_at",
	"createdAt":        "created_at",
	"updated_at":       "updated_at",
	"updatedAt":        "updated_at",
}

// SortColumn resolves an API sort field to a storage column.
func SortColumn(field string) (string, bool) {
	col, ok := sortColumns[field]
	return col, ok
}

// PageRequest describes one page of a sorted listing. Pages are zero-based.
type PageRequest struct {
	Page      int
	Size      int
	SortField string
	SortDir   SortDirection
}

// Filters narrows a listing. Nil fields do not filter.
// Results are always ordered by creation time, newest first.
type Filters struct {
	Status     *domain.IncidentStatus
	Severity   *domain.Severity
	AssigneeID *int64
	Page       int
	Size       int
}

// Matches reports whether the incident satisfies every set filter.
func (f Filters) Matches(i *domain.Incident) bool {
	if f.Status != nil && i.Status != *f.Status {
		return false
	}
	if f.Severity != nil && i.Severity != *f.Severity {
		return false
	}
	if f.AssigneeID != nil && (i.AssigneeID == nil || *i.AssigneeID != *f.AssigneeID) {
		return false
	}
	return true
}

// Page is one page of a listing.
type Page struct {
	Items      []*domain.Incident `json:"content"`
	Page       int                `json:"page"`
	Size       int                `json:"size"`
	TotalItems int64              `json:"total_elements"`
	TotalPages int                `json:"total_pages"`
	Last       bool               `json:"last"`
}

// NewPage builds a page, deriving the page count from total.
func NewPage(items []*domain.Incident, page, size int, total int64) *Page {
	if items == nil {
		items = []*domain.Incident{}
	}
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return &Page{
		Items:      items,
		Page:       page,
		Size:       size,
		TotalItems: total,
		TotalPages: totalPages,
		Last:       page+1 >= totalPages,
	}
}

// Offset returns the number of rows preceding the page.
func (r PageRequest) Offset() int {
	return r.Page * r.Size
}

func (r PageRequest) normalize() (PageRequest, error) {
	if r.Page < 0 {
		return r, validationError("page must not be negative")
	}
	switch {
	case r.Size == 0:
		r.Size = DefaultPageSize
	case r.Size < 0 || r.Size > MaxPageSize:
		return r, validationError("size must be between 1 and %d", MaxPageSize)
	}
	if r.SortField == "" {
		r.SortField = DefaultSortField
	}
	if _, ok := SortColumn(r.SortField); !ok {
		return r, validationError("unsupported sort field %q", r.SortField)
	}
	switch SortDirection(strings.ToLower(string(r.SortDir))) {
	case "", SortDesc:
		r.SortDir = SortDesc
	case SortAsc:
		r.SortDir = SortAsc
	default:
		return r, validationError("sort direction must be asc or desc")
	}
	return r, nil
}

func (f Filters) normalize() (Filters, error) {
	p, err := PageRequest{Page: f.Page, Size: f.Size}.normalize()
	if err != nil {
		return f, err
	}
	f.Page, f.Size = p.Page, p.Size
	if f.Status != nil && !f.Status.IsValid() {
		return f, validationError("unknown status %q", *f.Status)
	}
	if f.Severity != nil && !f.Severity.IsValid() {
		return f, validationError("unknown severity %q", *f.Severity)
	}
	return f, nil
}
