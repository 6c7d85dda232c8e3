// Package postgres provides PostgreSQL implementation of incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/incidents"
	"github.com/bissquit/incident-pager/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const incidentNumberConstraint = "incidents_incident_number_key"

const selectColumns = `
	id, incident_number, title, description, severity, status,
	assignee_id, assignee_name, team_id, team_name,
	escalation_level, sla_breach,
	created_at, updated_at, acknowledged_at, resolved_at, closed_at
`

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new incident and assigns its ID.
func (r *Repository) Create(ctx context.Context, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			incident_number, title, description, severity, status,
			assignee_id, assignee_name, team_id, team_name,
			escalation_level, sla_breach,
			created_at, updated_at, acknowledged_at, resolved_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		incident.IncidentNumber,
		incident.Title,
		incident.Description,
		incident.Severity,
		incident.Status,
		incident.AssigneeID,
		incident.AssigneeName,
		incident.TeamID,
		incident.TeamName,
		incident.EscalationLevel,
		incident.SLABreach,
		incident.CreatedAt,
		incident.UpdatedAt,
		incident.AcknowledgedAt,
		incident.ResolvedAt,
		incident.ClosedAt,
	).Scan(&incident.ID)
	if err != nil {
		if postgres.IsUniqueViolation(err, incidentNumberConstraint) {
			return fmt.Errorf("create incident %s: %w", incident.IncidentNumber, incidents.ErrDuplicateNumber)
		}
		return storeError("create incident", err)
	}
	return nil
}

// GetByID retrieves an incident by ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*domain.Incident, error) {
	query := `SELECT ` + selectColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, storeError("get incident", err)
	}
	return incident, nil
}

// Update locks the row, applies mutate and writes the result in one transaction.
func (r *Repository) Update(ctx context.Context, id int64, mutate incidents.MutateFunc) (*domain.Incident, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeError("begin transaction", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	query := `SELECT ` + selectColumns + ` FROM incidents WHERE id = $1 FOR UPDATE`
	incident, err := scanIncident(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, storeError("lock incident", err)
	}

	if err := mutate(incident); err != nil {
		return nil, err
	}

	update := `
		UPDATE incidents SET
			title = $2, description = $3, severity = $4, status = $5,
			assignee_id = $6, assignee_name = $7, team_id = $8, team_name = $9,
			escalation_level = $10, sla_breach = $11,
			updated_at = $12, acknowledged_at = $13, resolved_at = $14, closed_at = $15
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, update,
		id,
		incident.Title,
		incident.Description,
		incident.Severity,
		incident.Status,
		incident.AssigneeID,
		incident.AssigneeName,
		incident.TeamID,
		incident.TeamName,
		incident.EscalationLevel,
		incident.SLABreach,
		incident.UpdatedAt,
		incident.AcknowledgedAt,
		incident.ResolvedAt,
		incident.ClosedAt,
	); err != nil {
		return nil, storeError("update incident", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit transaction", err)
	}
	return incident, nil
}

// List returns one sorted page of all incidents.
func (r *Repository) List(ctx context.Context, req incidents.PageRequest) (*incidents.Page, error) {
	column, ok := incidents.SortColumn(req.SortField)
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if req.SortDir == incidents.SortAsc {
		direction = "ASC"
	}

	// column and direction come from a whitelist, never from raw input
	query := fmt.Sprintf(`SELECT %s FROM incidents ORDER BY %s %s, id %s LIMIT $1 OFFSET $2`,
		selectColumns, column, direction, direction)

	items, err := r.query(ctx, query, req.Size, req.Offset())
	if err != nil {
		return nil, storeError("list incidents", err)
	}

	total, err := r.Count(ctx)
	if err != nil {
		return nil, err
	}
	return incidents.NewPage(items, req.Page, req.Size, total), nil
}

// ListByFilters returns one page of matching incidents, newest first.
func (r *Repository) ListByFilters(ctx context.Context, filters incidents.Filters) (*incidents.Page, error) {
	where := `
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR severity = $2)
		  AND ($3::bigint IS NULL OR assignee_id = $3)
	`
	args := []any{filters.Status, filters.Severity, filters.AssigneeID}

	query := `SELECT ` + selectColumns + ` FROM incidents` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5`
	items, err := r.query(ctx, query, append(args, filters.Size, filters.Page*filters.Size)...)
	if err != nil {
		return nil, storeError("filter incidents", err)
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM incidents`+where, args...).Scan(&total); err != nil {
		return nil, storeError("count filtered incidents", err)
	}
	return incidents.NewPage(items, filters.Page, filters.Size, total), nil
}

// ListByStatuses returns every incident in one of statuses, newest first.
func (r *Repository) ListByStatuses(ctx context.Context, statuses []domain.IncidentStatus) ([]*domain.Incident, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	query := `SELECT ` + selectColumns + ` FROM incidents WHERE status = ANY($1) ORDER BY created_at DESC, id DESC`
	items, err := r.query(ctx, query, values)
	if err != nil {
		return nil, storeError("list incidents by status", err)
	}
	return items, nil
}

// Count returns the number of stored incidents.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM incidents`).Scan(&count); err != nil {
		return 0, storeError("count incidents", err)
	}
	return count, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]*domain.Incident, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domain.Incident{}
	}
	return items, nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.IncidentNumber,
		&incident.Title,
		&incident.Description,
		&incident.Severity,
		&incident.Status,
		&incident.AssigneeID,
		&incident.AssigneeName,
		&incident.TeamID,
		&incident.TeamName,
		&incident.EscalationLevel,
		&incident.SLABreach,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.AcknowledgedAt,
		&incident.ResolvedAt,
		&incident.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, incidents.ErrStore, err)
}
