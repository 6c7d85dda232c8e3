// Package postgres provides the PostgreSQL user directory.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/identity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory implements identity.Directory over the users and teams tables.
type Directory struct {
	db *pgxpool.Pool
}

// NewDirectory creates a new PostgreSQL directory.
func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

// FindUser retrieves a user together with the name of their team.
func (d *Directory) FindUser(ctx context.Context, id int64) (*domain.User, error) {
	query := `
		SELECT u.id, u.username, u.email, u.phone, u.team_id, t.name,
		       u.on_call, u.active, u.created_at
		FROM users u
		LEFT JOIN teams t ON t.id = u.team_id
		WHERE u.id = $1
	`

	var u domain.User
	err := d.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.Phone,
		&u.TeamID,
		&u.TeamName,
		&u.OnCall,
		&u.Active,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user %d: %w", id, err)
	}
	return &u, nil
}

// CreateTeam inserts a team and returns its id.
func (d *Directory) CreateTeam(ctx context.Context, name string) (int64, error) {
	var id int64
	err := d.db.QueryRow(ctx, `INSERT INTO teams (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create team: %w", err)
	}
	return id, nil
}

// CreateUser inserts a user and fills its id and creation time.
func (d *Directory) CreateUser(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (username, email, phone, team_id, on_call, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := d.db.QueryRow(ctx, query,
		u.Username, u.Email, u.Phone, u.TeamID, u.OnCall, u.Active,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
