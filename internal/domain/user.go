package domain

import "time"

// User is a responder known to the user directory.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	TeamID    *int64    `json:"team_id"`
	TeamName  *string   `json:"team_name"`
	OnCall    bool      `json:"on_call"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
