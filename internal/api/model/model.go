package model

import (
	"database/sql"
	"time"
)

// User is the read-only view of an account owned by the login application
type User struct {
	ID        string         `db:"id"`
	Email     string         `db:"email"`
	Name      sql.NullString `db:"name"`
	CreatedAt time.Time      `db:"created_at"`
}
