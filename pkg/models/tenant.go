package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a brokerage organization. Jobs and API keys belong to a
// tenant; the one-active-job-per-type rule is scoped by tenant.
type Tenant struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Slug      string    `db:"slug"       json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
