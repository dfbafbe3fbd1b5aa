package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Route is the durable record of the configuration chosen for a site on a
// network profile.
type Route struct {
	bun.BaseModel `bun:"table:routes,alias:r"`

	Site          string    `bun:",pk"`
	Profile       string    `bun:",pk"`
	Configuration string    `bun:",notnull"`
	ValidUntil    time.Time `bun:",notnull"`
	UpdatedAt     time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// RouteRecord is the cached answer for a (site, profile) pair.
type RouteRecord struct {
	Configuration string
	ValidUntil    time.Time
}

// Valid reports whether the record is still fresh at now.
func (r RouteRecord) Valid(now time.Time) bool {
	return now.Before(r.ValidUntil)
}
