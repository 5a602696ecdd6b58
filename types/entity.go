package types

import "time"

// Entity carries the creation and modification times of a ledger record.
// Times come from the engine clock and are stored in UTC.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stamp returns an Entity created and last modified at now.
func Stamp(now time.Time) Entity {
	now = now.UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch records a modification at now.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = now.UTC()
}
