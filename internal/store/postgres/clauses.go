package postgres

import (
	"gorm.io/gorm/clause"
)

// lockingClause returns a SELECT ... FOR UPDATE clause used to serialize
// concurrent state transitions on a single row (document status, session
// append) per the §5 concurrency model.
func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

// onConflictDoNothing guards the lazy user-defaults initialization (§4.7)
// against a race between two concurrent first-access calls.
func onConflictDoNothing() clause.OnConflict {
	return clause.OnConflict{DoNothing: true}
}
