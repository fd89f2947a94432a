package db

import (
	"database/sql"
	"log"
)

// Indices for the federation workload. The claim query scans pending
// records by due time and checks for in-flight siblings per endpoint,
// so both get covering indices.
const (
	sqlCreateDeliveryIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_state_next_attempt ON delivery_records(state, next_attempt_at);
		CREATE INDEX IF NOT EXISTS idx_delivery_inbox_state ON delivery_records(inbox_uri, state);
		CREATE INDEX IF NOT EXISTS idx_delivery_activity_id ON delivery_records(activity_id);
	`

	sqlCreateActivityIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_actor_uri ON activities(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(object_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	sqlCreateFollowerIndices = `
		CREATE INDEX IF NOT EXISTS idx_followers_follower_actor ON followers(follower_actor_uri);
	`

	sqlCreateContentIndices = `
		CREATE INDEX IF NOT EXISTS idx_contents_actor_uri ON contents(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_comments_content_id ON comments(content_id);
	`
)

// RunMigrations applies indices and column additions on top of the
// base schema.
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlCreateDeliveryIndices); err != nil {
			log.Printf("Warning: Failed to create delivery_records indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateActivityIndices); err != nil {
			log.Printf("Warning: Failed to create activities indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateFollowerIndices); err != nil {
			log.Printf("Warning: Failed to create followers indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateContentIndices); err != nil {
			log.Printf("Warning: Failed to create contents indices: %v", err)
		}

		db.extendExistingTables(tx)
		return nil
	})
}

func (db *DB) extendExistingTables(tx *sql.Tx) {
	// Ignore errors if the columns already exist
	tx.Exec("ALTER TABLE remote_actors ADD COLUMN shared_inbox_uri TEXT DEFAULT ''")
	tx.Exec("ALTER TABLE contents ADD COLUMN variants_json TEXT DEFAULT '[]'")
}
