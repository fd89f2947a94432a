package db

import (
	"database/sql"
	"time"

	"github.com/veldt/anancus/domain"
)

// Instance health queries
const (
	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instance_health(
                        inbox_uri varchar(500) NOT NULL PRIMARY KEY,
                        consecutive_exhausted int NOT NULL default 0,
                        unreachable int NOT NULL default 0,
                        updated_at timestamp default current_timestamp
                        )`
	sqlBumpExhausted = `INSERT INTO instance_health(inbox_uri, consecutive_exhausted, unreachable, updated_at) VALUES (?, 1, 0, ?)
                        ON CONFLICT(inbox_uri) DO UPDATE SET consecutive_exhausted = consecutive_exhausted + 1, updated_at = excluded.updated_at`
	sqlMarkUnreachable       = `UPDATE instance_health SET unreachable = 1, updated_at = ? WHERE inbox_uri = ? AND consecutive_exhausted >= ?`
	sqlResetInstanceHealth   = `INSERT INTO instance_health(inbox_uri, consecutive_exhausted, unreachable, updated_at) VALUES (?, 0, 0, ?)
                        ON CONFLICT(inbox_uri) DO UPDATE SET consecutive_exhausted = 0, unreachable = 0, updated_at = excluded.updated_at`
	sqlSelectInstanceHealth = `SELECT inbox_uri, consecutive_exhausted, unreachable, updated_at FROM instance_health WHERE inbox_uri = ?`
	sqlSelectUnreachable    = `SELECT inbox_uri, consecutive_exhausted, unreachable, updated_at FROM instance_health WHERE unreachable = 1 ORDER BY updated_at DESC`
)

// BumpExhausted records one more exhausted delivery for an endpoint
// and flags it unreachable once the threshold is crossed. The flag is
// advisory; new publishes still enqueue deliveries to it.
func (db *DB) BumpExhausted(inboxURI string, threshold int) error {
	now := time.Now()
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlBumpExhausted, inboxURI, now); err != nil {
			return err
		}
		_, err := tx.Exec(sqlMarkUnreachable, now, inboxURI, threshold)
		return err
	})
}

// ResetInstanceHealth clears the exhausted streak after a successful
// delivery to the endpoint.
func (db *DB) ResetInstanceHealth(inboxURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlResetInstanceHealth, inboxURI, time.Now())
		return err
	})
}

func (db *DB) ReadInstanceHealth(inboxURI string) (error, *domain.InstanceHealth) {
	var h domain.InstanceHealth
	err := db.db.QueryRow(sqlSelectInstanceHealth, inboxURI).
		Scan(&h.InboxURI, &h.ConsecutiveExhausted, &h.Unreachable, &h.UpdatedAt)
	if err != nil {
		return err, nil
	}
	return nil, &h
}

func (db *DB) ReadUnreachableInstances() (error, *[]domain.InstanceHealth) {
	rows, err := db.db.Query(sqlSelectUnreachable)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var instances []domain.InstanceHealth
	for rows.Next() {
		var h domain.InstanceHealth
		if err := rows.Scan(&h.InboxURI, &h.ConsecutiveExhausted, &h.Unreachable, &h.UpdatedAt); err != nil {
			return err, &instances
		}
		instances = append(instances, h)
	}
	if err = rows.Err(); err != nil {
		return err, &instances
	}
	return nil, &instances
}
