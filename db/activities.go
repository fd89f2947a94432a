package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/veldt/anancus/domain"
)

// Activities queries
const (
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities(
                        id uuid NOT NULL PRIMARY KEY,
                        activity_uri varchar(500) UNIQUE NOT NULL,
                        kind varchar(50) NOT NULL,
                        actor_uri varchar(500) NOT NULL,
                        object_uri varchar(500),
                        raw_json text NOT NULL,
                        local int default 0,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertActivity            = `INSERT INTO activities(id, activity_uri, kind, actor_uri, object_uri, raw_json, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityByURI       = `SELECT id, activity_uri, kind, actor_uri, object_uri, raw_json, local, created_at FROM activities WHERE activity_uri = ?`
	sqlSelectActivityByObjectURI = `SELECT id, activity_uri, kind, actor_uri, object_uri, raw_json, local, created_at FROM activities WHERE object_uri = ? ORDER BY created_at ASC LIMIT 1`
	sqlSelectActivitiesByActor   = `SELECT id, activity_uri, kind, actor_uri, object_uri, raw_json, local, created_at FROM activities WHERE actor_uri = ? ORDER BY created_at DESC LIMIT ?`
	sqlSelectRecentActivities    = `SELECT id, activity_uri, kind, actor_uri, object_uri, raw_json, local, created_at FROM activities ORDER BY created_at DESC LIMIT ?`
	sqlDeleteActivity            = `DELETE FROM activities WHERE id = ?`
)

// CreateActivity persists an activity record. Records are immutable
// once written; there is deliberately no update statement.
func (db *DB) CreateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.URI,
			string(activity.Kind),
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Local,
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityByURI, uri))
}

func (db *DB) ReadActivityByObjectURI(objectURI string) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityByObjectURI, objectURI))
}

func (db *DB) ReadActivitiesByActor(actorURI string, limit int) (error, *[]domain.Activity) {
	return db.queryActivities(sqlSelectActivitiesByActor, actorURI, limit)
}

func (db *DB) ReadRecentActivities(limit int) (error, *[]domain.Activity) {
	return db.queryActivities(sqlSelectRecentActivities, limit)
}

// DeleteActivity removes an activity and, cascading, its delivery
// records. Only a verified Delete may lead here.
func (db *DB) DeleteActivity(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteDeliveriesByActivity, id.String()); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteActivity, id.String())
		return err
	})
}

func (db *DB) queryActivities(query string, args ...interface{}) (error, *[]domain.Activity) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var activity domain.Activity
		var idStr, kind string
		if err := rows.Scan(&idStr, &activity.URI, &kind, &activity.ActorURI, &activity.ObjectURI, &activity.RawJSON, &activity.Local, &activity.CreatedAt); err != nil {
			return err, &activities
		}
		activity.Id, _ = uuid.Parse(idStr)
		activity.Kind = domain.ActivityKind(kind)
		activities = append(activities, activity)
	}
	if err = rows.Err(); err != nil {
		return err, &activities
	}
	return nil, &activities
}

func scanActivity(row *sql.Row) (error, *domain.Activity) {
	var activity domain.Activity
	var idStr, kind string
	var createdAt time.Time
	err := row.Scan(&idStr, &activity.URI, &kind, &activity.ActorURI, &activity.ObjectURI, &activity.RawJSON, &activity.Local, &createdAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	activity.Kind = domain.ActivityKind(kind)
	activity.CreatedAt = createdAt
	return nil, &activity
}
