package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veldt/anancus/domain"
)

// Delivery records queries
const (
	sqlCreateDeliveryRecordsTable = `CREATE TABLE IF NOT EXISTS delivery_records(
                        id uuid NOT NULL PRIMARY KEY,
                        activity_id uuid NOT NULL,
                        activity_uri varchar(500) NOT NULL,
                        actor_uri varchar(500) NOT NULL,
                        inbox_uri varchar(500) NOT NULL,
                        state varchar(30) NOT NULL default 'pending',
                        attempts int NOT NULL default 0,
                        next_attempt_at timestamp NOT NULL,
                        last_error text default '',
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertDelivery = `INSERT INTO delivery_records(id, activity_id, activity_uri, actor_uri, inbox_uri, state, attempts, next_attempt_at, last_error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Earliest-created due pending record whose endpoint has no record
	// already in flight. Keeps deliveries to one endpoint ordered.
	sqlSelectDueDelivery = `SELECT id, activity_id, activity_uri, actor_uri, inbox_uri, state, attempts, next_attempt_at, last_error, created_at
                        FROM delivery_records d
                        WHERE state = 'pending' AND next_attempt_at <= ?
                        AND NOT EXISTS (SELECT 1 FROM delivery_records f WHERE f.inbox_uri = d.inbox_uri AND f.state = 'in_flight')
                        ORDER BY created_at ASC LIMIT 1`
	sqlClaimDelivery = `UPDATE delivery_records SET state = 'in_flight' WHERE id = ? AND state = 'pending'`

	sqlMarkDelivered       = `UPDATE delivery_records SET state = 'delivered', attempts = ?, last_error = '' WHERE id = ? AND state = 'in_flight'`
	sqlMarkFailedPermanent = `UPDATE delivery_records SET state = 'failed_permanent', attempts = ?, last_error = ? WHERE id = ? AND state = 'in_flight'`
	sqlMarkExhausted       = `UPDATE delivery_records SET state = 'failed_exhausted', attempts = ?, last_error = ? WHERE id = ? AND state = 'in_flight'`
	sqlReschedule          = `UPDATE delivery_records SET state = 'pending', attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ? AND state = 'in_flight'`
	sqlCancelPending       = `UPDATE delivery_records SET state = 'failed_permanent', last_error = 'cancelled' WHERE id = ? AND state = 'pending'`

	sqlSelectDeliveriesByActivity = `SELECT id, activity_id, activity_uri, actor_uri, inbox_uri, state, attempts, next_attempt_at, last_error, created_at FROM delivery_records WHERE activity_id = ? ORDER BY created_at ASC`
	sqlSelectDeliveriesByEndpoint = `SELECT id, activity_id, activity_uri, actor_uri, inbox_uri, state, attempts, next_attempt_at, last_error, created_at FROM delivery_records WHERE inbox_uri = ? ORDER BY created_at DESC LIMIT ?`
	sqlSelectRecentDeliveries     = `SELECT id, activity_id, activity_uri, actor_uri, inbox_uri, state, attempts, next_attempt_at, last_error, created_at FROM delivery_records ORDER BY created_at DESC LIMIT ?`
	sqlSelectPendingByActivity    = `SELECT id FROM delivery_records WHERE activity_id = ? AND state = 'pending'`
	sqlDeleteDeliveriesByActivity = `DELETE FROM delivery_records WHERE activity_id = ?`
)

// CreateDeliveryRecords inserts one pending record per endpoint in a
// single transaction, so a crash mid-publish never leaves a partial
// fan-out.
func (db *DB) CreateDeliveryRecords(records []domain.DeliveryRecord) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, rec := range records {
			_, err := tx.Exec(sqlInsertDelivery,
				rec.Id.String(), rec.ActivityId.String(), rec.ActivityURI, rec.ActorURI, rec.InboxURI,
				string(rec.State), rec.Attempts, rec.NextAttemptAt, rec.LastError, rec.CreatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimDueDelivery picks the next due pending record and atomically
// moves it to in_flight. Returns nil when nothing is due or another
// worker won the claim.
func (db *DB) ClaimDueDelivery(now time.Time) (error, *domain.DeliveryRecord) {
	err, rec := scanDelivery(db.db.QueryRow(sqlSelectDueDelivery, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}

	var claimed bool
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlClaimDelivery, rec.Id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n == 1
		return err
	})
	if err != nil {
		return err, nil
	}
	if !claimed {
		// Lost the race; the caller will poll again.
		return nil, nil
	}
	rec.State = domain.DeliveryInFlight
	return nil, rec
}

func (db *DB) MarkDelivered(id uuid.UUID, attempts int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlMarkDelivered, attempts, id.String())
		if err != nil {
			return err
		}
		return requireOneRow(res, id)
	})
}

func (db *DB) MarkFailedPermanent(id uuid.UUID, attempts int, reason string) error {
	return db.finishInFlight(sqlMarkFailedPermanent, attempts, reason, id)
}

func (db *DB) MarkExhausted(id uuid.UUID, attempts int, reason string) error {
	return db.finishInFlight(sqlMarkExhausted, attempts, reason, id)
}

// RescheduleDelivery returns an in-flight record to pending with the
// next attempt time set by the backoff schedule.
func (db *DB) RescheduleDelivery(id uuid.UUID, attempts int, nextAttemptAt time.Time, reason string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlReschedule, attempts, nextAttemptAt, reason, id.String())
		if err != nil {
			return err
		}
		return requireOneRow(res, id)
	})
}

// CancelDelivery marks a pending record as permanently failed with a
// cancelled reason. In-flight and terminal records are left alone.
func (db *DB) CancelDelivery(id uuid.UUID) (error, bool) {
	var cancelled bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlCancelPending, id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		cancelled = n == 1
		return err
	})
	return err, cancelled
}

// CancelDeliveriesByActivity cancels every still-pending record of an
// activity and returns how many were cancelled.
func (db *DB) CancelDeliveriesByActivity(activityId uuid.UUID) (error, int) {
	rows, err := db.db.Query(sqlSelectPendingByActivity, activityId.String())
	if err != nil {
		return err, 0
	}
	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			rows.Close()
			return err, 0
		}
		if id, err := uuid.Parse(idStr); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return err, 0
	}

	cancelled := 0
	for _, id := range ids {
		err, ok := db.CancelDelivery(id)
		if err != nil {
			return err, cancelled
		}
		if ok {
			cancelled++
		}
	}
	return nil, cancelled
}

func (db *DB) ReadDeliveriesByActivity(activityId uuid.UUID) (error, *[]domain.DeliveryRecord) {
	return db.queryDeliveries(sqlSelectDeliveriesByActivity, activityId.String())
}

func (db *DB) ReadRecentDeliveries(limit int) (error, *[]domain.DeliveryRecord) {
	return db.queryDeliveries(sqlSelectRecentDeliveries, limit)
}

func (db *DB) ReadDeliveriesByEndpoint(inboxURI string, limit int) (error, *[]domain.DeliveryRecord) {
	return db.queryDeliveries(sqlSelectDeliveriesByEndpoint, inboxURI, limit)
}

func (db *DB) finishInFlight(query string, attempts int, reason string, id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(query, attempts, reason, id.String())
		if err != nil {
			return err
		}
		return requireOneRow(res, id)
	})
}

func requireOneRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("delivery %s not in expected state", id)
	}
	return nil
}

func (db *DB) queryDeliveries(query string, args ...interface{}) (error, *[]domain.DeliveryRecord) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var records []domain.DeliveryRecord
	for rows.Next() {
		var rec domain.DeliveryRecord
		var idStr, activityIdStr, state string
		if err := rows.Scan(&idStr, &activityIdStr, &rec.ActivityURI, &rec.ActorURI, &rec.InboxURI, &state, &rec.Attempts, &rec.NextAttemptAt, &rec.LastError, &rec.CreatedAt); err != nil {
			return err, &records
		}
		rec.Id, _ = uuid.Parse(idStr)
		rec.ActivityId, _ = uuid.Parse(activityIdStr)
		rec.State = domain.DeliveryState(state)
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return err, &records
	}
	return nil, &records
}

func scanDelivery(row *sql.Row) (error, *domain.DeliveryRecord) {
	var rec domain.DeliveryRecord
	var idStr, activityIdStr, state string
	err := row.Scan(&idStr, &activityIdStr, &rec.ActivityURI, &rec.ActorURI, &rec.InboxURI, &state, &rec.Attempts, &rec.NextAttemptAt, &rec.LastError, &rec.CreatedAt)
	if err != nil {
		return err, nil
	}
	rec.Id, _ = uuid.Parse(idStr)
	rec.ActivityId, _ = uuid.Parse(activityIdStr)
	rec.State = domain.DeliveryState(state)
	return nil, &rec
}
