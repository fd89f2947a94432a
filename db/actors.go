package db

import (
	"database/sql"
	"time"

	"github.com/veldt/anancus/domain"
)

// Remote actors and followers queries
const (
	sqlCreateRemoteActorsTable = `CREATE TABLE IF NOT EXISTS remote_actors(
                        actor_uri varchar(500) NOT NULL PRIMARY KEY,
                        username varchar(100) NOT NULL,
                        domain varchar(255) NOT NULL,
                        inbox_uri varchar(500) NOT NULL,
                        public_key_pem text NOT NULL,
                        last_fetched_at timestamp default current_timestamp
                        )`
	sqlUpsertRemoteActor = `INSERT INTO remote_actors(actor_uri, username, domain, inbox_uri, public_key_pem, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?)
                        ON CONFLICT(actor_uri) DO UPDATE SET username = excluded.username, domain = excluded.domain, inbox_uri = excluded.inbox_uri, public_key_pem = excluded.public_key_pem, last_fetched_at = excluded.last_fetched_at`
	sqlSelectRemoteActor = `SELECT actor_uri, username, domain, inbox_uri, public_key_pem, last_fetched_at FROM remote_actors WHERE actor_uri = ?`
	sqlDeleteRemoteActor = `DELETE FROM remote_actors WHERE actor_uri = ?`

	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers(
                        actor_uri varchar(500) NOT NULL,
                        follower_actor_uri varchar(500) NOT NULL,
                        follower_inbox_uri varchar(500) NOT NULL,
                        created_at timestamp default current_timestamp,
                        PRIMARY KEY (actor_uri, follower_actor_uri)
                        )`
	sqlInsertFollower         = `INSERT OR IGNORE INTO followers(actor_uri, follower_actor_uri, follower_inbox_uri) VALUES (?, ?, ?)`
	sqlSelectFollowerInboxes  = `SELECT DISTINCT follower_inbox_uri FROM followers WHERE actor_uri = ? ORDER BY follower_inbox_uri ASC`
	sqlSelectFollowers        = `SELECT actor_uri, follower_actor_uri, follower_inbox_uri FROM followers WHERE actor_uri = ? ORDER BY created_at ASC`
	sqlDeleteFollower         = `DELETE FROM followers WHERE actor_uri = ? AND follower_actor_uri = ?`
	sqlUpdateFollowerEndpoint = `UPDATE followers SET follower_actor_uri = ?, follower_inbox_uri = ? WHERE follower_actor_uri = ?`
)

// UpsertRemoteActor caches a fetched remote actor document.
func (db *DB) UpsertRemoteActor(actor *domain.RemoteActor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertRemoteActor,
			actor.ActorURI, actor.Username, actor.Domain, actor.InboxURI, actor.PublicKeyPem, actor.LastFetchedAt)
		return err
	})
}

func (db *DB) ReadRemoteActorByURI(actorURI string) (error, *domain.RemoteActor) {
	var actor domain.RemoteActor
	var fetchedAt time.Time
	err := db.db.QueryRow(sqlSelectRemoteActor, actorURI).
		Scan(&actor.ActorURI, &actor.Username, &actor.Domain, &actor.InboxURI, &actor.PublicKeyPem, &fetchedAt)
	if err != nil {
		return err, nil
	}
	actor.LastFetchedAt = fetchedAt
	return nil, &actor
}

func (db *DB) DeleteRemoteActor(actorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemoteActor, actorURI)
		return err
	})
}

func (db *DB) AddFollower(follower *domain.Follower) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollower, follower.ActorURI, follower.FollowerActorURI, follower.FollowerInboxURI)
		return err
	})
}

func (db *DB) RemoveFollower(actorURI string, followerActorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollower, actorURI, followerActorURI)
		return err
	})
}

// ReadFollowerInboxes returns the distinct delivery endpoints of a
// local actor's followers. Addressing fans out per inbox, so followers
// sharing an inbox get a single delivery.
func (db *DB) ReadFollowerInboxes(actorURI string) (error, []string) {
	rows, err := db.db.Query(sqlSelectFollowerInboxes, actorURI)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return err, inboxes
		}
		inboxes = append(inboxes, inbox)
	}
	if err = rows.Err(); err != nil {
		return err, inboxes
	}
	return nil, inboxes
}

func (db *DB) ReadFollowers(actorURI string) (error, *[]domain.Follower) {
	rows, err := db.db.Query(sqlSelectFollowers, actorURI)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		var f domain.Follower
		if err := rows.Scan(&f.ActorURI, &f.FollowerActorURI, &f.FollowerInboxURI); err != nil {
			return err, &followers
		}
		followers = append(followers, f)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

// MoveFollower rewrites every follower row pointing at the old actor
// endpoint to the new one and returns the number of rows updated. Used
// when a verified Move arrives.
func (db *DB) MoveFollower(oldActorURI string, newActorURI string, newInboxURI string) (error, int64) {
	var updated int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateFollowerEndpoint, newActorURI, newInboxURI, oldActorURI)
		if err != nil {
			return err
		}
		updated, err = res.RowsAffected()
		return err
	})
	return err, updated
}
