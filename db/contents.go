package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/veldt/anancus/domain"
)

// Contents and comments queries
const (
	sqlCreateContentsTable = `CREATE TABLE IF NOT EXISTS contents(
                        id uuid NOT NULL PRIMARY KEY,
                        object_uri varchar(500) UNIQUE NOT NULL,
                        actor_uri varchar(500) NOT NULL,
                        title varchar(500) NOT NULL,
                        description text default '',
                        media_type varchar(100) default '',
                        duration_seconds int default 0,
                        size_bytes bigint default 0,
                        canonical_url varchar(500) default '',
                        federated int default 0,
                        origin_instance varchar(255) default '',
                        origin_actor_uri varchar(500) default '',
                        stored_content_id varchar(255) default '',
                        like_count int default 0,
                        announce_count int default 0,
                        comment_count int default 0,
                        moderation varchar(30) default 'pending',
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertContent = `INSERT INTO contents(id, object_uri, actor_uri, title, description, media_type, duration_seconds, size_bytes, canonical_url, federated, origin_instance, origin_actor_uri, stored_content_id, moderation, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectContentByObjectURI = `SELECT id, object_uri, actor_uri, title, description, media_type, duration_seconds, size_bytes, canonical_url, federated, origin_instance, origin_actor_uri, stored_content_id, like_count, announce_count, comment_count, moderation, created_at FROM contents WHERE object_uri = ?`
	sqlSelectContentsByActor    = `SELECT id, object_uri, actor_uri, title, description, media_type, duration_seconds, size_bytes, canonical_url, federated, origin_instance, origin_actor_uri, stored_content_id, like_count, announce_count, comment_count, moderation, created_at FROM contents WHERE actor_uri = ? ORDER BY created_at DESC LIMIT ?`
	sqlSelectRecentContents     = `SELECT id, object_uri, actor_uri, title, description, media_type, duration_seconds, size_bytes, canonical_url, federated, origin_instance, origin_actor_uri, stored_content_id, like_count, announce_count, comment_count, moderation, created_at FROM contents ORDER BY created_at DESC LIMIT ?`
	sqlDeleteContent            = `DELETE FROM contents WHERE object_uri = ?`
	sqlIncrementLikeCount       = `UPDATE contents SET like_count = like_count + 1 WHERE object_uri = ?`
	sqlIncrementAnnounceCount   = `UPDATE contents SET announce_count = announce_count + 1 WHERE object_uri = ?`
	sqlIncrementCommentCount    = `UPDATE contents SET comment_count = comment_count + 1 WHERE id = ?`
	sqlUpdateModeration         = `UPDATE contents SET moderation = ? WHERE object_uri = ?`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments(
                        id uuid NOT NULL PRIMARY KEY,
                        content_id uuid NOT NULL,
                        object_uri varchar(500) UNIQUE NOT NULL,
                        actor_uri varchar(500) NOT NULL,
                        body text NOT NULL,
                        federated int default 0,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertComment           = `INSERT INTO comments(id, content_id, object_uri, actor_uri, body, federated, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectCommentsByContent = `SELECT id, content_id, object_uri, actor_uri, body, federated, created_at FROM comments WHERE content_id = ? ORDER BY created_at ASC`
	sqlDeleteCommentsByContent = `DELETE FROM comments WHERE content_id = ?`
)

// CreateContent persists a content record. The unique object_uri
// constraint is how duplicate federated deliveries get dropped.
func (db *DB) CreateContent(c *domain.Content) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertContent,
			c.Id.String(), c.ObjectURI, c.ActorURI, c.Title, c.Description, c.MediaType,
			c.DurationSeconds, c.SizeBytes, c.CanonicalURL, c.Federated, c.OriginInstance,
			c.OriginActorURI, c.StoredContentId, string(c.Moderation), c.CreatedAt)
		return err
	})
}

func (db *DB) ReadContentByObjectURI(objectURI string) (error, *domain.Content) {
	return scanContent(db.db.QueryRow(sqlSelectContentByObjectURI, objectURI))
}

func (db *DB) ReadContentsByActor(actorURI string, limit int) (error, *[]domain.Content) {
	return db.queryContents(sqlSelectContentsByActor, actorURI, limit)
}

func (db *DB) ReadRecentContents(limit int) (error, *[]domain.Content) {
	return db.queryContents(sqlSelectRecentContents, limit)
}

func (db *DB) queryContents(query string, args ...interface{}) (error, *[]domain.Content) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var contents []domain.Content
	for rows.Next() {
		var c domain.Content
		var idStr, moderation string
		if err := rows.Scan(&idStr, &c.ObjectURI, &c.ActorURI, &c.Title, &c.Description, &c.MediaType,
			&c.DurationSeconds, &c.SizeBytes, &c.CanonicalURL, &c.Federated, &c.OriginInstance,
			&c.OriginActorURI, &c.StoredContentId, &c.LikeCount, &c.AnnounceCount, &c.CommentCount,
			&moderation, &c.CreatedAt); err != nil {
			return err, &contents
		}
		c.Id, _ = uuid.Parse(idStr)
		c.Moderation = domain.ModerationStatus(moderation)
		contents = append(contents, c)
	}
	if err = rows.Err(); err != nil {
		return err, &contents
	}
	return nil, &contents
}

// DeleteContentByObjectURI removes a content record and its comments.
func (db *DB) DeleteContentByObjectURI(objectURI string) error {
	err, content := db.ReadContentByObjectURI(objectURI)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteCommentsByContent, content.Id.String()); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteContent, objectURI)
		return err
	})
}

func (db *DB) IncrementLikeCount(objectURI string) error {
	return db.bumpCounter(sqlIncrementLikeCount, objectURI)
}

func (db *DB) IncrementAnnounceCount(objectURI string) error {
	return db.bumpCounter(sqlIncrementAnnounceCount, objectURI)
}

func (db *DB) SetModeration(objectURI string, status domain.ModerationStatus) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateModeration, string(status), objectURI)
		return err
	})
}

// CreateComment inserts a comment and bumps the parent's counter in
// the same transaction. ObjectURI is the comment's own URI; the unique
// constraint on it drops duplicate federated replies.
func (db *DB) CreateComment(c *domain.Comment) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlInsertComment, c.Id.String(), c.ContentId.String(), c.ObjectURI, c.ActorURI, c.Body, c.Federated, c.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(sqlIncrementCommentCount, c.ContentId.String())
		return err
	})
}

func (db *DB) ReadCommentsByContent(contentId uuid.UUID) (error, *[]domain.Comment) {
	rows, err := db.db.Query(sqlSelectCommentsByContent, contentId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var idStr, contentIdStr string
		if err := rows.Scan(&idStr, &contentIdStr, &c.ObjectURI, &c.ActorURI, &c.Body, &c.Federated, &c.CreatedAt); err != nil {
			return err, &comments
		}
		c.Id, _ = uuid.Parse(idStr)
		c.ContentId, _ = uuid.Parse(contentIdStr)
		comments = append(comments, c)
	}
	if err = rows.Err(); err != nil {
		return err, &comments
	}
	return nil, &comments
}

func (db *DB) bumpCounter(query string, objectURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(query, objectURI)
		return err
	})
}

func scanContent(row *sql.Row) (error, *domain.Content) {
	var c domain.Content
	var idStr, moderation string
	var createdAt time.Time
	err := row.Scan(&idStr, &c.ObjectURI, &c.ActorURI, &c.Title, &c.Description, &c.MediaType,
		&c.DurationSeconds, &c.SizeBytes, &c.CanonicalURL, &c.Federated, &c.OriginInstance,
		&c.OriginActorURI, &c.StoredContentId, &c.LikeCount, &c.AnnounceCount, &c.CommentCount,
		&moderation, &createdAt)
	if err != nil {
		return err, nil
	}
	c.Id, _ = uuid.Parse(idStr)
	c.Moderation = domain.ModerationStatus(moderation)
	c.CreatedAt = createdAt
	return nil, &c
}
