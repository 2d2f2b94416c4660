package database

// Message queries
const (
	// The partial unique index on (sender, body, source_app) WHERE is_deleted = 0
	// turns a duplicate live triple into an ignored insert.
	InsertMessageIfAbsentQuery = `
		INSERT OR IGNORE INTO messages (
			sender, body, source_app, timestamp, notification_key, is_deleted
		) VALUES (?, ?, ?, ?, ?, 0)
	`

	MarkLatestDeletedQuery = `
		UPDATE messages
		SET is_deleted = 1
		WHERE id = (
			SELECT id FROM messages
			WHERE sender = ? AND source_app = ? AND is_deleted = 0
			ORDER BY id DESC
			LIMIT 1
		)
	`

	SelectMessageByIDQuery = `
		SELECT id, sender, body, source_app, timestamp, notification_key, is_deleted
		FROM messages
		WHERE id = ?
	`

	SelectMessagesAfterQuery = `
		SELECT id, sender, body, source_app, timestamp, notification_key, is_deleted
		FROM messages
		WHERE id > ? AND (? = 1 OR is_deleted = 0)
		ORDER BY id ASC
		LIMIT ?
	`

	CountMessagesQuery = `
		SELECT COUNT(*) FROM messages
		WHERE (? = 1 OR is_deleted = 0)
	`
)

// Pending write queries
const (
	InsertPendingQuery = `
		INSERT INTO pending_writes (key, value, staged_at)
		VALUES (?, ?, ?)
	`

	SelectPendingByPrefixQuery = `
		SELECT seq, key, value, staged_at
		FROM pending_writes
		WHERE substr(key, 1, length(?)) = ?
		ORDER BY seq ASC
		LIMIT ?
	`

	DeletePendingQuery = `
		DELETE FROM pending_writes
		WHERE key = ?
	`

	CountPendingQuery = `
		SELECT COUNT(*) FROM pending_writes
	`
)
