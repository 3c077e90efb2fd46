package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the relay schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Users, owned by the external user store
		`CREATE TABLE IF NOT EXISTS users (
			id           TEXT         PRIMARY KEY,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			is_active    BOOLEAN      NOT NULL DEFAULT TRUE,
			is_online    BOOLEAN      NOT NULL DEFAULT FALSE,
			last_seen    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// Chat membership, owned by the external chat store
		`CREATE TABLE IF NOT EXISTS chat_members (
			chat_id   TEXT        NOT NULL,
			user_id   TEXT        NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT        PRIMARY KEY,
			chat_id         TEXT        NOT NULL,
			sender_id       TEXT        NOT NULL,
			content         TEXT        NOT NULL DEFAULT '',
			attachment_path TEXT,
			attachment_type TEXT,
			status          VARCHAR(16) NOT NULL DEFAULT 'sent',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS message_readers (
			message_id TEXT        NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    TEXT        NOT NULL,
			read_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)`,

		// Per-user "delete for me"
		`CREATE TABLE IF NOT EXISTS hidden_messages (
			user_id    TEXT        NOT NULL,
			message_id TEXT        NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			hidden_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, message_id)
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id          TEXT        PRIMARY KEY,
			sender_id   TEXT        NOT NULL,
			receiver_id TEXT        NOT NULL,
			chat_id     TEXT        NOT NULL,
			message_id  TEXT        NOT NULL,
			content     TEXT        NOT NULL DEFAULT '',
			is_read     BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_members_user ON chat_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_receiver ON notifications(receiver_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_chat ON notifications(chat_id, receiver_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_message ON notifications(message_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
