package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS dm_conversations (
		id              TEXT PRIMARY KEY,
		participant1_id TEXT NOT NULL,
		participant2_id TEXT NOT NULL,
		last_seq        BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (participant1_id, participant2_id)
	)`,
	`CREATE TABLE IF NOT EXISTS dm_messages (
		id                 TEXT PRIMARY KEY,
		dm_conversation_id TEXT NOT NULL REFERENCES dm_conversations(id) ON DELETE CASCADE,
		seq                BIGINT NOT NULL,
		sender_id          TEXT NOT NULL,
		recipient_id       TEXT NOT NULL,
		type               VARCHAR(16) NOT NULL DEFAULT 'TEXT',
		content            VARCHAR(2000) NOT NULL,
		status             VARCHAR(16) NOT NULL DEFAULT 'pending',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (dm_conversation_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS dm_messages_pending_idx
		ON dm_messages (recipient_id, status) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS device_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		platform   VARCHAR(16) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS device_tokens_user_idx ON device_tokens (user_id)`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
