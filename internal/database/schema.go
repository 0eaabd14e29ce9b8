package database

// One token per (user, room): re-issuing replaces the row, which makes
// the previous hash unknown immediately.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_tokens (
		token_hash   TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		room_id      TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		issued_at    TIMESTAMPTZ NOT NULL,
		expires_at   TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, room_id)
	)`,
	`CREATE INDEX IF NOT EXISTS session_tokens_expires_at_idx ON session_tokens (expires_at)`,
}
