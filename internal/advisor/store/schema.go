package store

// schema is valid for both PostgreSQL and SQLite. Timestamps are unix
// milliseconds so both drivers scan them into int64.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		analysis_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (analysis_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		seq BIGINT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (conversation_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS variant_links (
		original_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		variant_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		modified_parameters TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (original_id, variant_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_variant_links_variant ON variant_links (variant_id)`,
}
