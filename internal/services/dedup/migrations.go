package dedup

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations must stay ordered by version, starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_messages (
	account_id   TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	processed_at INTEGER NOT NULL,
	PRIMARY KEY (account_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_processed_messages_processed_at
	ON processed_messages(processed_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
