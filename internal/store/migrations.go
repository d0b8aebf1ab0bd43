package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create documents and users",
		SQL: `
			CREATE TABLE documents (
				collection  TEXT NOT NULL,
				id          TEXT NOT NULL,
				data        TEXT NOT NULL,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL,
				PRIMARY KEY (collection, id)
			);

			CREATE TABLE users (
				id             TEXT PRIMARY KEY,
				name           TEXT NOT NULL,
				email          TEXT NOT NULL,
				avatar         TEXT NOT NULL DEFAULT '',
				password_hash  TEXT NOT NULL DEFAULT '',
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_users_email ON users (email);
		`,
	},
	{
		Version: 2,
		Name:    "create chat history with FTS5",
		SQL: `
			CREATE TABLE chat_messages (
				seq         INTEGER PRIMARY KEY AUTOINCREMENT,
				id          TEXT NOT NULL UNIQUE,
				user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				timestamp   TEXT NOT NULL,
				metadata    TEXT
			);

			CREATE INDEX idx_chat_user ON chat_messages (user_id, seq);

			CREATE TABLE chat_state (
				user_id     TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				context     TEXT NOT NULL DEFAULT '',
				updated_at  TEXT NOT NULL
			);

			CREATE VIRTUAL TABLE chat_fts USING fts5(
				content,
				content='chat_messages',
				content_rowid='seq'
			);

			CREATE TRIGGER chat_ai AFTER INSERT ON chat_messages BEGIN
				INSERT INTO chat_fts(rowid, content) VALUES (new.seq, new.content);
			END;

			CREATE TRIGGER chat_ad AFTER DELETE ON chat_messages BEGIN
				INSERT INTO chat_fts(chat_fts, rowid, content) VALUES ('delete', old.seq, old.content);
			END;
		`,
	},
	{
		Version: 3,
		Name:    "create revoked tokens",
		SQL: `
			CREATE TABLE revoked_tokens (
				jti         TEXT PRIMARY KEY,
				expires_at  TEXT NOT NULL
			);

			CREATE INDEX idx_revoked_expiry ON revoked_tokens (expires_at);
		`,
	},
}
