package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS voice_targets (
	guild_id   INTEGER PRIMARY KEY,
	channel_id INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite stores voice targets in a SQLite database so reconnection survives restarts.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite db")
	}
	if path == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping sqlite db")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, guildID snowflake.ID) (snowflake.ID, bool, error) {
	var ch int64
	err := s.db.QueryRowContext(ctx, "SELECT channel_id FROM voice_targets WHERE guild_id = ?", int64(guildID)).Scan(&ch)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to load voice target for guild %s", guildID)
	}
	return snowflake.ID(ch), true, nil
}

func (s *SQLite) Set(ctx context.Context, guildID, channelID snowflake.ID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO voice_targets (guild_id, channel_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET channel_id = excluded.channel_id, updated_at = excluded.updated_at
	`, int64(guildID), int64(channelID), s.now().Unix())
	return errors.Wrapf(err, "failed to store voice target for guild %s", guildID)
}

func (s *SQLite) Clear(ctx context.Context, guildID snowflake.ID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM voice_targets WHERE guild_id = ?", int64(guildID))
	return errors.Wrapf(err, "failed to clear voice target for guild %s", guildID)
}

// All returns every stored target.
func (s *SQLite) All(ctx context.Context) (map[snowflake.ID]snowflake.ID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT guild_id, channel_id FROM voice_targets")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list voice targets")
	}
	defer rows.Close()

	out := make(map[snowflake.ID]snowflake.ID)
	for rows.Next() {
		var g, ch int64
		if err := rows.Scan(&g, &ch); err != nil {
			return nil, errors.Wrap(err, "failed to scan voice target")
		}
		out[snowflake.ID(g)] = snowflake.ID(ch)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate voice targets")
	}
	return out, nil
}
