package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// --- Phase 1: Database Connection & Lifecycle ---

var DB *sql.DB

const (
	dbOpTimeout      = 10 * time.Second
	dbOpenAttempts   = 3
	dbOpenRetryDelay = 500 * time.Millisecond
)

func InitDatabase(ctx context.Context, dataSourceName string) error {
	// Explicitly reference sqlite3 driver to avoid blank identifier
	// The driver registers itself via its init() function
	_ = sqlite3.SQLiteDriver{}

	if dir := filepath.Dir(dataSourceName); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	var err error
	for attempt := 1; attempt <= dbOpenAttempts; attempt++ {
		DB, err = sql.Open("sqlite3", dataSourceName)
		if err == nil {
			err = DB.PingContext(ctx)
		}
		if err == nil {
			break
		}
		LogDatabaseError(MsgDatabaseOpenRetry, attempt, dbOpenAttempts, err)
		if attempt < dbOpenAttempts {
			time.Sleep(dbOpenRetryDelay)
		}
	}
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
		"PRAGMA foreign_keys=ON;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			discord_id INTEGER NOT NULL,
			guild_id INTEGER NOT NULL,
			username TEXT NOT NULL,
			anilist_username TEXT,
			anilist_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(discord_id, guild_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_manga_progress (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			discord_id INTEGER NOT NULL,
			guild_id INTEGER NOT NULL,
			manga_id INTEGER NOT NULL,
			title TEXT,
			chapters_read INTEGER DEFAULT 0,
			points REAL DEFAULT 0,
			status TEXT DEFAULT 'Not Started',
			repeat INTEGER DEFAULT 0,
			rating REAL DEFAULT 0,
			started_at TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(discord_id, guild_id, manga_id)
		)`,
		`CREATE TABLE IF NOT EXISTS global_challenges (
			challenge_id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			start_date TEXT,
			difficulty TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS challenge_manga (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			challenge_id INTEGER NOT NULL,
			manga_id INTEGER NOT NULL,
			title TEXT,
			total_chapters INTEGER DEFAULT 0,
			medium TEXT DEFAULT 'manga',
			UNIQUE(challenge_id, manga_id)
		)`,
		`CREATE TABLE IF NOT EXISTS guild_challenges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			start_date TEXT,
			difficulty TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_challenge_manga (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id INTEGER NOT NULL,
			challenge_id INTEGER NOT NULL,
			manga_id INTEGER NOT NULL,
			title TEXT,
			total_chapters INTEGER DEFAULT 0,
			medium TEXT DEFAULT 'manga',
			UNIQUE(guild_id, challenge_id, manga_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			discord_id INTEGER NOT NULL,
			guild_id INTEGER NOT NULL,
			username TEXT NOT NULL,
			manga_count INTEGER DEFAULT 0,
			chapters_read INTEGER DEFAULT 0,
			manga_mean REAL DEFAULT 0,
			anime_count INTEGER DEFAULT 0,
			episodes_watched INTEGER DEFAULT 0,
			anime_mean REAL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(discord_id, guild_id)
		)`,
		`CREATE TABLE IF NOT EXISTS cached_stats (
			discord_id INTEGER NOT NULL,
			guild_id INTEGER NOT NULL,
			payload TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(discord_id, guild_id)
		)`,
		`CREATE TABLE IF NOT EXISTS achievements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			discord_id INTEGER NOT NULL,
			guild_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			awarded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(discord_id, guild_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS manga_recommendations_votes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			discord_id INTEGER NOT NULL,
			guild_id INTEGER NOT NULL,
			manga_id INTEGER NOT NULL,
			vote INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS steam_users (
			discord_id INTEGER NOT NULL,
			guild_id INTEGER NOT NULL,
			steam_id TEXT NOT NULL,
			UNIQUE(discord_id, guild_id)
		)`,
		`CREATE TABLE IF NOT EXISTS challenge_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			discord_id INTEGER NOT NULL,
			guild_id INTEGER NOT NULL,
			challenge_id INTEGER NOT NULL,
			checkpoint TEXT NOT NULL,
			reached_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS challenge_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id INTEGER NOT NULL,
			challenge_id INTEGER NOT NULL,
			rule TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recruitment_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id INTEGER NOT NULL,
			inviter_id INTEGER NOT NULL,
			joins INTEGER DEFAULT 0,
			leaves INTEGER DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(guild_id, inviter_id)
		)`,
		`CREATE TABLE IF NOT EXISTS invite_uses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id INTEGER NOT NULL,
			invite_code TEXT NOT NULL,
			inviter_id INTEGER NOT NULL,
			member_id INTEGER NOT NULL,
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_leaves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id INTEGER NOT NULL,
			member_id INTEGER NOT NULL,
			inviter_id INTEGER,
			joined_at DATETIME,
			left_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			days_in_server INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS invite_tracker_settings (
			guild_id INTEGER PRIMARY KEY,
			announce_channel_id INTEGER,
			enabled INTEGER DEFAULT 1,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	migrations := []string{
		"ALTER TABLE users ADD COLUMN anilist_id INTEGER",
		"ALTER TABLE user_manga_progress ADD COLUMN repeat INTEGER DEFAULT 0",
		"ALTER TABLE user_manga_progress ADD COLUMN rating REAL DEFAULT 0",
		"ALTER TABLE user_manga_progress ADD COLUMN started_at TEXT",
		"ALTER TABLE guild_challenges ADD COLUMN difficulty TEXT",
		"ALTER TABLE guild_challenge_manga ADD COLUMN medium TEXT DEFAULT 'manga'",
		"ALTER TABLE user_stats ADD COLUMN anime_mean REAL DEFAULT 0",
		"ALTER TABLE invite_tracker_settings ADD COLUMN enabled INTEGER DEFAULT 1",
	}

	for _, m := range migrations {
		if _, err := DB.ExecContext(initCtx, m); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
	}

	if err := MigrateUsersSchema(initCtx); err != nil {
		return err
	}

	indexQueries := []string{
		"CREATE INDEX IF NOT EXISTS idx_users_guild ON users(guild_id)",
		"CREATE INDEX IF NOT EXISTS idx_progress_user ON user_manga_progress(discord_id, guild_id)",
		"CREATE INDEX IF NOT EXISTS idx_stats_guild ON user_stats(guild_id)",
		"CREATE INDEX IF NOT EXISTS idx_invite_uses_guild ON invite_uses(guild_id)",
	}
	for _, q := range indexQueries {
		if _, err := DB.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Phase 2: Operation Executor ---

// Every statement goes through one of these three helpers so each operation
// gets a per-call timeout and elapsed-time logging keyed by operation name.
// Row scanning happens inside the helper; the timeout would otherwise cancel
// the cursor before the caller finished reading it.

func dbExec(ctx context.Context, op, query string, args ...interface{}) (sql.Result, error) {
	opCtx, cancel := context.WithTimeout(ctx, dbOpTimeout)
	defer cancel()

	start := time.Now()
	res, err := DB.ExecContext(opCtx, query, args...)
	elapsed := time.Since(start).Round(time.Microsecond)
	if err != nil {
		LogDatabaseError(MsgDatabaseOpFailed, op, elapsed, err)
		return nil, err
	}
	affected, _ := res.RowsAffected()
	LogDatabaseDebug(MsgDatabaseOpComplete, op, elapsed, affected)
	return res, nil
}

func dbQueryRow(ctx context.Context, op, query string, args []interface{}, dest ...interface{}) error {
	opCtx, cancel := context.WithTimeout(ctx, dbOpTimeout)
	defer cancel()

	start := time.Now()
	err := DB.QueryRowContext(opCtx, query, args...).Scan(dest...)
	elapsed := time.Since(start).Round(time.Microsecond)
	if err != nil {
		if err == sql.ErrNoRows {
			LogDatabaseDebug(MsgDatabaseOpComplete, op, elapsed, 0)
		} else {
			LogDatabaseError(MsgDatabaseOpFailed, op, elapsed, err)
		}
		return err
	}
	LogDatabaseDebug(MsgDatabaseOpComplete, op, elapsed, 1)
	return nil
}

func dbQuery(ctx context.Context, op, query string, args []interface{}, scan func(*sql.Rows) error) error {
	opCtx, cancel := context.WithTimeout(ctx, dbOpTimeout)
	defer cancel()

	start := time.Now()
	rows, err := DB.QueryContext(opCtx, query, args...)
	if err != nil {
		LogDatabaseError(MsgDatabaseOpFailed, op, time.Since(start).Round(time.Microsecond), err)
		return err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		if err := scan(rows); err != nil {
			LogDatabaseError(MsgDatabaseOpFailed, op, time.Since(start).Round(time.Microsecond), err)
			return err
		}
		count++
	}
	elapsed := time.Since(start).Round(time.Microsecond)
	if err := rows.Err(); err != nil {
		LogDatabaseError(MsgDatabaseOpFailed, op, elapsed, err)
		return err
	}
	LogDatabaseDebug(MsgDatabaseOpComplete, op, elapsed, count)
	return nil
}

// --- Phase 3: Infrastructure & Bot Persistence ---

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := dbQueryRow(ctx, "bot_config.get", "SELECT value FROM bot_config WHERE key = ?", []interface{}{key}, &value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := dbExec(ctx, "bot_config.set", `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}
