package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB points the global DB at a fresh database file and runs the
// full initializer.
func setupTestDB(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "grimoire_test.db")
	require.NoError(t, InitDatabase(ctx, path))
	t.Cleanup(CloseDatabase)
	return ctx
}

// openLegacyDB creates a pre-multi-guild database file: a users table
// without guild_id, populated with a few rows.
func openLegacyDB(t *testing.T) (context.Context, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "grimoire_legacy.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			discord_id INTEGER NOT NULL UNIQUE,
			username TEXT NOT NULL,
			anilist_username TEXT
		)`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		"INSERT INTO users (discord_id, username, anilist_username) VALUES (101, 'alice', 'aliceAL'), (102, 'bob', NULL)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	return ctx, path
}

func TestInitDatabaseIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "grimoire_test.db")

	require.NoError(t, InitDatabase(ctx, path))
	require.NoError(t, AddUser(ctx, 1, 2, "alice", "", 0))
	CloseDatabase()

	// Second init must not disturb existing data.
	require.NoError(t, InitDatabase(ctx, path))
	defer CloseDatabase()

	u, err := GetUser(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, "alice", u.Username)
}

func TestLegacyUsersMigration(t *testing.T) {
	ctx, path := openLegacyDB(t)

	prevConfig := GlobalConfig
	GlobalConfig = &Config{LegacyGuildID: 4242}
	t.Cleanup(func() { GlobalConfig = prevConfig })

	require.NoError(t, InitDatabase(ctx, path))
	defer CloseDatabase()

	// Both legacy rows must survive, homed in the legacy guild.
	users, err := GetGuildUsers(ctx, 4242)
	require.NoError(t, err)
	require.Len(t, users, 2)

	alice, err := GetUser(ctx, 101, 4242)
	require.NoError(t, err)
	require.NotNil(t, alice)
	require.Equal(t, "alice", alice.Username)
	require.Equal(t, "aliceAL", alice.AnilistUsername)

	// The version flag must be set.
	version, err := getSchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, schemaVersionGuildAware, version)

	// The scratch table must be gone.
	columns, err := tableColumns(ctx, "users_new")
	require.NoError(t, err)
	require.Empty(t, columns)
}

func TestMigrationSecondRunIsNoOp(t *testing.T) {
	ctx, path := openLegacyDB(t)

	prevConfig := GlobalConfig
	GlobalConfig = &Config{LegacyGuildID: 4242}
	t.Cleanup(func() { GlobalConfig = prevConfig })

	require.NoError(t, InitDatabase(ctx, path))

	// Add a multi-guild row after migration.
	require.NoError(t, AddUser(ctx, 101, 9999, "alice-elsewhere", "", 0))
	CloseDatabase()

	require.NoError(t, InitDatabase(ctx, path))
	defer CloseDatabase()

	users, err := GetGuildUsers(ctx, 4242)
	require.NoError(t, err)
	require.Len(t, users, 2)

	elsewhere, err := GetUser(ctx, 101, 9999)
	require.NoError(t, err)
	require.NotNil(t, elsewhere)
	require.Equal(t, "alice-elsewhere", elsewhere.Username)
}

func TestFreshDatabaseIsGuildAware(t *testing.T) {
	ctx := setupTestDB(t)

	version, err := getSchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, schemaVersionGuildAware, version)
}

func TestBotConfigRoundTrip(t *testing.T) {
	ctx := setupTestDB(t)

	value, err := GetBotConfig(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, "", value)

	require.NoError(t, SetBotConfig(ctx, "last_cmd_hash", "abc123"))
	require.NoError(t, SetBotConfig(ctx, "last_cmd_hash", "def456"))

	value, err = GetBotConfig(ctx, "last_cmd_hash")
	require.NoError(t, err)
	require.Equal(t, "def456", value)
}

func TestExecutorReportsNoRows(t *testing.T) {
	ctx := setupTestDB(t)

	var name string
	err := dbQueryRow(ctx, "test.missing", "SELECT username FROM users WHERE discord_id = ?", []interface{}{-1}, &name)
	require.ErrorIs(t, err, sql.ErrNoRows)
}
