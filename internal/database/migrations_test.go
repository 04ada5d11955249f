package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	sql, err := migrationsFS.ReadFile("migrations/" + entries[0].Name())
	require.NoError(t, err)

	body := string(sql)
	assert.Contains(t, body, "-- +goose Up")
	assert.Contains(t, body, "-- +goose Down")
	// duplicate detection in the store keys off these names
	for _, constraint := range []string{"users_email_key", "users_username_key", "sessions_token_key"} {
		assert.Contains(t, body, constraint)
	}
}

func TestMigrationsHaveUpAndDown(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)

	for _, entry := range entries {
		sql, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		require.NoError(t, err)
		assert.Contains(t, string(sql), "-- +goose Up", entry.Name())
		assert.Contains(t, string(sql), "-- +goose Down", entry.Name())
	}

	last, err := migrationsFS.ReadFile("migrations/" + entries[len(entries)-1].Name())
	require.NoError(t, err)
	assert.Contains(t, string(last), "attempts")
}
