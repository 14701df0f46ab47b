package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullposters/ciabot/internal/settings"
)

func TestSettingsNormalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"trigger_words":{"py/set":["fbi"]}}`), 0o644))

	require.NoError(t, run([]string{"ciabot", "--settings-path", path, "--log-level", "error", "settings", "normalize"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	st, err := settings.Decode(data)
	require.NoError(t, err)
	assert.True(t, st.TriggerWords.Has("fbi"))
	assert.NotContains(t, string(data), "py/set")
	assert.Contains(t, string(data), `"bypass_prefix": ">>"`)
}

func TestSettingsShowDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	require.NoError(t, run([]string{"ciabot", "--settings-path", path, "settings", "show"}))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "show must not create the file")
}

func TestRunRequiresToken(t *testing.T) {
	t.Setenv("CIABOT_TOKEN", "")
	t.Setenv("CIABOT_SECRET", "")
	path := filepath.Join(t.TempDir(), "settings.json")

	err := run([]string{"ciabot", "--settings-path", path, "--log-level", "error", "run"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--token")
}

func TestAuditCountRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	err := run([]string{"ciabot", "audit", "count", "--author", "42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--database-url")
}
