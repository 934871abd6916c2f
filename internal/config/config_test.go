package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultCodexBinary, cfg.Codex.Binary)
	assert.Equal(t, DefaultSandboxRoot, cfg.Sandbox.Root)
	assert.Equal(t, DefaultLinkDirname, cfg.Sandbox.LinkDirname)
	assert.Equal(t, DefaultPlainLimit, cfg.Limits.PlainMessageLength)
	assert.Equal(t, DefaultMarkdownLimit, cfg.Limits.MarkdownMessageLength)
	assert.EqualValues(t, DefaultMaxUploadBytes, cfg.Limits.MaxUploadBytes)
	assert.Equal(t, 30, cfg.Telegram.PollTimeoutSeconds)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[log]
level = "debug"
format = "json"

[telegram]
bot_token = "123:abc"
allowed_entries = ["42", "@alice"]

[codex]
binary = "/opt/codex"
model = "gpt-5"
workdir = "/srv/relay"

[limits]
plain_message_length = 1000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, []string{"42", "@alice"}, cfg.Telegram.AllowedEntries)
	assert.Equal(t, "/opt/codex", cfg.Codex.Binary)
	assert.Equal(t, "gpt-5", cfg.Codex.Model)
	assert.Equal(t, "/srv/relay", cfg.Codex.Workdir)
	assert.Equal(t, 1000, cfg.Limits.PlainMessageLength)
	// Unset sections keep their defaults.
	assert.Equal(t, DefaultMarkdownLimit, cfg.Limits.MarkdownMessageLength)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "999:env")
	t.Setenv("ALLOWED_CHAT_USER_IDS", " 7 , @bob ,")
	t.Setenv("CODEX_MODEL", "gpt-5-codex")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, "999:env", cfg.Telegram.BotToken)
	assert.Equal(t, []string{"7", "@bob"}, cfg.Telegram.AllowedEntries)
	assert.Equal(t, "gpt-5-codex", cfg.Codex.Model)
}
