package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(TokenEnv, "")
	unsetEnv(t, "SUPPORT_CHAT_ID")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, DefaultPollTimeout, cfg.Telegram.PollTimeout)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, ProviderStatic, cfg.Directory.Provider)
	assert.Equal(t, DefaultAirtableRate, cfg.Directory.Airtable.RateLimit)
	assert.Empty(t, cfg.Digest.Schedule)
}

func TestLoadFile(t *testing.T) {
	t.Setenv(TokenEnv, "")
	unsetEnv(t, "SUPPORT_CHAT_ID")

	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[log]
level = "debug"

[telegram]
bot_token = "file-token"
support_chat_id = -100123

[storage]
driver = "SQLite"
path = "/tmp/bot.db"

[directory]
provider = "airtable"

[directory.airtable]
api_key = "key"
base_id = "app1"
table = "Clients"

[directory.static]
"79990001122" = "Ivan"

[digest]
schedule = "0 9 * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "file-token", cfg.Telegram.BotToken)
	assert.Equal(t, int64(-100123), cfg.Telegram.SupportChatID)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/bot.db", cfg.Storage.Path)
	assert.Equal(t, ProviderAirtable, cfg.Directory.Provider)
	assert.Equal(t, "Clients", cfg.Directory.Airtable.Table)
	assert.Equal(t, DefaultAirtablePhone, cfg.Directory.Airtable.PhoneField)
	assert.Equal(t, "Ivan", cfg.Directory.Static["79990001122"])
	assert.Equal(t, "0 9 * * *", cfg.Digest.Schedule)
}

func TestLoadTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, "env-token")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[telegram]\nbot_token = \"file-token\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log\nlevel="), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(TokenEnv, "")
	t.Setenv("SUPPORT_CHAT_ID", "-100777")
	t.Setenv("ADMIN_TOKEN", "admin")
	t.Setenv("AIRTABLE_API_KEY", "pat123")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, int64(-100777), cfg.Telegram.SupportChatID)
	assert.Equal(t, "admin", cfg.Server.AdminToken)
	assert.Equal(t, "pat123", cfg.Directory.Airtable.APIKey)
}

func TestLoadBadEnvValue(t *testing.T) {
	t.Setenv("SUPPORT_CHAT_ID", "not-a-number")
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv(TokenEnv, "")
	unsetEnv(t, "SUPPORT_CHAT_ID")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BotToken")
	assert.Contains(t, err.Error(), "SupportChatID")

	cfg.Telegram.BotToken = "token"
	cfg.Telegram.SupportChatID = -100
	require.NoError(t, cfg.Validate())

	cfg.Storage.Driver = "mysql"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Driver")
}

// unsetEnv removes key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}
