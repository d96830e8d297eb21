package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	err := Load(filepath.Join(t.TempDir(), "nope.toml"), &cfg)
	require.NoError(t, err)

	assert.Equal(t, ":110", cfg.POP3.Addr)
	assert.True(t, cfg.POP3.AllowDelete)
	assert.True(t, cfg.POP3.RequirePassword)
}

func TestLoadOverridesDefaults(t *testing.T) {
	content := `
[database]
host = "db.example.com"
max_conn_lifetime = "30m"

[pop3]
addr = ":1100"
allow_delete = false

[logging]
level = "debug"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := NewDefaultConfig()
	require.NoError(t, Load(path, &cfg))

	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, ":1100", cfg.POP3.Addr)
	assert.False(t, cfg.POP3.AllowDelete)
	// Untouched keys keep their defaults
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.True(t, cfg.POP3.RequirePassword)
	assert.Equal(t, "debug", cfg.Logging.Level)

	lifetime, err := cfg.Database.GetMaxConnLifetime()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, lifetime)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	content := `
[database]
max_conn_lifetime = "not-a-duration"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := NewDefaultConfig()
	err := Load(path, &cfg)
	assert.Error(t, err)
}

func TestValidateRequiresAddrWhenStarted(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.POP3.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg.POP3.Start = false
	assert.NoError(t, cfg.Validate())
}
