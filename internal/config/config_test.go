package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{
		"repositories": "/var/lib/deepwell/repos",
		"database": "/var/lib/deepwell/meta",
		"domain": "scpwiki.com",
		"process_timeout_ms": 5000,
		"log_level": "debug"
	}`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/deepwell/repos", config.Repositories)
	assert.Equal(t, "/var/lib/deepwell/meta", config.Database)
	assert.Equal(t, "scpwiki.com", config.Domain)
	assert.Equal(t, 5*time.Second, config.ProcessTimeout())
	assert.Equal(t, "debug", config.LogLevel)
}

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{}`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), config)
	assert.Equal(t, 1800*time.Millisecond, config.ProcessTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{"domain": `)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("DEEPWELL_CONFIG", "/etc/deepwell/config.json")
	assert.Equal(t, "/etc/deepwell/config.json", Path())

	t.Setenv("DEEPWELL_CONFIG", "")
	assert.Equal(t, "config.json", Path())
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{"domain": "example.org"}`)

	initial, err := Load(path)
	require.NoError(t, err)

	loaded := make(chan *Config, 4)
	watcher, err := NewWatcher(path, initial, func(c *Config) {
		loaded <- c
	}, nil)
	require.NoError(t, err)
	defer watcher.Close()

	assert.Equal(t, "example.org", watcher.Current().Domain)

	writeConfig(t, path, `{"domain": "scpwiki.com"}`)

	select {
	case config := <-loaded:
		assert.Equal(t, "scpwiki.com", config.Domain)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload never fired")
	}

	assert.Equal(t, "scpwiki.com", watcher.Current().Domain)
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{"domain": "example.org"}`)

	initial, err := Load(path)
	require.NoError(t, err)

	watcher, err := NewWatcher(path, initial, nil, nil)
	require.NoError(t, err)
	defer watcher.Close()

	writeConfig(t, path, `{"domain": `)

	// Give the watcher a moment to see the write and reject it.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, "example.org", watcher.Current().Domain)
}
