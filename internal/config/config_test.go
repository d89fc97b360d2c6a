// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 10, cfg.Cache.MaxConversations)
	require.Equal(t, 20, cfg.Cache.MaxRuntimeConversations)
	require.Equal(t, 3, cfg.Tasks.PollIntervalSecs)
	require.Equal(t, 15, cfg.Tasks.MaxGlobal)
	require.Equal(t, 5, cfg.Tasks.MaxPerConversation)
	require.True(t, cfg.History.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, Default().Tasks, cfg.Tasks)
}

func TestLoadSparseFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
base_url = "https://chat.example.com"

[tasks]
max_per_conversation = 2
`), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, "https://chat.example.com", cfg.API.BaseURL)
	require.Equal(t, 2, cfg.Tasks.MaxPerConversation)
	// Defaults filled where the file was silent.
	require.Equal(t, 15, cfg.Tasks.MaxGlobal)
	require.Equal(t, 10, cfg.Cache.MaxConversations)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RIGCHAT_API_KEY", "rk-env")
	t.Setenv("RIGCHAT_MODEL", "fast-1")
	t.Setenv("RIGCHAT_POLL_INTERVAL", "7")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, "rk-env", cfg.API.Key)
	require.Equal(t, "fast-1", cfg.API.Model)
	require.Equal(t, 7, cfg.Tasks.PollIntervalSecs)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "not a url"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Tasks.MaxGlobal = 2
	cfg.Tasks.MaxPerConversation = 5
	err := cfg.Validate()
	require.Error(t, err)
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "tasks.max_per_conversation", verr.Field)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.API.BaseURL = "https://chat.example.com"
	cfg.API.Key = "rk-secret"
	require.NoError(t, SaveToPath(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, cfg.API.BaseURL, loaded.API.BaseURL)
	require.Equal(t, cfg.API.Key, loaded.API.Key)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveToPath(Default(), path))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	require.NoError(t, w.Watch())
	defer w.Close()

	cfg := Default()
	cfg.API.Model = "reloaded-model"
	require.NoError(t, SaveToPath(cfg, path))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := got != nil && got.API.Model == "reloaded-model"
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("watcher never delivered the reloaded config")
}
