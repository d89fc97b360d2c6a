// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for rigchat.
//
// Settings come from ~/.rigchat/config.toml with built-in defaults and
// environment variable overrides on top. A file watcher can reload the
// configuration in place when the file changes on disk.
package config
