// Package statepaths resolves the on-disk layout of the bot's state
// directory from viper configuration.
package statepaths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const defaultStateDirName = ".telegram-chat-bot"

// StateDir returns the root state directory. An empty or unset
// file_state_dir falls back to a dot directory under the user's home.
func StateDir() string {
	return resolveStateDir(viper.GetString("file_state_dir"))
}

// PebbleDir returns the directory for the pebble-backed store.
func PebbleDir() string {
	configured := strings.TrimSpace(viper.GetString("store.pebble_dir"))
	if configured != "" {
		return expandHomePath(configured)
	}
	return filepath.Join(StateDir(), "pebble")
}

func resolveStateDir(configured string) string {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return expandHomePath(configured)
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return defaultStateDirName
	}
	return filepath.Join(home, defaultStateDirName)
}

func expandHomePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			if path == "~" {
				return home
			}
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
