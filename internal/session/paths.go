package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory.
const HomeEnv = "GROUPCHAT_HOME"

// BaseDir returns ~/.groupchat, or $GROUPCHAT_HOME when set.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".groupchat")
}

// ConfigPath returns the shared config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the log file for a component (chatd, chattui, chatctl).
func LogPath(component string) string {
	return filepath.Join(LogDir(), component+".log")
}

// DataDir returns the development server's default data directory.
func DataDir() string {
	return filepath.Join(BaseDir(), "server")
}

// ResolveDataDir returns configured if set, otherwise DataDir().
func ResolveDataDir(configured string) string {
	if configured != "" {
		return configured
	}
	return DataDir()
}

// LockPath returns the lock file inside a server data directory.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "LOCK")
}

// DBPath returns the server database inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "chat.db")
}

// EnsureDir creates dirs with owner-only permissions.
func EnsureDir(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
