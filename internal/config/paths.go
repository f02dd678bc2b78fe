// Package config resolves the runtime's persisted-state directory and the
// well-known paths inside it: the .env file, the sqlite diagnostics
// database, and the two UNIX sockets (command and log sink), per
// spec.md §6's "Persisted state layout".
package config

import (
	"os"
	"path/filepath"
)

const envHome = "PLCRUN_HOME"

// Dir resolves the persisted-state directory: PLCRUN_HOME if set, else
// ~/.plcrun.
func Dir() (string, error) {
	if v := os.Getenv(envHome); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".plcrun"), nil
}

// EnsureDir creates the persisted-state directory with group-writable
// permissions, per spec.md §6, if it does not already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o775)
}

// EnvFile returns the path to the runtime .env file.
func EnvFile(dir string) string { return filepath.Join(dir, ".env") }

// DBFile returns the path to the sqlite diagnostics database.
func DBFile(dir string) string { return filepath.Join(dir, "plcrun.db") }

// CommandSocket returns the path to the engine command UNIX socket.
func CommandSocket(dir string) string { return filepath.Join(dir, "command.sock") }

// LogSocket returns the path to the reconnecting log-sink UNIX socket.
func LogSocket(dir string) string { return filepath.Join(dir, "log.sock") }

// PluginConfigFile returns the path to the plugin descriptor file.
func PluginConfigFile(dir string) string { return filepath.Join(dir, "plugins.conf") }

// RuntimeConfigFile returns the path to the YAML scan-timing / runtime
// configuration file.
func RuntimeConfigFile(dir string) string { return filepath.Join(dir, "runtime.yaml") }
