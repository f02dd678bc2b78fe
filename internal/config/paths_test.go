package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirHonoursEnvOverride(t *testing.T) {
	t.Setenv(envHome, "/tmp/plcrun-test-home")
	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if dir != "/tmp/plcrun-test-home" {
		t.Errorf("Dir = %q, want override", dir)
	}
}

func TestDirDefaultsUnderUserHome(t *testing.T) {
	t.Setenv(envHome, "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir in this environment")
	}
	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	want := filepath.Join(home, ".plcrun")
	if dir != want {
		t.Errorf("Dir = %q, want %q", dir, want)
	}
}

func TestWellKnownPathsAreUnderDir(t *testing.T) {
	dir := "/tmp/plcrun-test-home"
	cases := map[string]string{
		EnvFile(dir):            filepath.Join(dir, ".env"),
		DBFile(dir):             filepath.Join(dir, "plcrun.db"),
		CommandSocket(dir):      filepath.Join(dir, "command.sock"),
		LogSocket(dir):          filepath.Join(dir, "log.sock"),
		PluginConfigFile(dir):   filepath.Join(dir, "plugins.conf"),
		RuntimeConfigFile(dir):  filepath.Join(dir, "runtime.yaml"),
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
