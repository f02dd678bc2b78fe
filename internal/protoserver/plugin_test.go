package protoserver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/plcrun/plcrun/internal/image"
	"github.com/plcrun/plcrun/internal/journal"
	"github.com/plcrun/plcrun/internal/plugin"
)

func writeConfigFile(t *testing.T, cfg Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "protoserver.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestPluginInitSkipsServerWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Enabled = false
	path := writeConfigFile(t, cfg)

	tables := image.New()
	j := journal.New(tables)
	j.Init()

	args := &plugin.RuntimeArgs{
		Tables:     tables,
		Journal:    j,
		ConfigPath: path,
		Lock:       tables.Lock,
		Unlock:     tables.Unlock,
	}

	p := &Plugin{}
	if err := p.Init(args); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.server != nil {
		t.Fatal("server built despite server.enabled = false")
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() on a disabled plugin = %v, want nil", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() on a disabled plugin = %v, want nil", err)
	}
	if err := p.Cleanup(); err != nil {
		t.Fatalf("Cleanup() on a disabled plugin = %v, want nil", err)
	}
}

func TestPluginInitBuildsServerWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Enabled = true
	cfg.SystemAreas.PE.Enabled = false
	cfg.SystemAreas.PA.Enabled = false
	cfg.SystemAreas.MK.Enabled = false
	path := writeConfigFile(t, cfg)

	tables := image.New()
	j := journal.New(tables)
	j.Init()

	args := &plugin.RuntimeArgs{
		Tables:     tables,
		Journal:    j,
		ConfigPath: path,
		Lock:       tables.Lock,
		Unlock:     tables.Unlock,
	}

	p := &Plugin{}
	if err := p.Init(args); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.server == nil {
		t.Fatal("server not built despite server.enabled = true")
	}
}
