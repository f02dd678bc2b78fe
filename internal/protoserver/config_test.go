package protoserver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/plcrun/plcrun/internal/perr"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsZeroPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for port 0")
	}
}

func TestValidateRejectsPDUOutsideRange(t *testing.T) {
	for _, pdu := range []int{100, 239, 961, 2000} {
		cfg := DefaultConfig()
		cfg.Server.PDUSize = pdu
		if err := cfg.Validate(); err == nil {
			t.Fatalf("Validate() = nil for pdu_size %d, want error", pdu)
		}
	}
}

func TestValidateRejectsDuplicateDBNumber(t *testing.T) {
	cfg := DefaultConfig()
	db := DataBlockConfig{DBNumber: 1, SizeBytes: 16, Mapping: Mapping{Type: MappingByte}}
	cfg.DataBlocks = []DataBlockConfig{db, db}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for duplicate db_number")
	}
}

func TestValidateRejectsUnknownMappingType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataBlocks = []DataBlockConfig{{DBNumber: 1, SizeBytes: 16, Mapping: Mapping{Type: "nonsense"}}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error for unknown mapping type")
	}
}

func TestLoadConfigMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("LoadConfig() err = nil, want error for missing file")
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Fatalf("cfg = %+v, want defaults on missing file", cfg)
	}
}

func TestLoadConfigRejectsInvalidJSONAndFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() err = nil, want parse error")
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Fatalf("cfg = %+v, want defaults on parse failure", cfg)
	}
}

func TestLoadConfigRejectsInvalidConfigAndFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.json")
	if err := os.WriteFile(path, []byte(`{"server":{"port":0}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() err = nil, want validation error")
	}
	if !errors.Is(err, perr.ErrConfigurationRejected) {
		t.Fatalf("err = %v, want wrapping ErrConfigurationRejected", err)
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Fatalf("cfg = %+v, want defaults on rejected config", cfg)
	}
}

func TestLoadConfigAcceptsValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "good.json")
	body := `{
		"server": {"enabled": true, "bind_address": "127.0.0.1", "port": 5000, "max_clients": 4, "pdu_size": 480},
		"data_blocks": [{"db_number": 1, "size_bytes": 32, "mapping": {"type": "byte", "start_buffer": 0}}]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Fatalf("cfg.Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if len(cfg.DataBlocks) != 1 || cfg.DataBlocks[0].DBNumber != 1 {
		t.Fatalf("cfg.DataBlocks = %+v, want one DB#1 entry", cfg.DataBlocks)
	}
}

func TestBufferTypeForCoversEveryMappingRole(t *testing.T) {
	for _, m := range []MappingType{MappingBool, MappingByte, MappingInt, MappingDint, MappingLint} {
		for _, role := range []string{"input", "output", "memory"} {
			if _, err := bufferTypeFor(m, role); err != nil {
				t.Fatalf("bufferTypeFor(%q, %q) = %v, want a resolved buffer type", m, role, err)
			}
		}
	}
}
