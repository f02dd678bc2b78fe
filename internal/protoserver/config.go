// Package protoserver implements the reference protocol-server plugin:
// a TCP server speaking a small S7comm-shaped binary protocol that
// exposes named data areas (process inputs, process outputs, markers,
// and numbered data blocks) to remote clients, backed by the image
// tables and journal (spec.md §4.5).
package protoserver

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/plcrun/plcrun/internal/image"
	"github.com/plcrun/plcrun/internal/perr"
)

// MappingType names which image-table family a data area's bytes are
// bound to.
type MappingType string

const (
	MappingBool MappingType = "bool"
	MappingByte MappingType = "byte"
	MappingInt  MappingType = "int"
	MappingDint MappingType = "dint"
	MappingLint MappingType = "lint"
)

// Mapping binds a data area's byte range to an image-table family
// starting at a given element index.
type Mapping struct {
	Type         MappingType `json:"type"`
	StartBuffer  int         `json:"start_buffer"`
	BitAddressing bool       `json:"bit_addressing"`
}

// DataBlockConfig is one entry of data_blocks[]: a numbered DB area.
type DataBlockConfig struct {
	DBNumber  int     `json:"db_number"`
	SizeBytes int     `json:"size_bytes"`
	Mapping   Mapping `json:"mapping"`
}

// SystemAreaConfig is one of system_areas.{pe,pa,mk}.
type SystemAreaConfig struct {
	Enabled   bool    `json:"enabled"`
	SizeBytes int     `json:"size_bytes"`
	Mapping   Mapping `json:"mapping"`
}

type serverConfig struct {
	Enabled       bool   `json:"enabled"`
	BindAddress   string `json:"bind_address"`
	Port          int    `json:"port"`
	MaxClients    int    `json:"max_clients"`
	SendTimeoutMs int    `json:"send_timeout_ms"`
	RecvTimeoutMs int    `json:"recv_timeout_ms"`
	PingTimeoutMs int    `json:"ping_timeout_ms"`
	PDUSize       int    `json:"pdu_size"`
}

type identityConfig struct {
	VendorName   string `json:"vendor_name"`
	ModuleName   string `json:"module_name"`
	SerialNumber string `json:"serial_number"`
}

type systemAreasConfig struct {
	PE SystemAreaConfig `json:"pe"`
	PA SystemAreaConfig `json:"pa"`
	MK SystemAreaConfig `json:"mk"`
}

type loggingConfig struct {
	LogConnections bool `json:"log_connections"`
	LogDataAccess  bool `json:"log_data_access"`
	LogErrors      bool `json:"log_errors"`
}

// Config is the per-plugin JSON configuration described in spec.md §4.5.
type Config struct {
	Server      serverConfig      `json:"server"`
	Identity    identityConfig    `json:"identity"`
	DataBlocks  []DataBlockConfig `json:"data_blocks"`
	SystemAreas systemAreasConfig `json:"system_areas"`
	Logging     loggingConfig     `json:"logging"`
}

// DefaultConfig returns the configuration used when validation rejects
// the file on disk, per spec.md §4.5's "defaults are used and a warning
// is logged; the plugin still starts".
func DefaultConfig() Config {
	return Config{
		Server: serverConfig{
			Enabled:       true,
			BindAddress:   "0.0.0.0",
			Port:          2404,
			MaxClients:    8,
			SendTimeoutMs: 2000,
			RecvTimeoutMs: 2000,
			PingTimeoutMs: 5000,
			PDUSize:       480,
		},
		SystemAreas: systemAreasConfig{
			PE: SystemAreaConfig{Enabled: true, SizeBytes: 128, Mapping: Mapping{Type: MappingByte, StartBuffer: 0}},
			PA: SystemAreaConfig{Enabled: true, SizeBytes: 128, Mapping: Mapping{Type: MappingByte, StartBuffer: 0}},
			MK: SystemAreaConfig{Enabled: true, SizeBytes: 128, Mapping: Mapping{Type: MappingByte, StartBuffer: 0}},
		},
	}
}

// LoadConfig reads and validates path. On validation failure it returns
// DefaultConfig() plus an error describing why — callers are expected to
// log the error and proceed with the defaults rather than fail startup.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("read protocol server config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse protocol server config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Validate checks the rejection rules spec.md §4.5 names: port == 0, PDU
// outside 240..960, max_clients outside 1..1024, duplicate db_number,
// unknown mapping.type, negative start_buffer.
func (c Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port must be nonzero: %w", perr.ErrConfigurationRejected)
	}
	if c.Server.PDUSize < 240 || c.Server.PDUSize > 960 {
		return fmt.Errorf("server.pdu_size %d outside 240..960: %w", c.Server.PDUSize, perr.ErrConfigurationRejected)
	}
	if c.Server.MaxClients < 1 || c.Server.MaxClients > 1024 {
		return fmt.Errorf("server.max_clients %d outside 1..1024: %w", c.Server.MaxClients, perr.ErrConfigurationRejected)
	}

	seen := make(map[int]bool, len(c.DataBlocks))
	for _, db := range c.DataBlocks {
		if seen[db.DBNumber] {
			return fmt.Errorf("duplicate data_blocks db_number %d: %w", db.DBNumber, perr.ErrConfigurationRejected)
		}
		seen[db.DBNumber] = true
		if err := validateMapping(db.Mapping); err != nil {
			return err
		}
	}

	for _, sa := range []SystemAreaConfig{c.SystemAreas.PE, c.SystemAreas.PA, c.SystemAreas.MK} {
		if !sa.Enabled {
			continue
		}
		if err := validateMapping(sa.Mapping); err != nil {
			return err
		}
	}

	return nil
}

func validateMapping(m Mapping) error {
	switch m.Type {
	case MappingBool, MappingByte, MappingInt, MappingDint, MappingLint:
	default:
		return fmt.Errorf("unknown mapping.type %q: %w", m.Type, perr.ErrConfigurationRejected)
	}
	if m.StartBuffer < 0 {
		return fmt.Errorf("mapping.start_buffer %d must be non-negative: %w", m.StartBuffer, perr.ErrConfigurationRejected)
	}
	return nil
}

// bufferTypeFor resolves a mapping to the image.BufferType for a given
// logical role (input/output/memory), since the JSON config only names
// the element width, not the family — area.go pins the role per area
// kind (process inputs bind to *_input, process outputs to *_output,
// markers and DBs to *_memory).
func bufferTypeFor(m MappingType, role string) (image.BufferType, error) {
	switch {
	case m == MappingBool && role == "input":
		return image.BoolInput, nil
	case m == MappingBool && role == "output":
		return image.BoolOutput, nil
	case m == MappingBool && role == "memory":
		return image.BoolMemory, nil
	case m == MappingByte && role == "input":
		return image.ByteInput, nil
	case m == MappingByte && role == "output":
		return image.ByteOutput, nil
	case m == MappingByte && role == "memory":
		// Byte family has no dedicated memory slot; markers and DBs on a
		// byte mapping use the output family as shared scratch storage
		// per this plugin's area model.
		return image.ByteOutput, nil
	case m == MappingInt && role == "input":
		return image.IntInput, nil
	case m == MappingInt && role == "output":
		return image.IntOutput, nil
	case m == MappingInt && role == "memory":
		return image.IntMemory, nil
	case m == MappingDint && role == "input":
		return image.DintInput, nil
	case m == MappingDint && role == "output":
		return image.DintOutput, nil
	case m == MappingDint && role == "memory":
		return image.DintMemory, nil
	case m == MappingLint && role == "input":
		return image.LintInput, nil
	case m == MappingLint && role == "output":
		return image.LintOutput, nil
	case m == MappingLint && role == "memory":
		return image.LintMemory, nil
	}
	return 0, fmt.Errorf("no buffer type for mapping %q role %q", m, role)
}
