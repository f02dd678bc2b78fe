package plugin

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/plcrun/plcrun/internal/perr"
)

// Kind names a plugin's loading mechanism.
type Kind string

const (
	// KindNative plugins are WebAssembly modules loaded and run with
	// wazero — the portable stand-in for a dynamic library (see
	// DESIGN.md for why).
	KindNative Kind = "native"
	// KindScripted plugins use the same wazero loading path as native
	// ones; Path is used as given for both kinds, so the host treats the
	// two identically.
	KindScripted Kind = "scripted"
	// KindBuiltin names an in-process reference plugin registered via
	// RegisterBuiltin, not loaded from a file on disk.
	KindBuiltin Kind = "builtin"
)

// Descriptor is one line of the plugin config file: name, path, enabled,
// kind, config_path, env_path.
type Descriptor struct {
	Name       string
	Path       string
	Enabled    bool
	Kind       Kind
	ConfigPath string
	EnvPath    string
}

// ParseDescriptors reads a line-oriented, comma-separated descriptor file.
// Lines starting with '#' (after trimming leading space) and blank lines
// are skipped.
func ParseDescriptors(r io.Reader) ([]Descriptor, error) {
	var out []Descriptor
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 6 {
			return nil, fmt.Errorf("plugin descriptor line %d: expected 6 fields, got %d: %w", lineNo, len(fields), perr.ErrConfigurationRejected)
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		enabled, err := strconv.ParseBool(fields[2])
		if err != nil {
			return nil, fmt.Errorf("plugin descriptor line %d: invalid enabled flag %q: %w", lineNo, fields[2], err)
		}

		d := Descriptor{
			Name:       fields[0],
			Path:       fields[1],
			Enabled:    enabled,
			Kind:       Kind(fields[3]),
			ConfigPath: fields[4],
			EnvPath:    fields[5],
		}
		switch d.Kind {
		case KindNative, KindScripted, KindBuiltin:
		default:
			return nil, fmt.Errorf("plugin descriptor line %d: unknown kind %q: %w", lineNo, fields[3], perr.ErrConfigurationRejected)
		}
		out = append(out, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadDescriptorFile opens path and parses it as a plugin config file.
func LoadDescriptorFile(path string) ([]Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin config %s: %w", path, err)
	}
	defer f.Close()
	return ParseDescriptors(f)
}
