package protoserver

import (
	"log/slog"

	"github.com/plcrun/plcrun/internal/plugin"
)

// Plugin adapts a Server to plugin.EntryPoints so the reference protocol
// server can be loaded the same way as any native or wasm plugin, via
// plugin.Host.RegisterBuiltin. It exports no cycle_start/cycle_end hook:
// the protocol server drives its own accept loop on its own goroutines and
// has no per-scan-cycle work to do.
type Plugin struct {
	server *Server
}

// NewPlugin has the plugin.BuiltinFactory shape for host.RegisterBuiltin:
// each call returns a fresh, uninitialised Plugin, since Init resolves the
// server from that instance's RuntimeArgs.
func NewPlugin() plugin.EntryPoints {
	return &Plugin{}
}

// Init loads and validates the plugin's JSON config from args.ConfigPath,
// falling back to DefaultConfig (with a logged warning) on any failure,
// per spec.md §4.5. The resolved Server is built against the host's image
// tables and journal, not a private copy. When server.enabled is false the
// whole plugin is gated off: no Server is built and Start/Stop/Cleanup are
// no-ops, matching the rest of the config's "still a valid, inert instance"
// shape rather than treating the plugin as rejected.
func (p *Plugin) Init(args *plugin.RuntimeArgs) error {
	cfg, err := LoadConfig(args.ConfigPath)
	if err != nil {
		if args.Warn != nil {
			args.Warn("protoserver", "config rejected, starting with defaults", "error", err)
		}
	}

	if !cfg.Server.Enabled {
		if args.Info != nil {
			args.Info("protoserver", "server.enabled is false, plugin will not bind a listener")
		}
		return nil
	}

	log := slog.Default()
	srv, err := New(cfg, args.Tables, args.Journal, log)
	if err != nil {
		return err
	}
	p.server = srv
	return nil
}

func (p *Plugin) Start() error {
	if p.server == nil {
		return nil
	}
	return p.server.Start()
}

func (p *Plugin) Stop() error {
	if p.server == nil {
		return nil
	}
	return p.server.Stop()
}

func (p *Plugin) Cleanup() error {
	if p.server == nil {
		return nil
	}
	return p.server.Cleanup()
}
