// Package perr names the sentinel errors for the taxonomy in spec.md §7,
// so callers across package boundaries can classify a failure with
// errors.Is instead of matching on message text.
package perr

import "errors"

var (
	// ErrConfigurationRejected marks a descriptor or protocol config that
	// failed validation. The caller falls back to defaults where safe, or
	// skips the instance.
	ErrConfigurationRejected = errors.New("perr: configuration rejected")

	// ErrModuleLoadFailed marks a plugin or control-program module that
	// could not be compiled or instantiated. Fatal only for that module.
	ErrModuleLoadFailed = errors.New("perr: module load failed")

	// ErrEntryPointMissing marks a loaded module missing a required entry
	// point export.
	ErrEntryPointMissing = errors.New("perr: required entry point missing")

	// ErrJournalNotInitialised marks a write attempted before Init or
	// after Cleanup.
	ErrJournalNotInitialised = errors.New("perr: journal not initialised")

	// ErrBindFailed marks a protocol-server listener that could not bind
	// its configured address, typically a privileged port without the
	// needed capability.
	ErrBindFailed = errors.New("perr: bind failed")

	// ErrPeerProtocolError marks a malformed or out-of-sequence frame from
	// a remote protocol peer.
	ErrPeerProtocolError = errors.New("perr: peer protocol error")
)
