// Package errs defines the wire-level error kinds the engine can report.
package errs

import "fmt"

// Kind is one of the error kinds enumerated by the reconciliation engine's
// error handling design. Kind values are stable and safe to serialize.
type Kind string

const (
	Cycle               Kind = "cycle"
	UnresolvedInput     Kind = "unresolved_input"
	FingerprintMismatch Kind = "fingerprint_mismatch"
	BuildFailed         Kind = "build_failed"
	BindCreateFailed    Kind = "bind_create_failed"
	BindUpdateFailed    Kind = "bind_update_failed"
	BindDestroyFailed   Kind = "bind_destroy_failed"
	ExecFailed          Kind = "exec_failed"
	ExecTimeout         Kind = "exec_timeout"
	LockContention      Kind = "lock_contention"
	StoreCorruption     Kind = "store_corruption"
	SnapshotNotFound    Kind = "snapshot_not_found"
	CannotDeleteCurrent Kind = "cannot_delete_current"
	GCBusy              Kind = "gc_busy"
	ConfigInvalid       Kind = "config_invalid"
)

// Error carries a Kind alongside the node id and fingerprint prefix of the
// plan step that produced it, so CLI reporting can print "id/fp: message"
// without every caller re-deriving that context.
type Error struct {
	Kind        Kind
	NodeID      string
	Fingerprint string
	Err         error
}

func (e *Error) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s[%s/%s]: %v", e.Kind, e.NodeID, e.Fingerprint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under kind, optionally tagging it with the node/fingerprint
// that was being processed when it occurred.
func New(kind Kind, nodeID, fingerprint string, err error) *Error {
	return &Error{Kind: kind, NodeID: nodeID, Fingerprint: fingerprint, Err: err}
}

// Wrapf builds an Error from a formatted message, mirroring fmt.Errorf's
// %w support for the wrapped cause.
func Wrapf(kind Kind, nodeID, fingerprint, format string, args ...any) *Error {
	return New(kind, nodeID, fingerprint, fmt.Errorf(format, args...))
}

// ExitCode maps a Kind to the CLI exit code it should surface as.
func ExitCode(kind Kind) int {
	switch kind {
	case SnapshotNotFound, CannotDeleteCurrent, ConfigInvalid:
		return 3
	case LockContention, GCBusy:
		return 4
	default:
		return 1
	}
}
