// Package kamakierr defines the error taxonomy shared by every component
// of the transfer engine: a fixed set of sentinel errors, one per kind,
// wrapped by TransferError for operational context that survives
// errors.Is/errors.As unwrapping.
package kamakierr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Components never return a bare string error for
// a condition named here; they wrap one of these via New/Wrap so callers
// can branch with errors.Is regardless of which component produced it.
var (
	// ErrNetwork covers transport failures and malformed responses.
	ErrNetwork = errors.New("network error")

	// ErrAuth covers a 401 response from the gateway.
	ErrAuth = errors.New("authentication error")

	// ErrPrecondition covers missing bound account/container or invalid
	// arguments, surfaced before any I/O is attempted.
	ErrPrecondition = errors.New("precondition error")

	// ErrPolicy covers a container policy missing blocksize or blockhash.
	ErrPolicy = errors.New("policy error")

	// ErrBlockCorruption covers a server-reported block hash that does
	// not match the local hash. Fatal; no retry is attempted.
	ErrBlockCorruption = errors.New("block corruption")

	// ErrConsistency covers a failed final hashmap commit (another
	// writer raced the object).
	ErrConsistency = errors.New("consistency error")

	// ErrDivergentLocalFile covers a resumed download whose local file
	// has a block digest absent from the remote hashmap.
	ErrDivergentLocalFile = errors.New("local file diverges from remote object")

	// ErrFormat covers malformed JSON or an unparsable sharing header.
	ErrFormat = errors.New("format error")

	// ErrNotFound covers a 404 where the resource was required to exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers a 409 outside the hashmap-commit missing-blocks
	// protocol (where 409 is the expected, non-error outcome).
	ErrConflict = errors.New("conflict")
)

// TransferError wraps a sentinel error with the operational context
// needed to diagnose which transfer, object, and block were involved.
type TransferError struct {
	// Op names the operation that failed: "hash", "commit", "upload_block",
	// "download_block", "rehash", "gateway", etc.
	Op string

	// Object is the object path the operation concerned, if any.
	Object string

	// BlockIndex is the 0-based block index involved, or -1 if not
	// block-specific.
	BlockIndex int

	// Err is the wrapped sentinel error.
	Err error
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	if e.BlockIndex >= 0 {
		return fmt.Sprintf("%s %q block %d: %s", e.Op, e.Object, e.BlockIndex, e.Err)
	}
	return fmt.Sprintf("%s %q: %s", e.Op, e.Object, e.Err)
}

// Unwrap returns the wrapped sentinel error, enabling errors.Is/errors.As
// to see through the TransferError wrapper.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// New creates a TransferError for an object-level (non-block) failure.
func New(op, object string, err error) *TransferError {
	return &TransferError{Op: op, Object: object, BlockIndex: -1, Err: err}
}

// NewBlock creates a TransferError for a block-level failure.
func NewBlock(op, object string, blockIndex int, err error) *TransferError {
	return &TransferError{Op: op, Object: object, BlockIndex: blockIndex, Err: err}
}
