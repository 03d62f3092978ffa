package logger

import (
	"encoding/hex"
	"log/slog"
)

// Standard structured-log field keys used across the transfer engine.
// Centralizing the strings here keeps log lines greppable and avoids
// key-name drift between packages.
const (
	// Correlation
	KeyTraceID    = "trace_id"    // caller-supplied trace ID for request correlation
	KeyTransferID = "transfer_id" // UUID of the TransferState driving this log line
	KeyDirection  = "direction"   // "upload" or "download"

	// Object / block identity
	KeyObject     = "object"      // object path being transferred
	KeyContainer  = "container"   // container name
	KeyAccount    = "account"     // account name
	KeyBlockHash  = "block_hash"  // hex digest of a block
	KeyBlockIndex = "block_index" // 0-based block index within the object
	KeyBlockSize  = "block_size"  // container policy block size in bytes

	// Sizes / counts
	KeyBytes       = "bytes" // byte count involved in an operation
	KeyTotalBlocks = "total_blocks"
	KeyMissing     = "missing_blocks"

	// Outcome / timing
	KeyDurationMs = "duration_ms"
	KeyState      = "state" // transfer state-machine state
	KeyError      = "error"

	// Scheduler
	KeyPoolSize = "pool_size"
	KeyInFlight = "in_flight"
)

// TraceID returns a slog.Attr for the trace ID field.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// TransferID returns a slog.Attr for the owning transfer's UUID.
func TransferID(id string) slog.Attr {
	return slog.String(KeyTransferID, id)
}

// Object returns a slog.Attr for the object path.
func Object(name string) slog.Attr {
	return slog.String(KeyObject, name)
}

// Direction returns a slog.Attr for the transfer direction ("upload" or
// "download").
func Direction(dir string) slog.Attr {
	return slog.String(KeyDirection, dir)
}

// Container returns a slog.Attr for the container name.
func Container(name string) slog.Attr {
	return slog.String(KeyContainer, name)
}

// BlockHash formats a block digest for log output.
func BlockHash(digest string) slog.Attr {
	return slog.String(KeyBlockHash, digest)
}

// BlockHashBytes formats raw block hash bytes as hex.
func BlockHashBytes(h []byte) slog.Attr {
	return slog.String(KeyBlockHash, hex.EncodeToString(h))
}

// BlockIndex returns a slog.Attr for a block's position in the object.
func BlockIndex(idx int) slog.Attr {
	return slog.Int(KeyBlockIndex, idx)
}

// Bytes returns a slog.Attr for a byte count.
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// DurationMsAttr returns a slog.Attr for an operation duration in milliseconds.
func DurationMsAttr(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err formats an error for log output. Returns an empty attr for nil,
// which slog drops from the output.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// State returns a slog.Attr for the current transfer state-machine state.
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}
