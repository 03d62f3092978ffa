// Package gateway defines the narrow, typed capability set the transfer
// engine consumes from a Pithos-compatible object store. The HTTP
// implementation lives in subpackage httpgw.
//
// Every call is a single request/response; the gateway never retries on
// its own — retry and cancellation policy belong to the caller.
package gateway

import (
	"context"
	"io"

	"github.com/apyrgio/kamaki/pkg/blockhash"
)

// RestGateway is the capability set Uploader and Downloader depend on.
// Implementations must be safe for concurrent use by the transfer's
// worker pool, except for SetContainer.
type RestGateway interface {
	// ContainerInfo fetches the bound container's block-hashing policy.
	ContainerInfo(ctx context.Context) (blockhash.ContainerPolicy, error)

	// PutHashmap commits obj as a sequence of block hashes. stored is
	// true on 201 (the object is fully materialized server-side from
	// existing blocks); otherwise missing carries the digests the
	// server does not yet have. A non-(stored,missing) outcome is
	// always an error — 409 is not one.
	PutHashmap(ctx context.Context, obj string, hm blockhash.HashMap, size int64, attrs Attrs) (stored bool, missing MissingList, err error)

	// PostBlock uploads one block's bytes and returns the server's
	// computed hash for it.
	PostBlock(ctx context.Context, data []byte) (hash string, err error)

	// GetHashmap fetches obj's RemoteHashmap. ok is false when a
	// conditional request short-circuits (304/412) or the object is
	// absent — callers must treat that as "no remote hashmap", not an
	// error.
	GetHashmap(ctx context.Context, obj string, conds Conds) (hm RemoteHashmap, ok bool, err error)

	// GetRange fetches the inclusive byte range [start, end] of obj.
	GetRange(ctx context.Context, obj string, start, end int64, conds Conds) (io.ReadCloser, error)

	// PutSimple uploads data as obj's entire content in one request.
	PutSimple(ctx context.Context, obj string, data []byte, attrs Attrs) error

	// PostAppend appends data to the tail of obj.
	PostAppend(ctx context.Context, obj string, data []byte, attrs Attrs) error

	// Copy server-side copies src to dst.
	Copy(ctx context.Context, src, dst string, attrs Attrs) error

	// Move server-side moves src to dst.
	Move(ctx context.Context, src, dst string, attrs Attrs) error

	// SetContainer rebinds the gateway to a new account/container. It
	// must never be called while a transfer is in flight against this
	// gateway. Implementations do not check for such misuse themselves;
	// httpgw.Client exposes a Generation counter a caller can compare.
	SetContainer(account, container string)
}

// MissingList is the set of block digests the server still needs after a
// hashmap commit.
type MissingList []string

// RemoteHashmap is the server's view of an object's content-addressed
// layout, as returned by GetHashmap.
type RemoteHashmap struct {
	BlockSize int64
	BlockHash string
	Bytes     int64
	Hashes    []string
}

// Sharing lists the accounts an object is shared with, split by
// permission.
type Sharing struct {
	Read  []string
	Write []string
}

// Attrs is the flat set of per-call options every write/copy/move
// operation accepts. Unrecognized zero-valued fields are ignored by the
// gateway — there is no separate "was this set" bit per field, matching
// the source protocol's own treatment of optional headers.
type Attrs struct {
	ETag               string
	ContentType        string
	ContentEncoding    string
	ContentDisposition string
	Sharing            Sharing
	Public             bool
	Version            string
	IfMatch            string
	IfNoneMatch        string
	IfModifiedSince    string
	IfUnmodifiedSince  string
	SourceVersion      string
	Delimiter          string
	Manifest           string

	// ContentRange is set by the Uploader's overwrite variant to carry
	// the "bytes start-end/*" header spec §4.5 requires per chunk. Not
	// part of the distilled spec's attrs enumeration, added because the
	// overwrite path cannot be expressed without it.
	ContentRange string
}

// Conds is the subset of Attrs that applies to read (conditional GET)
// operations.
type Conds struct {
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   string
	IfUnmodifiedSince string
}

// ObjectMeta is the user-defined metadata and policy headers attached to
// an object, container, or account — a Go equivalent of the Python
// client's object_info/container_info helpers, kept separate from
// ContainerPolicy because it is per-resource, not per-transfer.
type ObjectMeta struct {
	Meta             map[string]string
	Sharing          Sharing
	Public           bool
	PolicyQuota      int64
	PolicyVersioning string
}
