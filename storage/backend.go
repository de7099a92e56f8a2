// Package storage defines the bulk-storage abstraction (C6): a uniform
// byte-level interface with filesystem, S3, and overlay implementations.
// The core directory depends on exactly this interface; it never reasons
// about file paths, buckets, or wire protocols directly.
package storage

import (
	"context"
	"io"
)

// Redirect is returned by GetContentRange in place of a body when the
// backend prefers the caller fetch bytes directly from a signed URL (S3
// presigned downloads over a configured size threshold).
type Redirect struct {
	URL string
}

// Range is a half-open byte range [Start, Stop). A nil Range means "whole
// entity".
type Range struct {
	Start int64
	Stop  int64
}

// Content is the result of a read: exactly one of Body or Redirect is set.
type Content struct {
	NBytes   int64
	Metadata map[string][]byte
	Body     io.ReadCloser
	Redirect *Redirect
}

// ChunkData is one ordered, already-uploaded chunk passed to FinalizeUpload
// for backends that track chunks.
type ChunkData struct {
	Position int64
	Aux      []byte
}

// Backend is the uniform interface implemented by the filesystem, S3, and
// overlay bulk-storage backends (core specification §4.6).
type Backend interface {
	// TracksChunks reports whether the backend wants per-chunk Aux blobs
	// persisted by the directory and replayed to FinalizeUpload.
	TracksChunks() bool

	// CreateFromFile streams nbytes from r to a brand-new version of name,
	// returning the backend-issued version tag.
	CreateFromFile(ctx context.Context, name string, r io.Reader, nbytes int64, metadata map[string][]byte) (versionTag string, err error)

	// CreateUpload begins a multipart upload, returning an opaque job token.
	CreateUpload(ctx context.Context, name string, nbytes int64, metadata map[string][]byte) (jobToken string, err error)

	// UploadChunkFromFile streams one chunk, returning an opaque aux blob if
	// TracksChunks is true.
	UploadChunkFromFile(ctx context.Context, name, jobToken string, position, chunkSize int64, r io.Reader, nbytes int64) (aux []byte, err error)

	// FinalizeUpload completes a multipart upload, returning the version tag
	// for the resulting visible version. chunks is nil when TracksChunks is
	// false.
	FinalizeUpload(ctx context.Context, name, jobToken string, chunks []ChunkData, metadata map[string][]byte) (versionTag string, err error)

	// CancelUpload aborts a multipart upload at the backend.
	CancelUpload(ctx context.Context, name, jobToken string) error

	// GetContentRange reads a byte range (or the whole entity if rng is nil)
	// of a specific version. aux carries backend-specific addressing hints;
	// the filesystem and S3 backends ignore it (S3 addresses the object
	// version by versionTag).
	GetContentRange(ctx context.Context, name, versionTag string, metadata map[string][]byte, rng *Range, aux []byte) (*Content, error)

	// Delete removes the bytes of one version.
	Delete(ctx context.Context, name, versionTag string, aux []byte) error

	// DeleteNamespace performs best-effort cleanup of a deleted namespace's
	// on-disk footprint. May be a no-op.
	DeleteNamespace(ctx context.Context, name string) error
}
