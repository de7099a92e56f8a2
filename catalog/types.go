// Package catalog implements the Hatrac metadata directory: the name tree
// (C1), the ACL engine (C2), the transactional directory (C3), the version
// lifecycle (C4), and the upload/chunk engine (C5). It holds no bytes of its
// own; byte storage is delegated to the storage package through the
// Backend interface.
package catalog

import "github.com/informatics-isi-edu/hatrac/authn"

// Subtype discriminates a Name row between namespace and object, matching
// the integer encoding persisted in the schema.
type Subtype int

const (
	SubtypeNamespace Subtype = 0
	SubtypeObject    Subtype = 1
)

// Name is a node in the tree rooted at "/".
type Name struct {
	ID        int64
	ParentID  int64
	Ancestors []int64
	Path      string
	Subtype   Subtype
	IsDeleted bool
	ACLs      ACLSet
}

// Version is an immutable snapshot of an object's bytes. VersionTag is empty
// while the version's creation is in progress; a soft-deleted version keeps
// its tag. A version is visible only when it has a tag and is not deleted.
type Version struct {
	ID         int64
	NameID     int64
	VersionTag string
	NBytes     int64
	Metadata   Metadata
	IsDeleted  bool
	ACLs       ACLSet
}

// Visible reports whether a reader may observe this version.
func (v *Version) Visible() bool {
	return v.VersionTag != "" && !v.IsDeleted
}

// Upload is a resumable multipart upload job targeting an object.
type Upload struct {
	ID           int64
	NameID       int64
	JobToken     string // public, URL-facing job id
	BackendToken string // opaque token the bulk backend uses to identify the job
	NBytes       int64
	ChunkSize    int64
	Metadata     Metadata
	ACLs         ACLSet
}

// NChunks and Remainder implement the chunk-shape arithmetic from the core
// specification: nchunks = nbytes/chunksize, remainder = nbytes % chunksize.
func (u *Upload) NChunks() int64   { return u.NBytes / u.ChunkSize }
func (u *Upload) Remainder() int64 { return u.NBytes % u.ChunkSize }

// Chunk is a per-backend tracking row, present only when the backend
// declares TracksChunks() true.
type Chunk struct {
	UploadID int64
	Position int64
	Aux      []byte
}

// ClientContext is the authenticated-caller identity the ACL engine checks
// access against.
type ClientContext = authn.Context
