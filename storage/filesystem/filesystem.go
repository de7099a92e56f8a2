// Package filesystem implements storage.Backend on local disk, mirroring
// original_source/hatrac/model/storage/filesystem.py: one file per version
// at <root>/<object-path>:<version-tag>, streamed in bufsize-sized chunks.
package filesystem

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/base32"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"

	"github.com/informatics-isi-edu/hatrac/herr"
	"github.com/informatics-isi-edu/hatrac/storage"
)

const bufSize = 1 << 20 // 1 MiB, matching the original's filesystem _bufsize

// Backend stores object bytes under a single filesystem root. It tracks no
// chunks of its own: chunk bytes are written directly into the upload's
// staging file at the right offset, so the directory need not persist chunk
// aux blobs for this backend.
type Backend struct {
	root    string
	limiter *storage.TransferLimiter

	mu      sync.Mutex
	uploads map[string]*uploadState // jobToken -> state
}

type uploadState struct {
	path      string
	nbytes    int64
	chunkSize int64
}

// New returns a filesystem backend rooted at dir, creating dir and its
// .uploads staging directory if they do not exist.
func New(dir string, maxConcurrentTransfers int64) (*Backend, error) {
	if err := os.MkdirAll(filepath.Join(dir, ".uploads"), 0o750); err != nil {
		return nil, herr.Wrap(herr.Internal, err, "preparing storage root %s", dir)
	}
	return &Backend{
		root:    dir,
		limiter: storage.NewTransferLimiter(maxConcurrentTransfers),
		uploads: make(map[string]*uploadState),
	}, nil
}

func (b *Backend) TracksChunks() bool { return false }

// versionPath maps a hatrac path and version tag to the on-disk file
// <root>/<path>:<tag>.
func (b *Backend) versionPath(name, versionTag string) string {
	return filepath.Join(b.root, filepath.FromSlash(strings.TrimPrefix(name, "/"))+":"+versionTag)
}

// newVersionTag mints a fresh opaque version tag: 128 random bits, unpadded
// base32, exactly as the original's create_from_file does.
func newVersionTag() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", herr.Wrap(herr.Internal, err, "generating version tag")
	}
	return strings.TrimRight(base32.StdEncoding.EncodeToString(buf), "="), nil
}

func (b *Backend) CreateFromFile(ctx context.Context, name string, r io.Reader, nbytes int64, metadata map[string][]byte) (string, error) {
	if err := b.limiter.Acquire(ctx); err != nil {
		return "", herr.Wrap(herr.Internal, err, "acquiring transfer slot")
	}
	defer b.limiter.Release()

	tag, err := newVersionTag()
	if err != nil {
		return "", err
	}
	dst := b.versionPath(name, tag)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", herr.Wrap(herr.Internal, err, "creating directory for %s", name)
	}
	hasher := md5.New()
	if err := writeStreamed(dst, io.TeeReader(r, hasher), nbytes); err != nil {
		return "", err
	}
	if err := verifyMD5(hasher.Sum(nil), metadata); err != nil {
		os.Remove(dst)
		return "", err
	}
	return tag, nil
}

func writeStreamed(dst string, r io.Reader, nbytes int64) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return herr.Wrap(herr.Internal, err, "opening %s for write", dst)
	}
	defer f.Close()
	buf := make([]byte, bufSize)
	written, err := io.CopyBuffer(f, r, buf)
	if err != nil {
		return herr.Wrap(herr.Internal, err, "writing %s", dst)
	}
	if nbytes >= 0 && written != nbytes {
		return herr.BadRequestf("expected %d bytes, received %d", nbytes, written)
	}
	return nil
}

func verifyMD5(sum []byte, metadata map[string][]byte) error {
	want, ok := metadata["content-md5"]
	if !ok {
		return nil
	}
	if !bytes.Equal(sum, want) {
		return herr.BadRequestf("content-md5 does not match uploaded bytes")
	}
	return nil
}

func (b *Backend) CreateUpload(ctx context.Context, name string, nbytes int64, metadata map[string][]byte) (string, error) {
	tag, err := newVersionTag()
	if err != nil {
		return "", err
	}
	job := "up-" + tag
	path := filepath.Join(b.root, ".uploads", job)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", herr.Wrap(herr.Internal, err, "staging upload %s", job)
	}
	f.Close()
	b.mu.Lock()
	b.uploads[job] = &uploadState{path: path, nbytes: nbytes}
	b.mu.Unlock()
	return job, nil
}

func (b *Backend) UploadChunkFromFile(ctx context.Context, name, jobToken string, position, chunkSize int64, r io.Reader, nbytes int64) ([]byte, error) {
	b.mu.Lock()
	st, ok := b.uploads[jobToken]
	b.mu.Unlock()
	if !ok {
		return nil, herr.NotFoundf("no such upload job %s", jobToken)
	}
	if err := b.limiter.Acquire(ctx); err != nil {
		return nil, herr.Wrap(herr.Internal, err, "acquiring transfer slot")
	}
	defer b.limiter.Release()

	f, err := os.OpenFile(st.path, os.O_WRONLY, 0o640)
	if err != nil {
		return nil, herr.Wrap(herr.Internal, err, "opening upload %s", jobToken)
	}
	defer f.Close()
	offset := position * chunkSize
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, herr.Wrap(herr.Internal, err, "seeking upload %s", jobToken)
	}
	buf := make([]byte, bufSize)
	written, err := io.CopyBuffer(f, r, buf)
	if err != nil {
		return nil, herr.Wrap(herr.Internal, err, "writing chunk %d of %s", position, jobToken)
	}
	if written != nbytes {
		return nil, herr.BadRequestf("expected chunk of %d bytes, received %d", nbytes, written)
	}
	return nil, nil
}

func (b *Backend) FinalizeUpload(ctx context.Context, name, jobToken string, chunks []storage.ChunkData, metadata map[string][]byte) (string, error) {
	b.mu.Lock()
	st, ok := b.uploads[jobToken]
	b.mu.Unlock()
	if !ok {
		return "", herr.NotFoundf("no such upload job %s", jobToken)
	}

	// Design Note (b): re-hash the bytes actually persisted on disk, never
	// trust in-memory hash state accumulated during chunk upload.
	f, err := os.Open(st.path)
	if err != nil {
		return "", herr.Wrap(herr.Internal, err, "opening upload %s for finalize", jobToken)
	}
	hasher := md5.New()
	if _, err := io.Copy(hasher, f); err != nil {
		f.Close()
		return "", herr.Wrap(herr.Internal, err, "hashing upload %s", jobToken)
	}
	f.Close()
	if err := verifyMD5(hasher.Sum(nil), metadata); err != nil {
		return "", err
	}

	tag, err := newVersionTag()
	if err != nil {
		return "", err
	}
	dst := b.versionPath(name, tag)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", herr.Wrap(herr.Internal, err, "creating directory for %s", name)
	}
	if err := os.Rename(st.path, dst); err != nil {
		return "", herr.Wrap(herr.Internal, err, "finalizing upload %s", jobToken)
	}
	b.mu.Lock()
	delete(b.uploads, jobToken)
	b.mu.Unlock()
	return tag, nil
}

func (b *Backend) CancelUpload(ctx context.Context, name, jobToken string) error {
	b.mu.Lock()
	st, ok := b.uploads[jobToken]
	delete(b.uploads, jobToken)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(st.path); err != nil && !os.IsNotExist(err) {
		return herr.Wrap(herr.Internal, err, "removing cancelled upload %s", jobToken)
	}
	return nil
}

func (b *Backend) GetContentRange(ctx context.Context, name, versionTag string, metadata map[string][]byte, rng *storage.Range, aux []byte) (*storage.Content, error) {
	path := b.versionPath(name, versionTag)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, herr.New(herr.ObjectVersionMissing, "no such object version %s:%s", name, versionTag)
		}
		return nil, herr.Wrap(herr.Internal, err, "opening %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, herr.Wrap(herr.Internal, err, "stat %s", path)
	}
	full := info.Size()

	outMeta := metadata
	start, stop := int64(0), full
	if rng != nil {
		start, stop = rng.Start, rng.Stop
		if stop > full || stop == 0 {
			stop = full
		}
		if start < 0 || start > stop {
			f.Close()
			return nil, herr.New(herr.BadRange, "invalid range [%d,%d) for %d-byte object", start, stop, full)
		}
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, herr.Wrap(herr.Internal, err, "seeking %s", path)
		}
		// Partial reads strip per-entity metadata, keeping only content-type.
		outMeta = map[string][]byte{}
		if ct, ok := metadata["content-type"]; ok {
			outMeta["content-type"] = ct
		}
	}

	return &storage.Content{
		NBytes:   stop - start,
		Metadata: outMeta,
		Body:     &limitedReadCloser{io.LimitReader(f, stop-start), f},
	}, nil
}

type limitedReadCloser struct {
	io.Reader
	f *os.File
}

func (l *limitedReadCloser) Close() error { return l.f.Close() }

func (b *Backend) Delete(ctx context.Context, name, versionTag string, aux []byte) error {
	path := b.versionPath(name, versionTag)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return herr.New(herr.ObjectVersionMissing, "no such object version %s:%s", name, versionTag)
		}
		return herr.Wrap(herr.Internal, err, "deleting %s", path)
	}
	return nil
}

// DeleteNamespace best-effort prunes now-empty directories under the
// deleted namespace, using godirwalk for a bounded-memory recursive walk
// rather than loading the whole subtree into memory (as os.removedirs would
// require repeated stat calls for).
func (b *Backend) DeleteNamespace(ctx context.Context, name string) error {
	dir := filepath.Join(b.root, filepath.FromSlash(strings.TrimPrefix(name, "/")))
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return herr.Wrap(herr.Internal, err, "stat %s", dir)
	}
	if !info.IsDir() {
		return nil
	}
	var empty []string
	err = godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			return nil
		},
		PostChildrenCallback: func(path string, de *godirwalk.Dirent) error {
			entries, err := ioutil.ReadDir(path)
			if err == nil && len(entries) == 0 {
				empty = append(empty, path)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return herr.Wrap(herr.Internal, err, "walking %s", dir)
	}
	for _, p := range empty {
		os.Remove(p) // best-effort; non-empty-by-the-time-we-get-here is fine to skip
	}
	return nil
}

// FsckOrphans reports, for an admin diagnostic pass, version files present
// on disk whose tag doesn't match any in liveTags for that path. It never
// deletes anything.
func (b *Backend) FsckOrphans(liveTags map[string]map[string]struct{}) ([]string, error) {
	var orphans []string
	err := godirwalk.Walk(b.root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(b.root, osPathname)
			if err != nil {
				return nil
			}
			idx := strings.LastIndex(rel, ":")
			if idx < 0 {
				return nil
			}
			name, tag := "/"+filepath.ToSlash(rel[:idx]), rel[idx+1:]
			if tags, ok := liveTags[name]; !ok {
				orphans = append(orphans, osPathname)
			} else if _, ok := tags[tag]; !ok {
				orphans = append(orphans, osPathname)
			}
			return nil
		},
	})
	if err != nil {
		return nil, herr.Wrap(herr.Internal, err, "walking storage root")
	}
	return orphans, nil
}
