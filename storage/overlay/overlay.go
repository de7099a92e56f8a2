// Package overlay implements storage.Backend as a prioritized proxy over
// other backends, mirroring original_source/hatrac/model/storage/overlay.py.
// Writes go only to the first (primary) backend; reads try each backend in
// order, treating ObjectVersionMissing as "try the next one".
package overlay

import (
	"context"
	"io"

	"github.com/informatics-isi-edu/hatrac/herr"
	"github.com/informatics-isi-edu/hatrac/storage"
)

// Backend proxies a prioritized list of sub-backends. It is intended for
// test environments cloned from a production directory: new writes land on
// a test-local primary backend, while reads of pre-existing versions fall
// through to the shared production backend.
type Backend struct {
	backends []storage.Backend
}

// New returns an overlay over backends, in priority order. backends[0] is
// the sole write target.
func New(backends []storage.Backend) (*Backend, error) {
	if len(backends) == 0 {
		return nil, herr.BadRequestf("overlay backend requires at least one sub-backend")
	}
	return &Backend{backends: backends}, nil
}

func (b *Backend) primary() storage.Backend { return b.backends[0] }

func (b *Backend) TracksChunks() bool { return b.primary().TracksChunks() }

func (b *Backend) CreateFromFile(ctx context.Context, name string, r io.Reader, nbytes int64, metadata map[string][]byte) (string, error) {
	return b.primary().CreateFromFile(ctx, name, r, nbytes, metadata)
}

func (b *Backend) CreateUpload(ctx context.Context, name string, nbytes int64, metadata map[string][]byte) (string, error) {
	return b.primary().CreateUpload(ctx, name, nbytes, metadata)
}

func (b *Backend) UploadChunkFromFile(ctx context.Context, name, jobToken string, position, chunkSize int64, r io.Reader, nbytes int64) ([]byte, error) {
	return b.primary().UploadChunkFromFile(ctx, name, jobToken, position, chunkSize, r, nbytes)
}

func (b *Backend) FinalizeUpload(ctx context.Context, name, jobToken string, chunks []storage.ChunkData, metadata map[string][]byte) (string, error) {
	return b.primary().FinalizeUpload(ctx, name, jobToken, chunks, metadata)
}

func (b *Backend) CancelUpload(ctx context.Context, name, jobToken string) error {
	return b.primary().CancelUpload(ctx, name, jobToken)
}

func (b *Backend) GetContentRange(ctx context.Context, name, versionTag string, metadata map[string][]byte, rng *storage.Range, aux []byte) (*storage.Content, error) {
	for _, backend := range b.backends {
		content, err := backend.GetContentRange(ctx, name, versionTag, metadata, rng, aux)
		if err == nil {
			return content, nil
		}
		if herr.Is(err, herr.ObjectVersionMissing) {
			continue // expected for overlay scenarios; try the next backend
		}
		return nil, err
	}
	return nil, herr.New(herr.ObjectVersionMissing, "could not locate object version %s:%s in any overlay backend", name, versionTag)
}

func (b *Backend) Delete(ctx context.Context, name, versionTag string, aux []byte) error {
	err := b.primary().Delete(ctx, name, versionTag, aux)
	if err != nil && herr.Is(err, herr.ObjectVersionMissing) {
		// Expected when the client deletes a version not present in primary storage.
		return nil
	}
	return err
}

func (b *Backend) DeleteNamespace(ctx context.Context, name string) error {
	return b.primary().DeleteNamespace(ctx, name)
}
