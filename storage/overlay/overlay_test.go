package overlay

import (
	"context"
	"io"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/informatics-isi-edu/hatrac/herr"
	"github.com/informatics-isi-edu/hatrac/storage"
)

// fakeBackend is a minimal in-memory storage.Backend for exercising
// overlay's fallthrough and write-to-primary-only behavior without a real
// filesystem or S3 dependency.
type fakeBackend struct {
	name    string
	content map[string]string // "path:tag" -> body
}

func newFake(name string) *fakeBackend {
	return &fakeBackend{name: name, content: map[string]string{}}
}

func (f *fakeBackend) TracksChunks() bool { return false }

func (f *fakeBackend) CreateFromFile(ctx context.Context, name string, r io.Reader, nbytes int64, metadata map[string][]byte) (string, error) {
	b, _ := ioutil.ReadAll(r)
	tag := f.name + "-tag"
	f.content[name+":"+tag] = string(b)
	return tag, nil
}

func (f *fakeBackend) CreateUpload(ctx context.Context, name string, nbytes int64, metadata map[string][]byte) (string, error) {
	return "job", nil
}

func (f *fakeBackend) UploadChunkFromFile(ctx context.Context, name, jobToken string, position, chunkSize int64, r io.Reader, nbytes int64) ([]byte, error) {
	return nil, nil
}

func (f *fakeBackend) FinalizeUpload(ctx context.Context, name, jobToken string, chunks []storage.ChunkData, metadata map[string][]byte) (string, error) {
	return f.name + "-tag", nil
}

func (f *fakeBackend) CancelUpload(ctx context.Context, name, jobToken string) error { return nil }

func (f *fakeBackend) GetContentRange(ctx context.Context, name, versionTag string, metadata map[string][]byte, rng *storage.Range, aux []byte) (*storage.Content, error) {
	body, ok := f.content[name+":"+versionTag]
	if !ok {
		return nil, herr.New(herr.ObjectVersionMissing, "not found in %s", f.name)
	}
	return &storage.Content{NBytes: int64(len(body)), Body: ioutil.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeBackend) Delete(ctx context.Context, name, versionTag string, aux []byte) error {
	if _, ok := f.content[name+":"+versionTag]; !ok {
		return herr.New(herr.ObjectVersionMissing, "not found in %s", f.name)
	}
	delete(f.content, name+":"+versionTag)
	return nil
}

func (f *fakeBackend) DeleteNamespace(ctx context.Context, name string) error { return nil }

func TestOverlayWritesOnlyToPrimary(t *testing.T) {
	primary, fallback := newFake("primary"), newFake("fallback")
	ov, err := New([]storage.Backend{primary, fallback})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := ov.CreateFromFile(context.Background(), "/a/b", strings.NewReader("hello"), 5, nil); err != nil {
		t.Fatalf("CreateFromFile failed: %v", err)
	}
	if len(primary.content) != 1 {
		t.Fatalf("expected the write to land on the primary backend only, got %v", primary.content)
	}
	if len(fallback.content) != 0 {
		t.Fatalf("fallback backend should not receive writes, got %v", fallback.content)
	}
}

func TestOverlayReadFallsThroughToSecondBackend(t *testing.T) {
	primary, fallback := newFake("primary"), newFake("fallback")
	fallback.content["/a/b:old-tag"] = "legacy bytes"
	ov, err := New([]storage.Backend{primary, fallback})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	content, err := ov.GetContentRange(context.Background(), "/a/b", "old-tag", nil, nil, nil)
	if err != nil {
		t.Fatalf("expected fallthrough read to succeed: %v", err)
	}
	body, _ := ioutil.ReadAll(content.Body)
	if string(body) != "legacy bytes" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestOverlayReadMissingEverywhere(t *testing.T) {
	ov, err := New([]storage.Backend{newFake("primary"), newFake("fallback")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = ov.GetContentRange(context.Background(), "/a/b", "nope", nil, nil, nil)
	if herr.KindOf(err) != herr.ObjectVersionMissing {
		t.Fatalf("expected ObjectVersionMissing, got %v", err)
	}
}

func TestOverlayDeleteTreatsMissingInPrimaryAsSuccess(t *testing.T) {
	primary, fallback := newFake("primary"), newFake("fallback")
	fallback.content["/a/b:tag"] = "x"
	ov, err := New([]storage.Backend{primary, fallback})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ov.Delete(context.Background(), "/a/b", "tag", nil); err != nil {
		t.Fatalf("delete of a version absent from primary should succeed, got: %v", err)
	}
}

func TestNewRejectsEmptyBackendList(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected an error constructing an overlay with no sub-backends")
	}
}
