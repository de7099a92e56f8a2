package filesystem

import (
	"context"
	"crypto/md5"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/informatics-isi-edu/hatrac/herr"
	"github.com/informatics-isi-edu/hatrac/storage"
)

func TestCreateFromFileAndGetContentRange(t *testing.T) {
	b, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	body := "hello, hatrac"
	tag, err := b.CreateFromFile(context.Background(), "/a/b", strings.NewReader(body), int64(len(body)), nil)
	if err != nil {
		t.Fatalf("CreateFromFile failed: %v", err)
	}

	content, err := b.GetContentRange(context.Background(), "/a/b", tag, nil, nil, nil)
	if err != nil {
		t.Fatalf("GetContentRange failed: %v", err)
	}
	defer content.Body.Close()
	got, _ := ioutil.ReadAll(content.Body)
	if string(got) != body {
		t.Fatalf("expected %q, got %q", body, got)
	}
}

func TestCreateFromFileVerifiesContentMD5(t *testing.T) {
	b, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	body := "hello"
	wrongDigest := md5.Sum([]byte("not hello"))
	_, err = b.CreateFromFile(context.Background(), "/a/b", strings.NewReader(body), int64(len(body)),
		map[string][]byte{"content-md5": wrongDigest[:]})
	if herr.KindOf(err) != herr.BadRequest {
		t.Fatalf("expected BadRequest on md5 mismatch, got %v", err)
	}
}

func TestGetContentRangePartial(t *testing.T) {
	b, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	body := "0123456789"
	tag, err := b.CreateFromFile(context.Background(), "/a/b", strings.NewReader(body), int64(len(body)), nil)
	if err != nil {
		t.Fatalf("CreateFromFile failed: %v", err)
	}
	content, err := b.GetContentRange(context.Background(), "/a/b", tag, nil, &storage.Range{Start: 2, Stop: 5}, nil)
	if err != nil {
		t.Fatalf("GetContentRange failed: %v", err)
	}
	defer content.Body.Close()
	got, _ := ioutil.ReadAll(content.Body)
	if string(got) != "234" {
		t.Fatalf("expected \"234\", got %q", got)
	}
}

func TestGetContentRangeMissingVersion(t *testing.T) {
	b, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = b.GetContentRange(context.Background(), "/a/b", "nonexistent", nil, nil, nil)
	if herr.KindOf(err) != herr.ObjectVersionMissing {
		t.Fatalf("expected ObjectVersionMissing, got %v", err)
	}
}

func TestDeleteThenGetContentRangeMissing(t *testing.T) {
	b, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tag, err := b.CreateFromFile(context.Background(), "/a/b", strings.NewReader("x"), 1, nil)
	if err != nil {
		t.Fatalf("CreateFromFile failed: %v", err)
	}
	if err := b.Delete(context.Background(), "/a/b", tag, nil); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := b.GetContentRange(context.Background(), "/a/b", tag, nil, nil, nil); herr.KindOf(err) != herr.ObjectVersionMissing {
		t.Fatalf("expected ObjectVersionMissing after delete, got %v", err)
	}
}

func TestUploadLifecycle(t *testing.T) {
	b, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	job, err := b.CreateUpload(ctx, "/a/upload-target", 10, nil)
	if err != nil {
		t.Fatalf("CreateUpload failed: %v", err)
	}
	if _, err := b.UploadChunkFromFile(ctx, "/a/upload-target", job, 0, 5, strings.NewReader("hello"), 5); err != nil {
		t.Fatalf("chunk 0 failed: %v", err)
	}
	if _, err := b.UploadChunkFromFile(ctx, "/a/upload-target", job, 1, 5, strings.NewReader("world"), 5); err != nil {
		t.Fatalf("chunk 1 failed: %v", err)
	}
	tag, err := b.FinalizeUpload(ctx, "/a/upload-target", job, nil, nil)
	if err != nil {
		t.Fatalf("FinalizeUpload failed: %v", err)
	}
	content, err := b.GetContentRange(ctx, "/a/upload-target", tag, nil, nil, nil)
	if err != nil {
		t.Fatalf("GetContentRange failed: %v", err)
	}
	defer content.Body.Close()
	got, _ := ioutil.ReadAll(content.Body)
	if string(got) != "helloworld" {
		t.Fatalf("expected \"helloworld\", got %q", got)
	}
}

func TestCancelUploadRemovesStagingFile(t *testing.T) {
	b, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	job, err := b.CreateUpload(ctx, "/a/c", 5, nil)
	if err != nil {
		t.Fatalf("CreateUpload failed: %v", err)
	}
	if err := b.CancelUpload(ctx, "/a/c", job); err != nil {
		t.Fatalf("CancelUpload failed: %v", err)
	}
	// Finalizing a cancelled job should now fail since its state is gone.
	if _, err := b.FinalizeUpload(ctx, "/a/c", job, nil, nil); herr.KindOf(err) != herr.NotFound {
		t.Fatalf("expected NotFound finalizing a cancelled job, got %v", err)
	}
}

func TestFsckOrphansReportsUnreferencedFile(t *testing.T) {
	b, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	liveTag, err := b.CreateFromFile(ctx, "/a/live", strings.NewReader("x"), 1, nil)
	if err != nil {
		t.Fatalf("CreateFromFile failed: %v", err)
	}
	orphanTag, err := b.CreateFromFile(ctx, "/a/orphan", strings.NewReader("y"), 1, nil)
	if err != nil {
		t.Fatalf("CreateFromFile failed: %v", err)
	}

	liveTags := map[string]map[string]struct{}{
		"/a/live": {liveTag: {}},
	}
	orphans, err := b.FsckOrphans(liveTags)
	if err != nil {
		t.Fatalf("FsckOrphans failed: %v", err)
	}
	found := false
	for _, o := range orphans {
		if strings.Contains(o, "orphan:"+orphanTag) {
			found = true
		}
		if strings.Contains(o, "live:"+liveTag) {
			t.Fatalf("live version incorrectly reported as orphaned: %s", o)
		}
	}
	if !found {
		t.Fatalf("expected the orphaned version to be reported, got %v", orphans)
	}
}
