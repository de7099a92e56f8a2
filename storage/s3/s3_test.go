package s3

import "testing"

func TestNewOrdersBucketsLongestPrefixFirst(t *testing.T) {
	b, err := New(Config{Buckets: []BucketConfig{
		{PathPrefix: "/a", BucketName: "shallow"},
		{PathPrefix: "/a/b/c", BucketName: "deep"},
		{PathPrefix: "/a/b", BucketName: "mid"},
	}}, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(b.buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(b.buckets))
	}
	if b.buckets[0].cfg.BucketName != "deep" || b.buckets[1].cfg.BucketName != "mid" || b.buckets[2].cfg.BucketName != "shallow" {
		t.Fatalf("expected longest-prefix-first ordering, got %v, %v, %v",
			b.buckets[0].cfg.BucketName, b.buckets[1].cfg.BucketName, b.buckets[2].cfg.BucketName)
	}
}

func TestNewDefaultsBucketPathPrefix(t *testing.T) {
	b, err := New(Config{Buckets: []BucketConfig{{PathPrefix: "/a", BucketName: "bucket"}}}, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if b.buckets[0].cfg.BucketPathPrefix != "hatrac" {
		t.Fatalf("expected default bucket_path_prefix \"hatrac\", got %q", b.buckets[0].cfg.BucketPathPrefix)
	}
}

func TestNewRejectsEmptyBucketList(t *testing.T) {
	if _, err := New(Config{}, 4); err == nil {
		t.Fatal("expected an error constructing an s3 backend with no buckets")
	}
}

func TestResolvePicksMostSpecificPrefix(t *testing.T) {
	b, err := New(Config{Buckets: []BucketConfig{
		{PathPrefix: "/a", BucketName: "general"},
		{PathPrefix: "/a/special", BucketName: "special"},
	}}, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	bb, err := b.resolve("/a/special/object")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if bb.cfg.BucketName != "special" {
		t.Fatalf("expected the more specific bucket, got %q", bb.cfg.BucketName)
	}
	bb, err = b.resolve("/a/other/object")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if bb.cfg.BucketName != "general" {
		t.Fatalf("expected the general bucket, got %q", bb.cfg.BucketName)
	}
}

func TestResolveNoMatch(t *testing.T) {
	b, err := New(Config{Buckets: []BucketConfig{{PathPrefix: "/a", BucketName: "bucket"}}}, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := b.resolve("/unrelated/path"); err == nil {
		t.Fatal("expected an error resolving a path with no matching bucket prefix")
	}
}

func TestObjectKeyStripsPathPrefix(t *testing.T) {
	bb := boundBucket{cfg: BucketConfig{PathPrefix: "/a/b", BucketPathPrefix: "hatrac"}}
	if got := bb.objectKey("/a/b/c/d"); got != "hatrac/c/d" {
		t.Fatalf("expected \"hatrac/c/d\", got %q", got)
	}
}

func TestOverThresholdZeroMeansNoRedirect(t *testing.T) {
	b := &Backend{}
	bb := boundBucket{cfg: BucketConfig{PresignedURLThreshold: 0}}
	if b.overThreshold(bb, 1<<40) {
		t.Fatal("a zero threshold should disable presigned redirects entirely")
	}
}

func TestOverThreshold(t *testing.T) {
	b := &Backend{}
	bb := boundBucket{cfg: BucketConfig{PresignedURLThreshold: 100}}
	if b.overThreshold(bb, 50) {
		t.Fatal("50 bytes should not exceed a 100-byte threshold")
	}
	if !b.overThreshold(bb, 150) {
		t.Fatal("150 bytes should exceed a 100-byte threshold")
	}
}
