package rest

import "testing"

func TestParsePathBareObject(t *testing.T) {
	p, err := ParsePath("/a/b/c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Path != "/a/b/c" || p.VersionTag != "" || p.Sub != SubNone {
		t.Fatalf("unexpected parse: %+v", p)
	}
}

func TestParsePathVersionTag(t *testing.T) {
	p, err := ParsePath("/a/b:abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Path != "/a/b" || p.VersionTag != "abc123" {
		t.Fatalf("unexpected parse: %+v", p)
	}
}

func TestParsePathVersionTagOnlyAppliesToFinalSegment(t *testing.T) {
	// A colon earlier in the path (not in the last segment) is not a
	// version tag separator and should be rejected as an illegal character.
	if _, err := ParsePath("/a:b/c"); err == nil {
		t.Fatal("expected rejection of a colon in a non-final path segment")
	}
}

func TestParsePathSubResource(t *testing.T) {
	p, err := ParsePath("/a/b;acl/owner/alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Path != "/a/b" || p.Sub != SubACL {
		t.Fatalf("unexpected parse: %+v", p)
	}
	if len(p.SubArgs) != 2 || p.SubArgs[0] != "owner" || p.SubArgs[1] != "alice" {
		t.Fatalf("unexpected sub args: %v", p.SubArgs)
	}
}

func TestParsePathVersionThenSubResource(t *testing.T) {
	p, err := ParsePath("/a/b:tag1;metadata/content-type")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Path != "/a/b" || p.VersionTag != "tag1" || p.Sub != SubMetadata {
		t.Fatalf("unexpected parse: %+v", p)
	}
}

func TestParsePathRejectsRelativePath(t *testing.T) {
	if _, err := ParsePath("a/b"); err == nil {
		t.Fatal("expected rejection of a non-absolute path")
	}
}

func TestParsePathRejectsDotSegments(t *testing.T) {
	for _, bad := range []string{"/a/./b", "/a/../b", "/a//b"} {
		if _, err := ParsePath(bad); err == nil {
			t.Fatalf("expected rejection of %q", bad)
		}
	}
}

func TestParsePathRejectsEmptyVersionTag(t *testing.T) {
	if _, err := ParsePath("/a/b:"); err == nil {
		t.Fatal("expected rejection of an empty version tag")
	}
}

func TestParsePathRejectsUnknownSubResource(t *testing.T) {
	if _, err := ParsePath("/a/b;bogus"); err == nil {
		t.Fatal("expected rejection of an unrecognized sub-resource name")
	}
}

func TestParsePathRoot(t *testing.T) {
	p, err := ParsePath("/")
	if err != nil {
		t.Fatalf("unexpected error on root: %v", err)
	}
	if p.Path != "/" {
		t.Fatalf("unexpected parse: %+v", p)
	}
}
