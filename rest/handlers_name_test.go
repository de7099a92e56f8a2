package rest

import "testing"

func TestMatchesETagWildcard(t *testing.T) {
	if !matchesETag("*", `"v1"`) {
		t.Fatal("wildcard should match any ETag")
	}
}

func TestMatchesETagList(t *testing.T) {
	if !matchesETag(`"v1", "v2"`, `"v2"`) {
		t.Fatal("expected a match within a comma-separated ETag list")
	}
	if matchesETag(`"v1", "v2"`, `"v3"`) {
		t.Fatal("expected no match for an ETag absent from the list")
	}
}
