package catalog

import (
	"testing"

	"github.com/informatics-isi-edu/hatrac/herr"
)

func TestACLSetAddRemove(t *testing.T) {
	a := NewACLSet()
	a.Add("owner", "alice")
	a.Add("owner", "bob")
	roles := a.Roles("owner")
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %v", roles)
	}
	if !a.Remove("owner", "alice") {
		t.Fatal("Remove reported false for a present role")
	}
	if a.Remove("owner", "alice") {
		t.Fatal("Remove reported true for an already-absent role")
	}
	if got := a.Roles("owner"); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected [bob], got %v", got)
	}
}

func TestACLSetRolesUnsetAccess(t *testing.T) {
	a := NewACLSet()
	if roles := a.Roles("owner"); roles != nil {
		t.Fatalf("expected nil for unset access, got %v", roles)
	}
}

func TestEnforceAnyWildcard(t *testing.T) {
	a := NewACLSet()
	a.Add("read", "*")
	if err := a.EnforceAny([]string{"read"}, ClientContext{}); err != nil {
		t.Fatalf("wildcard role should satisfy anonymous caller: %v", err)
	}
}

func TestEnforceAnyAnonymousIsUnauthenticated(t *testing.T) {
	a := NewACLSet()
	a.Add("owner", "alice")
	err := a.EnforceAny([]string{"owner"}, ClientContext{})
	if herr.KindOf(err) != herr.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestEnforceAnyAuthenticatedIsForbidden(t *testing.T) {
	a := NewACLSet()
	a.Add("owner", "alice")
	caller := ClientContext{Authenticated: true, ClientID: "mallory"}
	err := a.EnforceAny([]string{"owner"}, caller)
	if herr.KindOf(err) != herr.Forbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestEnforceAnyMatchesAttribute(t *testing.T) {
	a := NewACLSet()
	a.Add("read", "group:readers")
	caller := ClientContext{Authenticated: true, ClientID: "alice", Attributes: []string{"group:readers"}}
	if err := a.EnforceAny([]string{"read"}, caller); err != nil {
		t.Fatalf("expected attribute match to satisfy read: %v", err)
	}
}

func TestValidateAccessNameRejectsUnknown(t *testing.T) {
	if err := ValidateAccessName(KindNamespace, "bogus"); err == nil {
		t.Fatal("expected an error for an unrecognized access name")
	}
	if err := ValidateAccessName(KindNamespace, "subtree-create"); err != nil {
		t.Fatalf("subtree-create should be valid on a namespace: %v", err)
	}
	if err := ValidateAccessName(KindObject, "subtree-create"); err == nil {
		t.Fatal("subtree-create is not a recognized object access name")
	}
}

func TestOwnerAccessNamesIncludesAncestorOwnerOnly(t *testing.T) {
	names := OwnerAccessNames(KindVersion)
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["owner"] || !found["ancestor_owner"] {
		t.Fatalf("expected owner and ancestor_owner in %v", names)
	}
	if found["ancestor_read"] || found["subtree-read"] {
		t.Fatalf("OwnerAccessNames must not include read-only inherited accesses: %v", names)
	}
}

func TestReadAccessNamesByKind(t *testing.T) {
	for _, kind := range []ResourceKind{KindNamespace, KindObject, KindVersion, KindUpload} {
		names := ReadAccessNames(kind)
		if len(names) == 0 {
			t.Fatalf("ReadAccessNames(%v) returned nothing", kind)
		}
		hasOwner := false
		for _, n := range names {
			if n == "owner" {
				hasOwner = true
			}
		}
		if !hasOwner {
			t.Fatalf("ReadAccessNames(%v) = %v, expected owner to always satisfy read", kind, names)
		}
	}
}
