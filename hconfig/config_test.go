package hconfig

import (
	"testing"

	"github.com/informatics-isi-edu/hatrac/authn"
	"github.com/informatics-isi-edu/hatrac/herr"
)

func TestValidateRejectsUnknownBackend(t *testing.T) {
	c := &Config{StorageBackend: "tape", PostgresDSN: "postgres://x"}
	if err := c.Validate(); herr.KindOf(err) != herr.BadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestValidateRequiresStoragePathForFilesystem(t *testing.T) {
	c := &Config{StorageBackend: "filesystem", PostgresDSN: "postgres://x"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when storage_path is missing for a filesystem backend")
	}
}

func TestValidateRequiresOverlayBackendsList(t *testing.T) {
	c := &Config{StorageBackend: "overlay", PostgresDSN: "postgres://x", OverlayBackends: []string{"filesystem"}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when overlay_backends names fewer than two backends")
	}
}

func TestValidateRejectsUnknownFirewallKey(t *testing.T) {
	c := &Config{
		StorageBackend: "filesystem",
		StoragePath:    "/tmp/hatrac",
		PostgresDSN:    "postgres://x",
		FirewallACLs:   map[FirewallOp][]string{"bogus_op": {"*"}},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an unrecognized firewall_acls key")
	}
}

func TestValidateAcceptsMinimalFilesystemConfig(t *testing.T) {
	c := &Config{StorageBackend: "filesystem", StoragePath: "/tmp/hatrac", PostgresDSN: "postgres://x"}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAllowsFirewallDefaultsOpenWhenUnset(t *testing.T) {
	c := &Config{FirewallACLs: map[FirewallOp][]string{}}
	if !c.AllowsFirewall(FirewallCreate, authn.Anonymous) {
		t.Fatal("an operation absent from firewall_acls should be unrestricted")
	}
}

func TestAllowsFirewallGatesByRole(t *testing.T) {
	c := &Config{FirewallACLs: map[FirewallOp][]string{FirewallDelete: {"admins"}}}
	anon := authn.Anonymous
	if c.AllowsFirewall(FirewallDelete, anon) {
		t.Fatal("anonymous caller should not satisfy a non-wildcard firewall role")
	}
	member := authn.Context{Authenticated: true, ClientID: "alice", Attributes: []string{"admins"}}
	if !c.AllowsFirewall(FirewallDelete, member) {
		t.Fatal("caller with the required attribute should pass the firewall check")
	}
}

func TestAllowsFirewallWildcard(t *testing.T) {
	c := &Config{FirewallACLs: map[FirewallOp][]string{FirewallManageACL: {"*"}}}
	if !c.AllowsFirewall(FirewallManageACL, authn.Anonymous) {
		t.Fatal("wildcard firewall role should admit any caller")
	}
}
