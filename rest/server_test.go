package rest

import (
	"testing"

	"github.com/informatics-isi-edu/hatrac/hconfig"
)

func TestFirewallOpForNamePutIsCreate(t *testing.T) {
	op, gated := firewallOpFor(SubNone, "PUT")
	if !gated || op != hconfig.FirewallCreate {
		t.Fatalf("expected (create, true), got (%v, %v)", op, gated)
	}
}

func TestFirewallOpForNameDeleteIsDelete(t *testing.T) {
	op, gated := firewallOpFor(SubNone, "DELETE")
	if !gated || op != hconfig.FirewallDelete {
		t.Fatalf("expected (delete, true), got (%v, %v)", op, gated)
	}
}

func TestFirewallOpForNameGetIsUngated(t *testing.T) {
	if _, gated := firewallOpFor(SubNone, "GET"); gated {
		t.Fatal("a plain GET should never be firewall-gated")
	}
}

func TestFirewallOpForVersionDeleteIsDelete(t *testing.T) {
	op, gated := firewallOpFor(SubVersions, "DELETE")
	if !gated || op != hconfig.FirewallDelete {
		t.Fatalf("expected (delete, true), got (%v, %v)", op, gated)
	}
}

func TestFirewallOpForVersionGetIsUngated(t *testing.T) {
	if _, gated := firewallOpFor(SubVersions, "GET"); gated {
		t.Fatal("listing versions should never be firewall-gated")
	}
}

func TestFirewallOpForACLIsManageACL(t *testing.T) {
	for _, method := range []string{"GET", "PUT", "DELETE"} {
		op, gated := firewallOpFor(SubACL, method)
		if !gated || op != hconfig.FirewallManageACL {
			t.Fatalf("method %s: expected (manage_acl, true), got (%v, %v)", method, op, gated)
		}
	}
}

func TestFirewallOpForMetadataIsManageMetadata(t *testing.T) {
	op, gated := firewallOpFor(SubMetadata, "PUT")
	if !gated || op != hconfig.FirewallManageMetadata {
		t.Fatalf("expected (manage_metadata, true), got (%v, %v)", op, gated)
	}
}

func TestFirewallOpForUploadIsUngated(t *testing.T) {
	if _, gated := firewallOpFor(SubUpload, "POST"); gated {
		t.Fatal("upload sub-resource operations should never be firewall-gated")
	}
}
