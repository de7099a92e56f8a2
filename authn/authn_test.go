package authn

import "testing"

type fakeHeaders map[string]string

func (f fakeHeaders) Peek(key string) []byte { return []byte(f[key]) }

func TestHeaderResolverAnonymousWithoutClientHeader(t *testing.T) {
	r := NewHeaderResolver()
	ctx := r.Resolve(fakeHeaders{})
	if ctx.Authenticated {
		t.Fatal("expected an anonymous context when Remote-User is absent")
	}
}

func TestHeaderResolverParsesClientAndAttributes(t *testing.T) {
	r := NewHeaderResolver()
	ctx := r.Resolve(fakeHeaders{"Remote-User": "alice", "Remote-Group": "admins, readers"})
	if !ctx.Authenticated || ctx.ClientID != "alice" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
	if len(ctx.Attributes) != 2 || ctx.Attributes[0] != "admins" || ctx.Attributes[1] != "readers" {
		t.Fatalf("expected trimmed, split attributes, got %v", ctx.Attributes)
	}
}

func TestContextMatchesWildcard(t *testing.T) {
	ctx := Anonymous
	if !ctx.Matches(map[string]struct{}{"*": {}}) {
		t.Fatal("wildcard role should match any context, including anonymous")
	}
}

func TestContextMatchesClientID(t *testing.T) {
	ctx := Context{Authenticated: true, ClientID: "alice"}
	if !ctx.Matches(map[string]struct{}{"alice": {}}) {
		t.Fatal("expected a match on client id")
	}
	if ctx.Matches(map[string]struct{}{"bob": {}}) {
		t.Fatal("expected no match for an unrelated client id")
	}
}

func TestContextMatchesAttribute(t *testing.T) {
	ctx := Context{Authenticated: true, ClientID: "alice", Attributes: []string{"group:readers"}}
	if !ctx.Matches(map[string]struct{}{"group:readers": {}}) {
		t.Fatal("expected a match via a caller attribute")
	}
}
