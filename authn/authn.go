// Package authn supplies the client identity context that the catalog's ACL
// engine enforces against. The core specification treats authentication as
// an external collaborator: this package resolves a Context from a trusted
// upstream proxy's headers rather than performing authentication itself.
package authn

// Context describes the caller of a single request, as consumed by the ACL
// engine's enforce(accesses, ctx) operation.
type Context struct {
	Authenticated bool
	ClientID      string
	Attributes    []string
}

// Anonymous is the context used when no trusted identity headers are present.
var Anonymous = Context{}

// Matches reports whether ctx satisfies membership in roles: the wildcard
// "*", the caller's client id, or any of the caller's attribute ids.
func (ctx Context) Matches(roles map[string]struct{}) bool {
	if _, ok := roles["*"]; ok {
		return true
	}
	if ctx.ClientID != "" {
		if _, ok := roles[ctx.ClientID]; ok {
			return true
		}
	}
	for _, attr := range ctx.Attributes {
		if _, ok := roles[attr]; ok {
			return true
		}
	}
	return false
}

// HeaderSource abstracts the minimal header-reading surface Resolver needs,
// satisfied by *fasthttp.RequestHeader in the rest package without importing
// it here.
type HeaderSource interface {
	Peek(key string) []byte
}

// Resolver builds a Context from an inbound request.
type Resolver interface {
	Resolve(req HeaderSource) Context
}

// HeaderResolver trusts a fronting proxy to set identity headers after it
// has performed real authentication, the same posture the original takes
// toward its separate webauthn2 middleware.
type HeaderResolver struct {
	ClientHeader     string
	AttributesHeader string
	AttributesSep    string
}

// NewHeaderResolver returns a HeaderResolver using the conventional
// Remote-User / Remote-Group header names, splitting the latter on commas.
func NewHeaderResolver() *HeaderResolver {
	return &HeaderResolver{
		ClientHeader:     "Remote-User",
		AttributesHeader: "Remote-Group",
		AttributesSep:    ",",
	}
}

func (r *HeaderResolver) Resolve(req HeaderSource) Context {
	client := string(req.Peek(r.ClientHeader))
	if client == "" {
		return Anonymous
	}
	ctx := Context{Authenticated: true, ClientID: client}
	if raw := string(req.Peek(r.AttributesHeader)); raw != "" {
		for _, a := range splitAndTrim(raw, r.AttributesSep) {
			if a != "" {
				ctx.Attributes = append(ctx.Attributes, a)
			}
		}
	}
	return ctx
}

func splitAndTrim(s, sep string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if string(s[i]) == sep {
			out = append(out, trimSpace(s[start:i]))
			start = i + 1
		}
	}
	out = append(out, trimSpace(s[start:]))
	return out
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}
