package catalog

import "github.com/informatics-isi-edu/hatrac/herr"

// ACLSet maps an access name to the set of role strings granting it. Direct
// access names (e.g. "owner", "subtree-read") and their inherited
// counterparts (e.g. "ancestor_owner") are loaded together by the directory,
// so a single ACLSet always reflects both direct and rolled-up access for
// the resource it was loaded for.
type ACLSet map[string]map[string]struct{}

// NewACLSet returns an empty, ready-to-populate ACLSet.
func NewACLSet() ACLSet { return make(ACLSet) }

// Add grants role on access.
func (a ACLSet) Add(access, role string) {
	if a[access] == nil {
		a[access] = make(map[string]struct{})
	}
	a[access][role] = struct{}{}
}

// Remove revokes role from access. Returns false if role was not present.
func (a ACLSet) Remove(access, role string) bool {
	roles, ok := a[access]
	if !ok {
		return false
	}
	if _, ok := roles[role]; !ok {
		return false
	}
	delete(roles, role)
	return true
}

// Roles returns the role list for a single access name, nil if unset.
func (a ACLSet) Roles(access string) []string {
	roles, ok := a[access]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(roles))
	for r := range roles {
		out = append(out, r)
	}
	return out
}

// namespaceDirectAccess, objectDirectAccess, versionDirectAccess, and
// uploadDirectAccess are the recognized direct access names per subtype,
// from the core specification's §4.2 table.
var (
	namespaceDirectAccess = map[string]struct{}{
		"owner": {}, "create": {}, "subtree-owner": {}, "subtree-create": {},
		"subtree-read": {}, "subtree-update": {},
	}
	objectDirectAccess = map[string]struct{}{
		"owner": {}, "update": {}, "read": {}, "subtree-owner": {}, "subtree-read": {},
	}
	versionDirectAccess = map[string]struct{}{
		"owner": {}, "read": {},
	}
	uploadDirectAccess = map[string]struct{}{
		"owner": {},
	}
)

// namespaceAncestorAccess etc. name the inherited pseudo-accesses computed
// by the directory's ancestor rollup query for each resource kind.
var (
	namespaceAncestorAccess = []string{"ancestor_owner", "ancestor_create"}
	objectAncestorAccess    = []string{"ancestor_owner", "ancestor_update"}
	versionAncestorAccess   = []string{"ancestor_owner", "ancestor_read", "subtree-owner", "subtree-read"}
	uploadAncestorAccess    = []string{"ancestor_owner"}
)

// ResourceKind names the four resource kinds with distinct ACL shapes.
type ResourceKind int

const (
	KindNamespace ResourceKind = iota
	KindObject
	KindVersion
	KindUpload
)

// DirectAccessNames returns the set of direct access names recognized for
// kind. Any access name outside this set is a BadRequest.
func DirectAccessNames(kind ResourceKind) map[string]struct{} {
	switch kind {
	case KindNamespace:
		return namespaceDirectAccess
	case KindObject:
		return objectDirectAccess
	case KindVersion:
		return versionDirectAccess
	default:
		return uploadDirectAccess
	}
}

func ancestorAccessNames(kind ResourceKind) []string {
	switch kind {
	case KindNamespace:
		return namespaceAncestorAccess
	case KindObject:
		return objectAncestorAccess
	case KindVersion:
		return versionAncestorAccess
	default:
		return uploadAncestorAccess
	}
}

// ValidateAccessName rejects an access name not recognized for kind.
func ValidateAccessName(kind ResourceKind, access string) error {
	if _, ok := DirectAccessNames(kind)[access]; !ok {
		return herr.BadRequestf("unrecognized access name %q for this resource type", access)
	}
	return nil
}

// EnforceAny checks ctx against the union of role sets named by
// accessNames (direct and/or inherited, mixed freely), accepting if "*" is
// present, ctx's client id is present, or any of ctx's attributes are
// present. It fails Forbidden if ctx is authenticated, else Unauthenticated.
func (a ACLSet) EnforceAny(accessNames []string, ctx ClientContext) error {
	union := make(map[string]struct{})
	for _, access := range accessNames {
		for role := range a[access] {
			union[role] = struct{}{}
		}
	}
	if ctx.Matches(union) {
		return nil
	}
	if ctx.Authenticated {
		return herr.Forbiddenf("caller does not hold any of %v", accessNames)
	}
	return herr.Unauthenticatedf("anonymous caller does not hold any of %v", accessNames)
}

// OwnerAccessNames returns the direct+inherited access names that satisfy
// "owner∨ancestor_owner", the check used by delete, ACL mutation, and
// metadata mutation throughout the directory.
func OwnerAccessNames(kind ResourceKind) []string {
	return append([]string{"owner"}, filterAncestorOwner(ancestorAccessNames(kind))...)
}

func filterAncestorOwner(names []string) []string {
	out := make([]string, 0, 1)
	for _, n := range names {
		if n == "ancestor_owner" {
			out = append(out, n)
		}
	}
	return out
}

// CreateAccessNames returns "owner∨create∨ancestor_owner∨ancestor_create",
// the check used when creating a child name under a namespace.
func CreateAccessNames() []string {
	return []string{"owner", "create", "ancestor_owner", "ancestor_create"}
}

// ObjectUpdateAccessNames returns "owner∨update∨ancestor_*", the check used
// when overwriting an existing object's bytes, either via a direct PUT or
// by opening an upload job against it.
func ObjectUpdateAccessNames() []string {
	return []string{"owner", "update", "ancestor_owner", "ancestor_update"}
}

// ReadAccessNames returns the access names that satisfy a read of the given
// resource kind.
func ReadAccessNames(kind ResourceKind) []string {
	switch kind {
	case KindVersion:
		return []string{"owner", "read", "ancestor_owner", "ancestor_read", "subtree-owner", "subtree-read"}
	case KindObject:
		return []string{"owner", "read", "subtree-owner", "subtree-read", "ancestor_owner"}
	case KindNamespace:
		return []string{"owner", "subtree-owner", "subtree-read", "ancestor_owner"}
	default:
		return []string{"owner", "ancestor_owner"}
	}
}
