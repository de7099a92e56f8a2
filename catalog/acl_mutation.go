package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/informatics-isi-edu/hatrac/herr"
)

// mutationTarget names the single row an ACL mutation applies to,
// abstracting over the three tables (name, version, upload) that carry ACL
// columns.
type mutationTarget struct {
	table string
	id    int64
	acls  ACLSet
}

// resolveMutationTargetTx re-resolves the resource identified by kind and
// the path/tag/job triple from scratch inside the caller's transaction, the
// same "re-resolve under transaction" pattern every other mutating
// operation in this package follows.
func (d *Directory) resolveMutationTargetTx(ctx context.Context, tx pgx.Tx, kind ResourceKind, path, tag, job string) (*mutationTarget, error) {
	n, err := d.lookupNameTx(ctx, tx, path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindNamespace:
		if n.Subtype != SubtypeNamespace {
			return nil, herr.BadRequestf("%s is not a namespace", path)
		}
		return &mutationTarget{table: "hatrac.name", id: n.ID, acls: n.ACLs}, nil
	case KindObject:
		if n.Subtype != SubtypeObject {
			return nil, herr.BadRequestf("%s is not an object", path)
		}
		return &mutationTarget{table: "hatrac.name", id: n.ID, acls: n.ACLs}, nil
	case KindVersion:
		v, err := d.lookupVersionTx(ctx, tx, n.ID, tag)
		if err != nil {
			return nil, err
		}
		return &mutationTarget{table: "hatrac.version", id: v.ID, acls: v.ACLs}, nil
	case KindUpload:
		u, err := d.lookupUploadTx(ctx, tx, n.ID, job)
		if err != nil {
			return nil, err
		}
		return &mutationTarget{table: "hatrac.upload", id: u.ID, acls: u.ACLs}, nil
	default:
		return nil, herr.New(herr.Internal, "unknown resource kind")
	}
}

// aclColumnIdent quotes access as a SQL identifier; several access names
// ("create", "subtree-owner", ...) are reserved words or contain a hyphen,
// so every access column is always double-quoted.
func aclColumnIdent(access string) string {
	return `"` + access + `"`
}

// mutateACL is the shared skeleton behind SetRole/DropRole/SetACL: validate
// the access name, resolve the target under transaction, enforce
// owner∨ancestor_owner, then run fn against the live row.
func (d *Directory) mutateACL(ctx context.Context, kind ResourceKind, path, tag, job, access string, caller ClientContext, fn func(context.Context, pgx.Tx, *mutationTarget) error) error {
	if err := ValidateAccessName(kind, access); err != nil {
		return err
	}
	return d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		t, err := d.resolveMutationTargetTx(ctx, tx, kind, path, tag, job)
		if err != nil {
			return err
		}
		if err := t.acls.EnforceAny(OwnerAccessNames(kind), caller); err != nil {
			return err
		}
		return fn(ctx, tx, t)
	})
}

// SetRole grants role on access for the resource named by kind/path[/tag
// or job], requiring owner∨ancestor_owner on the target. Idempotent: a role
// already present is left alone (§4.2 mutation operations).
func (d *Directory) SetRole(ctx context.Context, kind ResourceKind, path, tag, job, access, role string, caller ClientContext) error {
	return d.mutateACL(ctx, kind, path, tag, job, access, caller, func(ctx context.Context, tx pgx.Tx, t *mutationTarget) error {
		col := aclColumnIdent(access)
		sql := fmt.Sprintf(`UPDATE %s SET %s = array_append(%s, $1) WHERE id = $2 AND NOT (%s @> ARRAY[$1]::text[])`, t.table, col, col, col)
		if _, err := tx.Exec(ctx, sql, role, t.id); err != nil {
			return herr.Wrap(herr.Internal, err, "granting %s on %s", role, access)
		}
		return nil
	})
}

// DropRole revokes role from access, failing NotFound if role was not a
// member of the set (§4.2: "drop_role on a role not in the set fails
// NotFound"). Always uses array_remove, never array_append, per Design
// Notes Open Question (a).
func (d *Directory) DropRole(ctx context.Context, kind ResourceKind, path, tag, job, access, role string, caller ClientContext) error {
	return d.mutateACL(ctx, kind, path, tag, job, access, caller, func(ctx context.Context, tx pgx.Tx, t *mutationTarget) error {
		present := false
		for _, r := range t.acls.Roles(access) {
			if r == role {
				present = true
				break
			}
		}
		if !present {
			return herr.NotFoundf("role %q is not present on %s", role, access)
		}
		col := aclColumnIdent(access)
		sql := fmt.Sprintf(`UPDATE %s SET %s = array_remove(%s, $1) WHERE id = $2`, t.table, col, col)
		if _, err := tx.Exec(ctx, sql, role, t.id); err != nil {
			return herr.Wrap(herr.Internal, err, "revoking %s from %s", role, access)
		}
		return nil
	})
}

// SetACL replaces the entire role list for access with roles.
func (d *Directory) SetACL(ctx context.Context, kind ResourceKind, path, tag, job, access string, roles []string, caller ClientContext) error {
	if roles == nil {
		roles = []string{}
	}
	return d.mutateACL(ctx, kind, path, tag, job, access, caller, func(ctx context.Context, tx pgx.Tx, t *mutationTarget) error {
		col := aclColumnIdent(access)
		sql := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2`, t.table, col)
		if _, err := tx.Exec(ctx, sql, roles, t.id); err != nil {
			return herr.Wrap(herr.Internal, err, "setting %s", access)
		}
		return nil
	})
}

// ClearACL resets access to the empty role set, the same as SetACL with an
// empty list but named separately to mirror the HTTP DELETE ;acl/<name>
// entry point.
func (d *Directory) ClearACL(ctx context.Context, kind ResourceKind, path, tag, job, access string, caller ClientContext) error {
	return d.SetACL(ctx, kind, path, tag, job, access, nil, caller)
}

// GetACL returns the role list currently set for access. Viewing an access
// list only requires read access to the resource, not owner, so the check
// uses ReadAccessNames rather than OwnerAccessNames.
func (d *Directory) GetACL(ctx context.Context, kind ResourceKind, path, tag, job, access string, caller ClientContext) ([]string, error) {
	if err := ValidateAccessName(kind, access); err != nil {
		return nil, err
	}
	var roles []string
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		t, err := d.resolveMutationTargetTx(ctx, tx, kind, path, tag, job)
		if err != nil {
			return err
		}
		if err := t.acls.EnforceAny(ReadAccessNames(kind), caller); err != nil {
			return err
		}
		roles = t.acls.Roles(access)
		return nil
	})
	return roles, err
}
