package catalog

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v4"

	"github.com/informatics-isi-edu/hatrac/herr"
)

const nameColumns = `n.id, n.pid, n.ancestors, n.name, n.subtype, n.is_deleted,
	n.owner, n."create", n.update, n.read,
	n."subtree-owner", n."subtree-create", n."subtree-read", n."subtree-update",
	` + "ancestor_owner_sql" + `, ` + "ancestor_create_sql" + `, ` + "ancestor_update_sql"

// nameSelectSQL is built once with the ancestor rollup subqueries spliced in
// (Go string concatenation avoids a template dependency for something this
// small and fixed).
var nameSelectSQL = strings.NewReplacer(
	"ancestor_owner_sql", ancestorACLColumn("owner")+" AS ancestor_owner",
	"ancestor_create_sql", ancestorACLColumn("create")+" AS ancestor_create",
	"ancestor_update_sql", ancestorACLColumn("update")+" AS ancestor_update",
).Replace(`SELECT ` + nameColumns + ` FROM hatrac.name n WHERE `)

func scanName(row pgx.Row) (*Name, error) {
	var (
		n                                                    Name
		owner, create, update, read                          []string
		subOwner, subCreate, subRead, subUpdate               []string
		ancestorOwner, ancestorCreate, ancestorUpdate         []string
	)
	if err := row.Scan(&n.ID, &n.ParentID, &n.Ancestors, &n.Path, &n.Subtype, &n.IsDeleted,
		&owner, &create, &update, &read,
		&subOwner, &subCreate, &subRead, &subUpdate,
		&ancestorOwner, &ancestorCreate, &ancestorUpdate); err != nil {
		if err == pgx.ErrNoRows {
			return nil, herr.NotFoundf("no such name")
		}
		return nil, herr.Wrap(herr.Internal, err, "scanning name row")
	}
	n.ACLs = NewACLSet()
	for role := range rolesToSet(owner) {
		n.ACLs.Add("owner", role)
	}
	for role := range rolesToSet(create) {
		n.ACLs.Add("create", role)
	}
	for role := range rolesToSet(update) {
		n.ACLs.Add("update", role)
	}
	for role := range rolesToSet(read) {
		n.ACLs.Add("read", role)
	}
	for role := range rolesToSet(subOwner) {
		n.ACLs.Add("subtree-owner", role)
	}
	for role := range rolesToSet(subCreate) {
		n.ACLs.Add("subtree-create", role)
	}
	for role := range rolesToSet(subRead) {
		n.ACLs.Add("subtree-read", role)
	}
	for role := range rolesToSet(subUpdate) {
		n.ACLs.Add("subtree-update", role)
	}
	for role := range rolesToSet(ancestorOwner) {
		n.ACLs.Add("ancestor_owner", role)
	}
	for role := range rolesToSet(ancestorCreate) {
		n.ACLs.Add("ancestor_create", role)
	}
	for role := range rolesToSet(ancestorUpdate) {
		n.ACLs.Add("ancestor_update", role)
	}
	return &n, nil
}

func (d *Directory) lookupNameTx(ctx context.Context, tx pgx.Tx, path string) (*Name, error) {
	row := tx.QueryRow(ctx, nameSelectSQL+`n.name = $1 AND NOT n.is_deleted`, path)
	return scanName(row)
}

func (d *Directory) lookupNameByIDTx(ctx context.Context, tx pgx.Tx, id int64) (*Name, error) {
	row := tx.QueryRow(ctx, nameSelectSQL+`n.id = $1 AND NOT n.is_deleted`, id)
	return scanName(row)
}

// Resolve looks up a live name by its canonical path, outside any
// caller-visible transaction (read-your-own-writes is not guaranteed beyond
// what a single implicit transaction provides).
func (d *Directory) Resolve(ctx context.Context, path string) (*Name, error) {
	var n *Name
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		n, err = d.lookupNameTx(ctx, tx, path)
		return err
	})
	return n, err
}

func splitParentPath(path string) (parent, leaf string, ok bool) {
	if path == "/" {
		return "", "", false
	}
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", "", false
	}
	leaf = trimmed[idx+1:]
	if leaf == "" || leaf == "." || leaf == ".." {
		return "", "", false
	}
	parent = trimmed[:idx]
	if parent == "" {
		parent = "/"
	}
	return parent, leaf, true
}

// CreateName creates a namespace or object at path. If makeParents is true
// and ancestor namespaces are missing, they are created recursively inside
// the same transaction. Returns Conflict if the name is already live or
// exists as a soft-deleted tombstone.
func (d *Directory) CreateName(ctx context.Context, path string, subtype Subtype, makeParents bool, ctx2 ClientContext) (*Name, error) {
	var created *Name
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.createNameTx(ctx, tx, path, subtype, makeParents, ctx2)
		if err != nil {
			return err
		}
		created = n
		return nil
	})
	return created, err
}

func (d *Directory) createNameTx(ctx context.Context, tx pgx.Tx, path string, subtype Subtype, makeParents bool, caller ClientContext) (*Name, error) {
	parentPath, leaf, ok := splitParentPath(path)
	if !ok {
		return nil, herr.BadRequestf("illegal name %q", path)
	}

	parent, err := d.lookupNameTx(ctx, tx, parentPath)
	if err != nil {
		if !herr.Is(err, herr.NotFound) || !makeParents {
			if herr.Is(err, herr.NotFound) {
				return nil, herr.Conflictf("parent namespace %s does not exist", parentPath)
			}
			return nil, err
		}
		parent, err = d.createNameTx(ctx, tx, parentPath, SubtypeNamespace, true, caller)
		if err != nil {
			return nil, err
		}
	}
	if parent.Subtype != SubtypeNamespace {
		return nil, herr.Conflictf("parent %s is not a namespace", parentPath)
	}
	if err := parent.ACLs.EnforceAny(CreateAccessNames(), caller); err != nil {
		return nil, err
	}

	var existsDeleted bool
	err = tx.QueryRow(ctx, `SELECT is_deleted FROM hatrac.name WHERE name = $1`, path).Scan(&existsDeleted)
	if err == nil {
		if existsDeleted {
			return nil, herr.Conflictf("name %s previously existed and is not available", path)
		}
		return nil, herr.Conflictf("name %s already exists", path)
	} else if err != pgx.ErrNoRows {
		return nil, herr.Wrap(herr.Internal, err, "checking for existing name")
	}

	ancestors := append(append([]int64{}, parent.Ancestors...), parent.ID)
	owner := []string{}
	if caller.ClientID != "" {
		owner = []string{caller.ClientID}
	}
	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO hatrac.name (pid, ancestors, name, subtype, owner) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		parent.ID, ancestors, path, int(subtype), owner).Scan(&id)
	if err != nil {
		return nil, herr.Wrap(herr.Internal, err, "inserting name %s", path)
	}
	return d.lookupNameByIDTx(ctx, tx, id)
}

// DeleteName soft-deletes path and its entire live subtree (child names,
// versions, uploads) in one transaction, enforcing owner∨ancestor_owner on
// the target and on every descendant name; the versions and uploads under
// those names are not checked individually. Returns a post-commit cleanup
// closure that instructs the
// bulk backend to abort lingering uploads, delete version bytes, and tidy
// empty directories — this work must happen only after the transaction
// actually commits, since an aborted transaction must leave storage intact.
func (d *Directory) DeleteName(ctx context.Context, path string, caller ClientContext) (cleanup func(context.Context) error, err error) {
	if path == "/" {
		return nil, herr.Forbiddenf("the root namespace may not be deleted")
	}
	type descendantVersion struct {
		name, tag string
		aux       []byte
	}
	type descendantUpload struct {
		name, job string
	}
	var versions []descendantVersion
	var uploads []descendantUpload
	var namespaceNames []string

	err = d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		target, err := d.lookupNameTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if err := target.ACLs.EnforceAny(OwnerAccessNames(kindOf(target.Subtype)), caller); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, nameSelectSQL+`(n.id = $1 OR $1 = ANY(n.ancestors)) AND NOT n.is_deleted`, target.ID)
		if err != nil {
			return herr.Wrap(herr.Internal, err, "enumerating subtree of %s", path)
		}
		var descendants []*Name
		for rows.Next() {
			nm, err := scanName(rows)
			if err != nil {
				rows.Close()
				return err
			}
			descendants = append(descendants, nm)
		}
		rows.Close()

		for _, nm := range descendants {
			if err := nm.ACLs.EnforceAny(OwnerAccessNames(kindOf(nm.Subtype)), caller); err != nil {
				return herr.Forbiddenf("cannot delete %s: descendant %s denies owner access", path, nm.Path)
			}
		}

		for _, nm := range descendants {
			vrows, err := tx.Query(ctx, `SELECT version, nbytes FROM hatrac.version WHERE nameid = $1 AND NOT is_deleted`, nm.ID)
			if err != nil {
				return herr.Wrap(herr.Internal, err, "listing versions of %s", nm.Path)
			}
			for vrows.Next() {
				var tag *string
				var nbytes int64
				if err := vrows.Scan(&tag, &nbytes); err != nil {
					vrows.Close()
					return herr.Wrap(herr.Internal, err, "scanning version row")
				}
				if tag != nil {
					versions = append(versions, descendantVersion{name: nm.Path, tag: *tag})
				}
			}
			vrows.Close()

			urows, err := tx.Query(ctx, `SELECT backend_token FROM hatrac.upload WHERE nameid = $1`, nm.ID)
			if err != nil {
				return herr.Wrap(herr.Internal, err, "listing uploads of %s", nm.Path)
			}
			for urows.Next() {
				var job string
				if err := urows.Scan(&job); err != nil {
					urows.Close()
					return herr.Wrap(herr.Internal, err, "scanning upload row")
				}
				uploads = append(uploads, descendantUpload{name: nm.Path, job: job})
			}
			urows.Close()

			if nm.Subtype == SubtypeNamespace {
				namespaceNames = append(namespaceNames, nm.Path)
			}
		}

		ids := make([]int64, len(descendants))
		for i, nm := range descendants {
			ids[i] = nm.ID
		}
		if _, err := tx.Exec(ctx, `UPDATE hatrac.version SET is_deleted = TRUE WHERE nameid = ANY($1)`, ids); err != nil {
			return herr.Wrap(herr.Internal, err, "soft-deleting versions")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM hatrac.chunk WHERE uploadid IN (SELECT id FROM hatrac.upload WHERE nameid = ANY($1))`, ids); err != nil {
			return herr.Wrap(herr.Internal, err, "deleting chunks")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM hatrac.upload WHERE nameid = ANY($1)`, ids); err != nil {
			return herr.Wrap(herr.Internal, err, "deleting uploads")
		}
		if _, err := tx.Exec(ctx, `UPDATE hatrac.name SET is_deleted = TRUE WHERE id = ANY($1)`, ids); err != nil {
			return herr.Wrap(herr.Internal, err, "soft-deleting names")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		for _, u := range uploads {
			_ = d.backend.CancelUpload(ctx, u.name, u.job)
		}
		for _, v := range versions {
			_ = d.backend.Delete(ctx, v.name, v.tag, v.aux)
		}
		for _, ns := range namespaceNames {
			_ = d.backend.DeleteNamespace(ctx, ns)
		}
		return nil
	}, nil
}

func kindOf(s Subtype) ResourceKind {
	if s == SubtypeNamespace {
		return KindNamespace
	}
	return KindObject
}

// ResourceKindOf resolves path and reports whether it names a namespace or
// an object, so callers addressing a bare name (no version tag, no upload
// job) know which ResourceKind to pass to the ACL/metadata mutation
// methods.
func (d *Directory) ResourceKindOf(ctx context.Context, path string) (ResourceKind, error) {
	n, err := d.Resolve(ctx, path)
	if err != nil {
		return 0, err
	}
	return kindOf(n.Subtype), nil
}

// EnumerateChildren lists the live direct (or, if recursive, all live
// descendant) names under a namespace.
func (d *Directory) EnumerateChildren(ctx context.Context, path string, recursive bool, caller ClientContext) ([]*Name, error) {
	var out []*Name
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if n.Subtype != SubtypeNamespace {
			return herr.BadRequestf("%s is not a namespace", path)
		}
		if err := n.ACLs.EnforceAny(ReadAccessNames(KindNamespace), caller); err != nil {
			return err
		}
		var query string
		if recursive {
			query = nameSelectSQL + `$1 = ANY(n.ancestors) AND NOT n.is_deleted`
		} else {
			query = nameSelectSQL + `n.pid = $1 AND NOT n.is_deleted`
		}
		rows, err := tx.Query(ctx, query, n.ID)
		if err != nil {
			return herr.Wrap(herr.Internal, err, "enumerating children of %s", path)
		}
		defer rows.Close()
		for rows.Next() {
			child, err := scanName(rows)
			if err != nil {
				return err
			}
			if err := child.ACLs.EnforceAny(ReadAccessNames(kindOf(child.Subtype)), caller); err == nil {
				out = append(out, child)
			}
		}
		return nil
	})
	return out, err
}
