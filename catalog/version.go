package catalog

import (
	"context"
	"io"

	"github.com/jackc/pgx/v4"

	"github.com/informatics-isi-edu/hatrac/herr"
)

var versionSelectSQL = `SELECT v.id, v.nameid, v.version, v.nbytes, v.metadata, v.is_deleted, v.owner, v.read,
	obj."subtree-owner", obj."subtree-read",
	` + ancestorACLColumnFor("obj.ancestors", "owner") + `,
	` + ancestorACLColumnFor("obj.ancestors", "read") + `
	FROM hatrac.version v JOIN hatrac.name obj ON obj.id = v.nameid
	WHERE `

func scanVersion(row pgx.Row) (*Version, error) {
	var (
		v                                            Version
		tag                                          *string
		rawMeta                                      []byte
		owner, read, subOwner, subRead                []string
		ancestorOwner, ancestorRead                  []string
	)
	if err := row.Scan(&v.ID, &v.NameID, &tag, &v.NBytes, &rawMeta, &v.IsDeleted, &owner, &read,
		&subOwner, &subRead, &ancestorOwner, &ancestorRead); err != nil {
		if err == pgx.ErrNoRows {
			return nil, herr.NotFoundf("no such version")
		}
		return nil, herr.Wrap(herr.Internal, err, "scanning version row")
	}
	if tag != nil {
		v.VersionTag = *tag
	}
	meta, err := MetadataFromSQL(rawMeta)
	if err != nil {
		return nil, err
	}
	v.Metadata = meta
	v.ACLs = NewACLSet()
	for r := range rolesToSet(owner) {
		v.ACLs.Add("owner", r)
	}
	for r := range rolesToSet(read) {
		v.ACLs.Add("read", r)
	}
	for r := range rolesToSet(subOwner) {
		v.ACLs.Add("subtree-owner", r)
	}
	for r := range rolesToSet(subRead) {
		v.ACLs.Add("subtree-read", r)
	}
	for r := range rolesToSet(ancestorOwner) {
		v.ACLs.Add("ancestor_owner", r)
	}
	for r := range rolesToSet(ancestorRead) {
		v.ACLs.Add("ancestor_read", r)
	}
	return &v, nil
}

func (d *Directory) currentVersionTx(ctx context.Context, tx pgx.Tx, nameID int64) (*Version, error) {
	row := tx.QueryRow(ctx, versionSelectSQL+`v.nameid = $1 AND v.version IS NOT NULL AND NOT v.is_deleted ORDER BY v.id DESC LIMIT 1`, nameID)
	return scanVersion(row)
}

func (d *Directory) lookupVersionTx(ctx context.Context, tx pgx.Tx, nameID int64, tag string) (*Version, error) {
	row := tx.QueryRow(ctx, versionSelectSQL+`v.nameid = $1 AND v.version = $2 AND NOT v.is_deleted`, nameID, tag)
	return scanVersion(row)
}

// ResolveCurrentVersion returns the current version of the object at path:
// the non-deleted visible version with the highest internal serial id.
func (d *Directory) ResolveCurrentVersion(ctx context.Context, path string, caller ClientContext) (*Name, *Version, error) {
	var obj *Name
	var ver *Version
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if n.Subtype != SubtypeObject {
			return herr.BadRequestf("%s is not an object", path)
		}
		v, err := d.currentVersionTx(ctx, tx, n.ID)
		if err != nil {
			return err
		}
		if err := v.ACLs.EnforceAny(ReadAccessNames(KindVersion), caller); err != nil {
			return err
		}
		obj, ver = n, v
		return nil
	})
	return obj, ver, err
}

// ResolveVersion returns a specific version of the object at path by tag.
func (d *Directory) ResolveVersion(ctx context.Context, path, tag string, caller ClientContext) (*Name, *Version, error) {
	var obj *Name
	var ver *Version
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if n.Subtype != SubtypeObject {
			return herr.BadRequestf("%s is not an object", path)
		}
		v, err := d.lookupVersionTx(ctx, tx, n.ID, tag)
		if err != nil {
			return err
		}
		if err := v.ACLs.EnforceAny(ReadAccessNames(KindVersion), caller); err != nil {
			return err
		}
		obj, ver = n, v
		return nil
	})
	return obj, ver, err
}

// EnumerateVersions lists every live version of the object at path, ordered
// oldest first.
func (d *Directory) EnumerateVersions(ctx context.Context, path string, caller ClientContext) (*Name, []*Version, error) {
	var obj *Name
	var out []*Version
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if n.Subtype != SubtypeObject {
			return herr.BadRequestf("%s is not an object", path)
		}
		if err := n.ACLs.EnforceAny(ReadAccessNames(KindObject), caller); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, versionSelectSQL+`v.nameid = $1 AND NOT v.is_deleted ORDER BY v.id ASC`, n.ID)
		if err != nil {
			return herr.Wrap(herr.Internal, err, "enumerating versions of %s", path)
		}
		defer rows.Close()
		for rows.Next() {
			v, err := scanVersion(rows)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		obj = n
		return nil
	})
	return obj, out, err
}

// createVersionTx inserts the invisible tombstone row described by
// create_version in the core specification's §4.4 step 2: version_tag NULL,
// is_deleted TRUE.
func (d *Directory) createVersionTx(ctx context.Context, tx pgx.Tx, nameID, nbytes int64, metadata Metadata) (int64, error) {
	rawMeta, err := metadata.ToSQL()
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO hatrac.version (nameid, version, nbytes, metadata, is_deleted) VALUES ($1, NULL, $2, $3, TRUE) RETURNING id`,
		nameID, nbytes, rawMeta).Scan(&id)
	if err != nil {
		return 0, herr.Wrap(herr.Internal, err, "creating version tombstone")
	}
	return id, nil
}

// completeVersionTx flips an invisible tombstone to visible, the atomic
// step described in §4.4 step 4.
func (d *Directory) completeVersionTx(ctx context.Context, tx pgx.Tx, versionID int64, tag string, owner string) error {
	ownerArr := []string{}
	if owner != "" {
		ownerArr = []string{owner}
	}
	_, err := tx.Exec(ctx,
		`UPDATE hatrac.version SET version = $1, is_deleted = FALSE, owner = $2 WHERE id = $3`,
		tag, ownerArr, versionID)
	if err != nil {
		return herr.Wrap(herr.Internal, err, "completing version %d", versionID)
	}
	return nil
}

// PutObject implements the single-PUT version lifecycle of the core
// specification's §4.4: resolve-or-create the object, open an invisible
// version row, stream bytes to the backend, then flip the row visible in a
// second transaction. On any failure before the flip, the tombstone is left
// behind and the error is surfaced to the caller; no reader can ever observe
// it, satisfying Testable Property 3.
func (d *Directory) PutObject(ctx context.Context, path string, makeParents bool, r io.Reader, nbytes int64, metadata Metadata, caller ClientContext) (*Name, *Version, error) {
	var obj *Name
	var pendingID int64
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, path)
		if err != nil {
			if !herr.Is(err, herr.NotFound) {
				return err
			}
			n, err = d.createNameTx(ctx, tx, path, SubtypeObject, makeParents, caller)
			if err != nil {
				return err
			}
		} else {
			if n.Subtype != SubtypeObject {
				return herr.Conflictf("%s exists and is not an object", path)
			}
			if err := n.ACLs.EnforceAny(ObjectUpdateAccessNames(), caller); err != nil {
				return err
			}
		}
		id, err := d.createVersionTx(ctx, tx, n.ID, nbytes, metadata)
		if err != nil {
			return err
		}
		obj, pendingID = n, id
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	rawMeta := map[string][]byte(metadata)
	tag, err := d.backend.CreateFromFile(ctx, obj.Path, r, nbytes, rawMeta)
	if err != nil {
		// Tombstone is left behind deliberately; bytes (if any) are backend
		// garbage. No transaction to roll back here: step 4 never ran.
		return nil, nil, err
	}

	var ver *Version
	err = d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := d.completeVersionTx(ctx, tx, pendingID, tag, caller.ClientID); err != nil {
			return err
		}
		v, err := d.lookupVersionTx(ctx, tx, obj.ID, tag)
		if err != nil {
			return err
		}
		ver = v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return obj, ver, nil
}

// DeleteVersion soft-deletes either one version (tag != "") or every live
// version of the object (tag == ""), returning a post-commit closure that
// instructs the backend to reclaim bytes.
func (d *Directory) DeleteVersion(ctx context.Context, path, tag string, caller ClientContext) (func(context.Context) error, error) {
	type victim struct {
		tag string
		aux []byte
	}
	var obj *Name
	var victims []victim

	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if n.Subtype != SubtypeObject {
			return herr.BadRequestf("%s is not an object", path)
		}
		if tag != "" {
			v, err := d.lookupVersionTx(ctx, tx, n.ID, tag)
			if err != nil {
				return err
			}
			if err := v.ACLs.EnforceAny(OwnerAccessNames(KindVersion), caller); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE hatrac.version SET is_deleted = TRUE WHERE id = $1`, v.ID); err != nil {
				return herr.Wrap(herr.Internal, err, "deleting version %s", tag)
			}
			victims = append(victims, victim{tag: v.VersionTag})
		} else {
			if err := n.ACLs.EnforceAny(OwnerAccessNames(KindObject), caller); err != nil {
				return err
			}
			rows, err := tx.Query(ctx, `SELECT id, version FROM hatrac.version WHERE nameid = $1 AND NOT is_deleted`, n.ID)
			if err != nil {
				return herr.Wrap(herr.Internal, err, "listing versions of %s", path)
			}
			var ids []int64
			for rows.Next() {
				var id int64
				var vt *string
				if err := rows.Scan(&id, &vt); err != nil {
					rows.Close()
					return herr.Wrap(herr.Internal, err, "scanning version row")
				}
				ids = append(ids, id)
				if vt != nil {
					victims = append(victims, victim{tag: *vt})
				}
			}
			rows.Close()
			if _, err := tx.Exec(ctx, `UPDATE hatrac.version SET is_deleted = TRUE WHERE id = ANY($1)`, ids); err != nil {
				return herr.Wrap(herr.Internal, err, "deleting versions of %s", path)
			}
		}
		obj = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	objPath := obj.Path
	return func(ctx context.Context) error {
		for _, v := range victims {
			if err := d.backend.Delete(ctx, objPath, v.tag, v.aux); err != nil && !herr.Is(err, herr.ObjectVersionMissing) {
				return err
			}
		}
		return nil
	}, nil
}
