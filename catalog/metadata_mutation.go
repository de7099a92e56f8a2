package catalog

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/informatics-isi-edu/hatrac/herr"
)

// metadataTable names the table whose JSONB metadata column backs
// metadata for each resource kind that carries it. Namespaces have no
// metadata of their own in the core specification.
func metadataTable(kind ResourceKind) (table string, ok bool) {
	switch kind {
	case KindObject, KindVersion:
		return "hatrac.version", true
	case KindUpload:
		return "hatrac.upload", true
	default:
		return "", false
	}
}

// resolveMetadataTargetTx resolves the version or upload row metadata
// mutations apply to. Object-level metadata reads/writes the object's
// current version, matching the original's treatment of "object metadata"
// as an alias for current-version metadata.
func (d *Directory) resolveMetadataTargetTx(ctx context.Context, tx pgx.Tx, kind ResourceKind, path, tag, job string) (table string, id int64, acls ACLSet, meta Metadata, err error) {
	table, ok := metadataTable(kind)
	if !ok {
		return "", 0, nil, nil, herr.BadRequestf("this resource type carries no metadata")
	}
	n, err := d.lookupNameTx(ctx, tx, path)
	if err != nil {
		return "", 0, nil, nil, err
	}
	switch kind {
	case KindObject:
		v, err := d.currentVersionTx(ctx, tx, n.ID)
		if err != nil {
			return "", 0, nil, nil, err
		}
		return table, v.ID, v.ACLs, v.Metadata, nil
	case KindVersion:
		v, err := d.lookupVersionTx(ctx, tx, n.ID, tag)
		if err != nil {
			return "", 0, nil, nil, err
		}
		return table, v.ID, v.ACLs, v.Metadata, nil
	case KindUpload:
		u, err := d.lookupUploadTx(ctx, tx, n.ID, job)
		if err != nil {
			return "", 0, nil, nil, err
		}
		return table, u.ID, u.ACLs, u.Metadata, nil
	default:
		return "", 0, nil, nil, herr.BadRequestf("this resource type carries no metadata")
	}
}

// GetMetadata returns the full metadata map for the resource, requiring
// read access.
func (d *Directory) GetMetadata(ctx context.Context, kind ResourceKind, path, tag, job string, caller ClientContext) (Metadata, error) {
	var out Metadata
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, _, acls, meta, err := d.resolveMetadataTargetTx(ctx, tx, kind, path, tag, job)
		if err != nil {
			return err
		}
		if err := acls.EnforceAny(ReadAccessNames(kind), caller); err != nil {
			return err
		}
		out = meta
		return nil
	})
	return out, err
}

// SetMetadataField writes a single metadata field, enforcing the closed key
// set, the per-key value grammar, and the write-once rule for binary digest
// fields (Metadata.Set), requiring owner∨ancestor_owner on the target.
func (d *Directory) SetMetadataField(ctx context.Context, kind ResourceKind, path, tag, job, key string, value []byte, caller ClientContext) error {
	return d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		table, id, acls, meta, err := d.resolveMetadataTargetTx(ctx, tx, kind, path, tag, job)
		if err != nil {
			return err
		}
		if err := acls.EnforceAny(OwnerAccessNames(kind), caller); err != nil {
			return err
		}
		if meta == nil {
			meta = Metadata{}
		}
		if err := meta.Set(key, value); err != nil {
			return err
		}
		raw, err := meta.ToSQL()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE `+table+` SET metadata = $1 WHERE id = $2`, raw, id); err != nil {
			return herr.Wrap(herr.Internal, err, "writing metadata field %s", key)
		}
		return nil
	})
}

// DeleteMetadataField removes a single metadata key, failing NotFound if
// the key was not set, and Conflict if the key is write-once and already
// holds a value (content-md5/content-sha256 can never be cleared once set,
// only idempotently re-set to the same bytes).
func (d *Directory) DeleteMetadataField(ctx context.Context, kind ResourceKind, path, tag, job, key string, caller ClientContext) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		table, id, acls, meta, err := d.resolveMetadataTargetTx(ctx, tx, kind, path, tag, job)
		if err != nil {
			return err
		}
		if err := acls.EnforceAny(OwnerAccessNames(kind), caller); err != nil {
			return err
		}
		if _, ok := meta[key]; !ok {
			return herr.NotFoundf("metadata field %q is not set", key)
		}
		if _, writeOnce := writeOnceKeys[key]; writeOnce {
			return herr.Conflictf("%s is write-once and cannot be cleared", key)
		}
		delete(meta, key)
		raw, err := meta.ToSQL()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE `+table+` SET metadata = $1 WHERE id = $2`, raw, id); err != nil {
			return herr.Wrap(herr.Internal, err, "deleting metadata field %s", key)
		}
		return nil
	})
}
