package catalog

import (
	"context"
	_ "embed"

	"github.com/informatics-isi-edu/hatrac/herr"
)

//go:embed schema.sql
var schemaSQL string

// DeploySchema creates the hatrac schema and seeds the permanent root name
// row, matching original_source/hatrac/model/directory/pgsql.py's
// HatracDirectory.deploy_db. It is idempotent: re-running it against an
// already-deployed database is a no-op.
func (d *Directory) DeploySchema(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schemaSQL); err != nil {
		return herr.Wrap(herr.Internal, err, "deploying schema")
	}
	return nil
}

// BootstrapRootOwner grants clientID the owner role on the root namespace,
// the one-time step an operator runs after DeploySchema so someone can
// begin creating content.
func (d *Directory) BootstrapRootOwner(ctx context.Context, clientID string) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE hatrac.name SET owner = array_append(owner, $1) WHERE id = 1 AND NOT ($1 = ANY(owner))`,
		clientID)
	if err != nil {
		return herr.Wrap(herr.Internal, err, "bootstrapping root owner")
	}
	return nil
}

// AllLiveVersionTags returns, for every non-deleted object, the set of
// non-deleted version tags it carries, keyed by object path. It is an
// admin-plane query (no ACL enforcement) feeding the filesystem backend's
// FsckOrphans pass, never reachable from the HTTP surface.
func (d *Directory) AllLiveVersionTags(ctx context.Context) (map[string]map[string]struct{}, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT obj.name, v.version
		FROM hatrac.version v JOIN hatrac.name obj ON obj.id = v.nameid
		WHERE v.version IS NOT NULL AND NOT v.is_deleted AND NOT obj.is_deleted`)
	if err != nil {
		return nil, herr.Wrap(herr.Internal, err, "listing live version tags")
	}
	defer rows.Close()

	out := make(map[string]map[string]struct{})
	for rows.Next() {
		var name, tag string
		if err := rows.Scan(&name, &tag); err != nil {
			return nil, herr.Wrap(herr.Internal, err, "scanning live version tag row")
		}
		tags, ok := out[name]
		if !ok {
			tags = make(map[string]struct{})
			out[name] = tags
		}
		tags[tag] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, herr.Wrap(herr.Internal, err, "iterating live version tags")
	}
	return out, nil
}
