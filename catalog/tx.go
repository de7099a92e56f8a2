package catalog

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/informatics-isi-edu/hatrac/herr"
)

// withTx runs fn inside a REPEATABLE READ transaction, committing on a nil
// return and rolling back otherwise. This is the explicit equivalent of the
// original's db_wrap decorator: every mutating directory operation
// re-resolves its target resource from scratch inside fn, so a concurrent
// change between request entry and commit is never missed (Design Notes,
// "re-resolve under transaction").
func (d *Directory) withTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, d.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		if _, ok := err.(*herr.Error); ok {
			return err
		}
		return herr.Wrap(herr.Internal, err, "directory transaction failed")
	}
	return nil
}

// ancestorACLColumnFor returns the SQL scalar-subquery expression computing
// the rolled-up "ancestor_<rollup>" access from the "subtree-<rollup>"
// column of every id named by ancestorsExpr, matching pgsql.py's
// ancestor_acl_sql.
func ancestorACLColumnFor(ancestorsExpr, rollup string) string {
	return "(SELECT array_agg(DISTINCT r) FROM (SELECT unnest(a.\"subtree-" + rollup + "\") AS r " +
		"FROM hatrac.name a WHERE a.id = ANY(" + ancestorsExpr + ") AND a.\"subtree-" + rollup + "\" IS NOT NULL) s)"
}

// ancestorACLColumn is ancestorACLColumnFor specialized to the "n" alias
// used by the name-row queries in directory.go.
func ancestorACLColumn(rollup string) string {
	return ancestorACLColumnFor("n.ancestors", rollup)
}

func rolesToSet(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		out[r] = struct{}{}
	}
	return out
}
