package catalog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/informatics-isi-edu/hatrac/herr"
	"github.com/informatics-isi-edu/hatrac/storage"
)

// PoolConfig parameterizes the pooled connection to the directory database.
// These are the pool-shaped options named in SPEC_FULL §6.3.
type PoolConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	IdleTimeout time.Duration
}

// Directory is the transactional metadata catalog (C3). It holds a pooled
// database connection and a handle to the bulk-storage backend it
// coordinates with for version and upload lifecycle operations. Directory
// is constructed once per process and passed explicitly to request
// handlers, never held in a package-level global (Design Notes, "global
// mutable state").
type Directory struct {
	pool    *pgxpool.Pool
	backend storage.Backend
	log     *logrus.Entry
}

// Open establishes the pooled connection and returns a ready Directory.
// The pool itself performs idle eviction; callers never see individual
// connections outside of a transaction.
func Open(ctx context.Context, cfg PoolConfig, backend storage.Backend, log *logrus.Entry) (*Directory, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, herr.Wrap(herr.Internal, err, "parsing directory DSN")
	}
	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pgxCfg.MinConns = cfg.MinConns
	}
	if cfg.IdleTimeout > 0 {
		pgxCfg.MaxConnIdleTime = cfg.IdleTimeout
	}
	pool, err := pgxpool.ConnectConfig(ctx, pgxCfg)
	if err != nil {
		return nil, herr.Wrap(herr.Internal, err, "connecting to directory database")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Directory{pool: pool, backend: backend, log: log}, nil
}

// Close releases the pool's connections.
func (d *Directory) Close() { d.pool.Close() }
