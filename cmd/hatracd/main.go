// Command hatracd is the Hatrac HTTP object-storage service daemon. It
// loads configuration, builds the directory and bulk-storage backend it
// names, and serves the HTTP surface (C11) until terminated.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/informatics-isi-edu/hatrac/authn"
	"github.com/informatics-isi-edu/hatrac/catalog"
	"github.com/informatics-isi-edu/hatrac/hconfig"
	"github.com/informatics-isi-edu/hatrac/rest"
	"github.com/informatics-isi-edu/hatrac/storage"
	"github.com/informatics-isi-edu/hatrac/storage/filesystem"
	"github.com/informatics-isi-edu/hatrac/storage/overlay"
	"github.com/informatics-isi-edu/hatrac/storage/s3"
)

func main() {
	configPath := flag.String("config", "/etc/hatrac/config.json", "path to the JSON configuration file")
	listenAddr := flag.String("listen", ":8765", "address to listen on")
	flag.Parse()

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := hconfig.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		log.WithError(err).Fatal("constructing storage backend")
	}

	ctx := context.Background()
	dir, err := catalog.Open(ctx, catalog.PoolConfig{
		DSN:         cfg.PostgresDSN,
		MaxConns:    cfg.PoolMaxConns,
		MinConns:    cfg.PoolMinConns,
		IdleTimeout: time.Duration(cfg.PoolIdleTimeout) * time.Second,
	}, backend, logrus.NewEntry(log))
	if err != nil {
		log.WithError(err).Fatal("opening directory")
	}
	defer dir.Close()

	srv := rest.NewServer(dir, authn.NewHeaderResolver(), cfg, log)

	log.WithField("addr", *listenAddr).Info("hatracd listening")
	if err := fasthttp.ListenAndServe(*listenAddr, srv.Handler); err != nil {
		log.WithError(err).Fatal("serving")
		os.Exit(1)
	}
}

// buildBackend constructs the storage.Backend named by cfg.StorageBackend.
// An "overlay" backend is assembled from the filesystem and/or s3 backends
// cfg.OverlayBackends names, in the given priority order, each configured
// from the same storage_path / s3_config keys a bare filesystem or s3
// deployment would use.
func buildBackend(cfg *hconfig.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "filesystem":
		return filesystem.New(cfg.StoragePath, cfg.MaxConcurrentTransfers)
	case "s3":
		return s3.New(s3Config(cfg), cfg.MaxConcurrentTransfers)
	case "overlay":
		var backends []storage.Backend
		for _, name := range cfg.OverlayBackends {
			switch name {
			case "filesystem":
				b, err := filesystem.New(cfg.StoragePath, cfg.MaxConcurrentTransfers)
				if err != nil {
					return nil, err
				}
				backends = append(backends, b)
			case "s3":
				b, err := s3.New(s3Config(cfg), cfg.MaxConcurrentTransfers)
				if err != nil {
					return nil, err
				}
				backends = append(backends, b)
			default:
				return nil, unknownOverlayBackend(name)
			}
		}
		return overlay.New(backends)
	default:
		return nil, unknownStorageBackend(cfg.StorageBackend)
	}
}

func s3Config(cfg *hconfig.Config) s3.Config {
	out := s3.Config{Buckets: make([]s3.BucketConfig, 0, len(cfg.S3Config.Buckets))}
	for _, b := range cfg.S3Config.Buckets {
		out.Buckets = append(out.Buckets, s3.BucketConfig{
			PathPrefix:               b.PathPrefix,
			BucketName:               b.BucketName,
			BucketPathPrefix:         b.BucketPathPrefix,
			Region:                   b.Region,
			PresignedURLThreshold:    b.PresignedURLThreshold,
			PresignedURLExpiration:   time.Duration(b.PresignedURLExpirationS) * time.Second,
			EnforceVersioningEnabled: b.EnforceVersioningEnabled,
		})
	}
	return out
}

func unknownStorageBackend(name string) error {
	return &unknownBackendError{kind: "storage_backend", name: name}
}

func unknownOverlayBackend(name string) error {
	return &unknownBackendError{kind: "overlay_backends entry", name: name}
}

type unknownBackendError struct {
	kind, name string
}

func (e *unknownBackendError) Error() string {
	return "unrecognized " + e.kind + ": " + e.name
}
