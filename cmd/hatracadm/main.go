// Command hatracadm is the operator-facing administration CLI: deploying
// the directory schema, bootstrapping the root owner, and running the
// offline maintenance passes (orphan fsck, stale multipart-upload purge)
// that the HTTP surface never exposes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/informatics-isi-edu/hatrac/catalog"
	"github.com/informatics-isi-edu/hatrac/hconfig"
	"github.com/informatics-isi-edu/hatrac/storage/filesystem"
	"github.com/informatics-isi-edu/hatrac/storage/s3"
)

func main() {
	app := cli.NewApp()
	app.Name = "hatracadm"
	app.Usage = "administer a Hatrac deployment"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Value: "/etc/hatrac/config.json", Usage: "path to the JSON configuration file"},
	}
	app.Commands = []cli.Command{
		initCommand,
		fsckCommand,
		s3PurgeUploadsCommand,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var initCommand = cli.Command{
	Name:  "init",
	Usage: "deploy the directory schema and bootstrap the root namespace owner",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "owner", Usage: "client id to grant owner on the root namespace"},
	},
	Action: func(c *cli.Context) error {
		cfg, dir, err := openDirectory(c)
		if err != nil {
			return err
		}
		defer dir.Close()

		ctx := context.Background()
		if err := dir.DeploySchema(ctx); err != nil {
			return err
		}
		owner := c.String("owner")
		if owner == "" {
			owner = cfg.BootstrapOwner
		}
		if owner == "" {
			fmt.Println("schema deployed; no owner specified, skipping root bootstrap")
			return nil
		}
		if err := dir.BootstrapRootOwner(ctx, owner); err != nil {
			return err
		}
		fmt.Printf("schema deployed; %s granted owner on /\n", owner)
		return nil
	},
}

var fsckCommand = cli.Command{
	Name:  "fsck",
	Usage: "report filesystem-backend version files with no matching live directory entry",
	Action: func(c *cli.Context) error {
		cfg, dir, err := openDirectory(c)
		if err != nil {
			return err
		}
		defer dir.Close()
		if cfg.StorageBackend != "filesystem" {
			return fmt.Errorf("fsck only applies to the filesystem storage backend, got %q", cfg.StorageBackend)
		}

		ctx := context.Background()
		liveTags, err := dir.AllLiveVersionTags(ctx)
		if err != nil {
			return err
		}
		backend, err := filesystem.New(cfg.StoragePath, cfg.MaxConcurrentTransfers)
		if err != nil {
			return err
		}
		orphans, err := backend.FsckOrphans(liveTags)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Println("no orphaned version files found")
			return nil
		}
		for _, path := range orphans {
			fmt.Println(path)
		}
		return nil
	},
}

var s3PurgeUploadsCommand = cli.Command{
	Name:  "s3-purge-uploads",
	Usage: "abort S3 multipart uploads older than -max-age",
	Flags: []cli.Flag{
		cli.DurationFlag{Name: "max-age", Value: 24 * time.Hour, Usage: "age beyond which an incomplete multipart upload is aborted"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := hconfig.Load(c.GlobalString("config"))
		if err != nil {
			return err
		}
		if cfg.StorageBackend != "s3" {
			return fmt.Errorf("s3-purge-uploads only applies to the s3 storage backend, got %q", cfg.StorageBackend)
		}
		buckets := make([]s3.BucketConfig, 0, len(cfg.S3Config.Buckets))
		for _, b := range cfg.S3Config.Buckets {
			buckets = append(buckets, s3.BucketConfig{
				PathPrefix:               b.PathPrefix,
				BucketName:               b.BucketName,
				BucketPathPrefix:         b.BucketPathPrefix,
				Region:                   b.Region,
				PresignedURLThreshold:    b.PresignedURLThreshold,
				PresignedURLExpiration:   time.Duration(b.PresignedURLExpirationS) * time.Second,
				EnforceVersioningEnabled: b.EnforceVersioningEnabled,
			})
		}
		backend, err := s3.New(s3.Config{Buckets: buckets}, cfg.MaxConcurrentTransfers)
		if err != nil {
			return err
		}
		purged, err := backend.PurgeStaleMultipartUploads(context.Background(), c.Duration("max-age"))
		if err != nil {
			return err
		}
		fmt.Printf("aborted %d stale multipart upload(s)\n", purged)
		return nil
	},
}

func openDirectory(c *cli.Context) (*hconfig.Config, *catalog.Directory, error) {
	cfg, err := hconfig.Load(c.GlobalString("config"))
	if err != nil {
		return nil, nil, err
	}
	// init/fsck only need the directory database, never the bulk backend, so
	// a nil storage.Backend is fine here: neither command reads or writes
	// version bytes through it.
	dir, err := catalog.Open(context.Background(), catalog.PoolConfig{
		DSN:         cfg.PostgresDSN,
		MaxConns:    cfg.PoolMaxConns,
		MinConns:    cfg.PoolMinConns,
		IdleTimeout: time.Duration(cfg.PoolIdleTimeout) * time.Second,
	}, nil, logrus.NewEntry(logrus.StandardLogger()))
	if err != nil {
		return nil, nil, err
	}
	return cfg, dir, nil
}
