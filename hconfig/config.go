// Package hconfig loads and validates the JSON configuration file (C10)
// that parameterizes every other component: the directory database pool,
// the bulk-storage backend, the firewall ACLs, and the HTTP surface's
// payload/prefix options. Grounded on
// original_source/hatrac/core.py's merge_config/web_storage shims, which
// likewise validate a closed set of recognized top-level keys before
// anything else starts.
package hconfig

import (
	"io/ioutil"

	jsoniter "github.com/json-iterator/go"

	"github.com/informatics-isi-edu/hatrac/authn"
	"github.com/informatics-isi-edu/hatrac/herr"
)

// FirewallOp names one of the four operation buckets a firewall ACL gates,
// matching spec.md §4.2/§6.3.
type FirewallOp string

const (
	FirewallCreate         FirewallOp = "create"
	FirewallDelete         FirewallOp = "delete"
	FirewallManageACL      FirewallOp = "manage_acl"
	FirewallManageMetadata FirewallOp = "manage_metadata"
)

// S3BucketConfig is one entry of s3_config.buckets, mirroring the shape
// consumed by storage/s3.BucketConfig; hconfig only parses the JSON, it
// does not depend on the storage package so that config stays a leaf in
// the dependency graph.
type S3BucketConfig struct {
	PathPrefix               string `json:"path_prefix"`
	BucketName               string `json:"bucket_name"`
	BucketPathPrefix         string `json:"bucket_path_prefix"`
	Region                   string `json:"region"`
	PresignedURLThreshold    int64  `json:"presigned_url_threshold"`
	PresignedURLExpirationS  int64  `json:"presigned_url_expiration_seconds"`
	EnforceVersioningEnabled bool   `json:"enforce_versioning_enabled"`
}

// S3Config is the s3_config top-level key, present only when
// storage_backend includes "s3" (directly or inside an overlay).
type S3Config struct {
	Buckets []S3BucketConfig `json:"buckets"`
}

// Config is the top-level, closed-key-set configuration document.
type Config struct {
	StorageBackend         string              `json:"storage_backend"`
	StoragePath            string              `json:"storage_path"`
	OverlayBackends        []string            `json:"overlay_backends"`
	S3Config               S3Config            `json:"s3_config"`
	FirewallACLs           map[FirewallOp][]string `json:"firewall_acls"`
	MaxRequestPayloadSize  int64               `json:"max_request_payload_size"`
	ReadOnly               bool                `json:"read_only"`
	ServicePrefix          string              `json:"service_prefix"`
	MaxConcurrentTransfers int64               `json:"max_concurrent_transfers"`

	PostgresDSN     string `json:"postgres_dsn"`
	PoolMaxConns    int32  `json:"pool_max_conns"`
	PoolMinConns    int32  `json:"pool_min_conns"`
	PoolIdleTimeout int64  `json:"pool_idle_timeout_seconds"`

	BootstrapOwner string `json:"bootstrap_owner"`
}

var validBackends = map[string]struct{}{
	"filesystem": {}, "s3": {}, "overlay": {},
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, herr.Wrap(herr.Internal, err, "reading config file %s", path)
	}
	var cfg Config
	strict := jsoniter.Config{EscapeHTML: true, DisallowUnknownFields: true}.Froze()
	if err := strict.Unmarshal(raw, &cfg); err != nil {
		return nil, herr.Wrap(herr.Internal, err, "parsing config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects any configuration document whose closed-set options are
// violated, before any component is constructed from it.
func (c *Config) Validate() error {
	if _, ok := validBackends[c.StorageBackend]; !ok {
		return herr.BadRequestf("storage_backend must be one of filesystem, s3, overlay, got %q", c.StorageBackend)
	}
	if c.StorageBackend == "filesystem" && c.StoragePath == "" {
		return herr.BadRequestf("storage_path is required when storage_backend is filesystem")
	}
	if c.StorageBackend == "s3" && len(c.S3Config.Buckets) == 0 {
		return herr.BadRequestf("s3_config.buckets must be non-empty when storage_backend is s3")
	}
	if c.StorageBackend == "overlay" && len(c.OverlayBackends) < 2 {
		return herr.BadRequestf("overlay_backends must list at least two backend names")
	}
	for op := range c.FirewallACLs {
		switch op {
		case FirewallCreate, FirewallDelete, FirewallManageACL, FirewallManageMetadata:
		default:
			return herr.BadRequestf("unrecognized firewall_acls key %q", op)
		}
	}
	if c.MaxRequestPayloadSize < 0 {
		return herr.BadRequestf("max_request_payload_size must be >= 0")
	}
	if c.PostgresDSN == "" {
		return herr.BadRequestf("postgres_dsn is required")
	}
	return nil
}

// AllowsFirewall reports whether caller is permitted to perform op at all,
// independent of any per-resource ACL, checked by the rest layer before it
// ever consults the catalog. An empty or absent role list for op means the
// firewall imposes no restriction on that operation.
func (c *Config) AllowsFirewall(op FirewallOp, caller authn.Context) bool {
	roles, ok := c.FirewallACLs[op]
	if !ok || len(roles) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return caller.Matches(set)
}
