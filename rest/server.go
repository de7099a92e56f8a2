package rest

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/informatics-isi-edu/hatrac/authn"
	"github.com/informatics-isi-edu/hatrac/catalog"
	"github.com/informatics-isi-edu/hatrac/hconfig"
	"github.com/informatics-isi-edu/hatrac/herr"
)

// Server holds the explicit service handles every request handler needs:
// the directory, the auth resolver, and the validated config. It is
// constructed once in cmd/hatracd and never stored in a package-level
// global, per Design Notes' "global mutable state" guidance.
type Server struct {
	Dir      *catalog.Directory
	Auth     authn.Resolver
	Config   *hconfig.Config
	Log      *logrus.Logger
}

// NewServer wires the three collaborators into a ready Server.
func NewServer(dir *catalog.Directory, auth authn.Resolver, cfg *hconfig.Config, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{Dir: dir, Auth: auth, Config: cfg, Log: log}
}

// Handler is the single fasthttp.RequestHandler entry point.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	reqID := requestID(ctx)
	method := string(ctx.Method())
	rawPath := string(ctx.Path())

	log := s.Log.WithFields(logrus.Fields{
		"request_id": reqID,
		"method":     method,
		"path":       rawPath,
	})
	ctx.Response.Header.Set("X-Request-Id", reqID)

	trimmed := strings.TrimPrefix(rawPath, s.Config.ServicePrefix)
	if trimmed == "" {
		trimmed = "/"
	}

	if err := s.dispatch(ctx, log, method, trimmed); err != nil {
		writeError(ctx, log, err)
	}

	log.WithFields(logrus.Fields{
		"status":      ctx.Response.StatusCode(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("request complete")
}

func (s *Server) dispatch(ctx *fasthttp.RequestCtx, log *logrus.Entry, method, path string) error {
	pp, err := ParsePath(path)
	if err != nil {
		return err
	}
	caller := authn.Anonymous
	if s.Auth != nil {
		caller = s.Auth.Resolve(&ctx.Request.Header)
	}

	if op, gated := firewallOpFor(pp.Sub, method); gated && !s.Config.AllowsFirewall(op, caller) {
		if !caller.Authenticated {
			return herr.Unauthenticatedf("authentication required for this operation")
		}
		return herr.Forbiddenf("caller does not hold the %q firewall role", op)
	}

	bgCtx := context.Background()

	switch pp.Sub {
	case SubNone:
		return s.handleName(bgCtx, ctx, log, method, pp, caller)
	case SubVersions:
		return s.handleVersions(bgCtx, ctx, method, pp, caller)
	case SubACL:
		return s.handleACL(bgCtx, ctx, method, pp, caller)
	case SubMetadata:
		return s.handleMetadata(bgCtx, ctx, method, pp, caller)
	case SubUpload:
		return s.handleUpload(bgCtx, ctx, method, pp, caller)
	default:
		return herr.BadRequestf("unrecognized sub-resource")
	}
}

// firewallOpFor maps a request's sub-resource and method to the firewall_acls
// operation class that gates it, mirroring original_source's per-handler
// enforce_firewall('create'|'delete'|'manage_acl'|'manage_metadata') calls:
// name PUT is a create, name/version DELETE is a delete, and every ACL or
// metadata mutation (including plain GET, which original_source does not
// distinguish) falls under manage_acl/manage_metadata. Reads and the upload
// sub-resource are never gated — the original never calls enforce_firewall
// from rest/transfer.py.
func firewallOpFor(sub Sub, method string) (hconfig.FirewallOp, bool) {
	switch sub {
	case SubNone:
		switch method {
		case "PUT":
			return hconfig.FirewallCreate, true
		case "DELETE":
			return hconfig.FirewallDelete, true
		}
	case SubVersions:
		if method == "DELETE" {
			return hconfig.FirewallDelete, true
		}
	case SubACL:
		return hconfig.FirewallManageACL, true
	case SubMetadata:
		return hconfig.FirewallManageMetadata, true
	}
	return "", false
}

func parseBoolQuery(ctx *fasthttp.RequestCtx, key string) bool {
	v := string(ctx.QueryArgs().Peek(key))
	b, _ := strconv.ParseBool(v)
	return b
}
