package rest

import (
	"context"

	"github.com/valyala/fasthttp"

	jsoniter "github.com/json-iterator/go"

	"github.com/informatics-isi-edu/hatrac/authn"
	"github.com/informatics-isi-edu/hatrac/catalog"
	"github.com/informatics-isi-edu/hatrac/fingerprint"
	"github.com/informatics-isi-edu/hatrac/herr"
)

// handleACL implements GET/PUT/DELETE on .../name[:version];acl[/<access>[/<role>]],
// spec.md §6's ACL management row.
func (s *Server) handleACL(ctx context.Context, rc *fasthttp.RequestCtx, method string, pp *ParsedPath, caller authn.Context) error {
	kind, tag, job, err := s.resolveACLTarget(ctx, pp)
	if err != nil {
		return err
	}

	var access, role string
	switch len(pp.SubArgs) {
	case 0:
	case 1:
		access = pp.SubArgs[0]
	case 2:
		access, role = pp.SubArgs[0], pp.SubArgs[1]
	default:
		return herr.BadRequestf("too many ;acl path segments")
	}

	switch method {
	case "GET":
		return s.getACL(ctx, rc, kind, pp.Path, tag, job, access, role, caller)
	case "PUT":
		if s.Config.ReadOnly {
			return herr.Forbiddenf("service is in read-only mode")
		}
		return s.putACL(ctx, rc, kind, pp.Path, tag, job, access, role, caller)
	case "DELETE":
		if s.Config.ReadOnly {
			return herr.Forbiddenf("service is in read-only mode")
		}
		return s.deleteACL(ctx, rc, kind, pp.Path, tag, job, access, role, caller)
	default:
		rc.Response.Header.Set("Allow", "GET, PUT, DELETE")
		return herr.New(herr.BadRequest, "method %s not allowed on ;acl", method)
	}
}

// resolveACLTarget figures out the ResourceKind and, for version/upload
// targets, the tag/job string that SubArgs addresses beyond the bare name.
// Upload-job ACLs are addressed the same way the upload lifecycle
// identifies a job: as a path-level sub-resource, not via ;acl itself, so
// here only namespace/object/version targets are reachable.
func (s *Server) resolveACLTarget(ctx context.Context, pp *ParsedPath) (kind catalog.ResourceKind, tag, job string, err error) {
	if pp.VersionTag != "" {
		return catalog.KindVersion, pp.VersionTag, "", nil
	}
	k, err := s.Dir.ResourceKindOf(ctx, pp.Path)
	if err != nil {
		return 0, "", "", err
	}
	return k, "", "", nil
}

func (s *Server) getACL(ctx context.Context, rc *fasthttp.RequestCtx, kind catalog.ResourceKind, path, tag, job, access, role string, caller authn.Context) error {
	if access == "" {
		// Whole-ACL listing: every recognized direct access name mapped to
		// its role list.
		out := map[string][]string{}
		for name := range catalog.DirectAccessNames(kind) {
			roles, err := s.Dir.GetACL(ctx, kind, path, tag, job, name, caller)
			if err != nil {
				return err
			}
			out[name] = roles
		}
		raw, _ := jsoniter.Marshal(out)
		rc.Response.Header.Set("ETag", `"`+fingerprint.Dict(flattenACL(out))+`"`)
		rc.SetContentType("application/json")
		rc.SetBody(raw)
		return nil
	}
	roles, err := s.Dir.GetACL(ctx, kind, path, tag, job, access, caller)
	if err != nil {
		return err
	}
	if role != "" {
		for _, r := range roles {
			if r == role {
				rc.SetContentType("text/plain; charset=utf-8")
				rc.SetBodyString(role)
				return nil
			}
		}
		return herr.NotFoundf("role %q is not present on %s", role, access)
	}
	rc.Response.Header.Set("ETag", `"`+fingerprint.List(roles)+`"`)
	writeJSONList(rc, roles)
	return nil
}

func (s *Server) putACL(ctx context.Context, rc *fasthttp.RequestCtx, kind catalog.ResourceKind, path, tag, job, access, role string, caller authn.Context) error {
	if access == "" {
		return herr.BadRequestf("PUT requires an access name")
	}
	if role != "" {
		if err := s.Dir.SetRole(ctx, kind, path, tag, job, access, role, caller); err != nil {
			return err
		}
		rc.SetStatusCode(fasthttp.StatusNoContent)
		return nil
	}
	var roles []string
	if err := jsoniter.Unmarshal(rc.PostBody(), &roles); err != nil {
		return herr.BadRequestf("PUT body must be a JSON array of role strings")
	}
	if err := s.Dir.SetACL(ctx, kind, path, tag, job, access, roles, caller); err != nil {
		return err
	}
	rc.SetStatusCode(fasthttp.StatusNoContent)
	return nil
}

func (s *Server) deleteACL(ctx context.Context, rc *fasthttp.RequestCtx, kind catalog.ResourceKind, path, tag, job, access, role string, caller authn.Context) error {
	if access == "" {
		return herr.BadRequestf("DELETE requires an access name")
	}
	var err error
	if role != "" {
		err = s.Dir.DropRole(ctx, kind, path, tag, job, access, role, caller)
	} else {
		err = s.Dir.ClearACL(ctx, kind, path, tag, job, access, caller)
	}
	if err != nil {
		return err
	}
	rc.SetStatusCode(fasthttp.StatusNoContent)
	return nil
}

func flattenACL(m map[string][]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fingerprint.List(v)
	}
	return out
}
