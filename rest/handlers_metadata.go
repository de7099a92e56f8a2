package rest

import (
	"context"
	"io/ioutil"

	"github.com/valyala/fasthttp"

	"github.com/informatics-isi-edu/hatrac/authn"
	"github.com/informatics-isi-edu/hatrac/catalog"
	"github.com/informatics-isi-edu/hatrac/fingerprint"
	"github.com/informatics-isi-edu/hatrac/herr"
)

// handleMetadata implements GET/PUT/DELETE on .../name[:version];metadata[/<field>],
// spec.md §6's metadata management row. Object-level metadata (no version
// tag) addresses the object's current version, per catalog's
// resolveMetadataTargetTx.
func (s *Server) handleMetadata(ctx context.Context, rc *fasthttp.RequestCtx, method string, pp *ParsedPath, caller authn.Context) error {
	kind := catalog.KindObject
	tag := pp.VersionTag
	if tag != "" {
		kind = catalog.KindVersion
	}
	var field string
	switch len(pp.SubArgs) {
	case 0:
	case 1:
		field = pp.SubArgs[0]
	default:
		return herr.BadRequestf("too many ;metadata path segments")
	}

	switch method {
	case "GET":
		return s.getMetadata(ctx, rc, kind, pp.Path, tag, field, caller)
	case "PUT":
		if s.Config.ReadOnly {
			return herr.Forbiddenf("service is in read-only mode")
		}
		return s.putMetadata(ctx, rc, kind, pp.Path, tag, field, caller)
	case "DELETE":
		if s.Config.ReadOnly {
			return herr.Forbiddenf("service is in read-only mode")
		}
		if field == "" {
			return herr.BadRequestf("DELETE requires a metadata field")
		}
		if err := s.Dir.DeleteMetadataField(ctx, kind, pp.Path, tag, "", field, caller); err != nil {
			return err
		}
		rc.SetStatusCode(fasthttp.StatusNoContent)
		return nil
	default:
		rc.Response.Header.Set("Allow", "GET, PUT, DELETE")
		return herr.New(herr.BadRequest, "method %s not allowed on ;metadata", method)
	}
}

func (s *Server) getMetadata(ctx context.Context, rc *fasthttp.RequestCtx, kind catalog.ResourceKind, path, tag, field string, caller authn.Context) error {
	meta, err := s.Dir.GetMetadata(ctx, kind, path, tag, "", caller)
	if err != nil {
		return err
	}
	if field != "" {
		if _, ok := meta[field]; !ok {
			return herr.NotFoundf("metadata field %q is not set", field)
		}
		rc.SetContentType("text/plain; charset=utf-8")
		rc.SetBodyString(meta.ToHTTP(field))
		return nil
	}
	out := make(map[string]string, len(meta))
	for k := range meta {
		out[k] = meta.ToHTTP(k)
	}
	rc.Response.Header.Set("ETag", `"`+fingerprint.Dict(out)+`"`)
	writeJSON(rc, out)
	return nil
}

func (s *Server) putMetadata(ctx context.Context, rc *fasthttp.RequestCtx, kind catalog.ResourceKind, path, tag, field string, caller authn.Context) error {
	if field == "" {
		return herr.BadRequestf("PUT requires a metadata field")
	}
	body, err := ioutil.ReadAll(rc.RequestBodyStream())
	if err != nil {
		return herr.Wrap(herr.Internal, err, "reading metadata request body")
	}
	value, err := catalog.FromHTTP(field, string(body))
	if err != nil {
		return err
	}
	if err := s.Dir.SetMetadataField(ctx, kind, path, tag, "", field, value, caller); err != nil {
		return err
	}
	rc.SetStatusCode(fasthttp.StatusNoContent)
	return nil
}
