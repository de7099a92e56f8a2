package rest

import (
	"strconv"
	"strings"

	"context"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/informatics-isi-edu/hatrac/authn"
	"github.com/informatics-isi-edu/hatrac/catalog"
	"github.com/informatics-isi-edu/hatrac/fingerprint"
	"github.com/informatics-isi-edu/hatrac/herr"
	"github.com/informatics-isi-edu/hatrac/storage"
)

const namespaceContentType = "application/x-hatrac-namespace"

// handleName implements PUT/GET/HEAD/DELETE on a bare name or name:version,
// spec.md §6's first and sixth/seventh contract rows.
func (s *Server) handleName(ctx context.Context, rc *fasthttp.RequestCtx, log *logrus.Entry, method string, pp *ParsedPath, caller authn.Context) error {
	switch method {
	case "PUT":
		return s.putName(ctx, rc, pp, caller)
	case "GET", "HEAD":
		return s.getName(ctx, rc, pp, caller, method == "HEAD")
	case "DELETE":
		return s.deleteName(ctx, rc, pp, caller)
	default:
		rc.Response.Header.Set("Allow", "PUT, GET, HEAD, DELETE")
		return herr.New(herr.BadRequest, "method %s not allowed on a name", method)
	}
}

func (s *Server) putName(ctx context.Context, rc *fasthttp.RequestCtx, pp *ParsedPath, caller authn.Context) error {
	if pp.VersionTag != "" {
		return herr.BadRequestf("cannot PUT directly to a specific version tag")
	}
	parents := parseBoolQuery(rc, "parents")

	contentType := string(rc.Request.Header.ContentType())
	if strings.HasPrefix(contentType, namespaceContentType) {
		n, err := s.Dir.CreateName(ctx, pp.Path, catalog.SubtypeNamespace, parents, caller)
		if err != nil {
			return err
		}
		rc.Response.Header.Set("Location", s.Config.ServicePrefix+n.Path)
		rc.SetStatusCode(fasthttp.StatusCreated)
		return nil
	}

	nbytes := rc.Request.Header.ContentLength()
	if nbytes < 0 {
		return herr.New(herr.LengthRequired, "Content-Length is required")
	}
	if s.Config.MaxRequestPayloadSize > 0 && int64(nbytes) > s.Config.MaxRequestPayloadSize {
		return herr.New(herr.PayloadTooLarge, "request body exceeds max_request_payload_size")
	}
	if s.Config.ReadOnly {
		return herr.Forbiddenf("service is in read-only mode")
	}

	meta, err := metadataFromHeaders(rc)
	if err != nil {
		return err
	}

	body := rc.RequestBodyStream()
	obj, ver, err := s.Dir.PutObject(ctx, pp.Path, parents, body, int64(nbytes), meta, caller)
	if err != nil {
		return err
	}
	rc.Response.Header.Set("Location", s.Config.ServicePrefix+obj.Path+":"+ver.VersionTag)
	rc.Response.Header.Set("ETag", `"`+ver.VersionTag+`"`)
	rc.SetStatusCode(fasthttp.StatusCreated)
	return nil
}

func (s *Server) getName(ctx context.Context, rc *fasthttp.RequestCtx, pp *ParsedPath, caller authn.Context, headOnly bool) error {
	rng, err := parseRange(rc)
	if err != nil {
		return err
	}

	_, ver, content, err := s.Dir.ReadContent(ctx, pp.Path, pp.VersionTag, rng, caller)
	if err != nil {
		return err
	}

	etag := `"` + ver.VersionTag + `"`
	if inm := string(rc.Request.Header.Peek("If-None-Match")); inm != "" && matchesETag(inm, etag) {
		rc.SetStatusCode(fasthttp.StatusNotModified)
		return nil
	}
	if im := string(rc.Request.Header.Peek("If-Match")); im != "" && !matchesETag(im, etag) {
		return herr.New(herr.PreconditionFailed, "If-Match precondition failed")
	}

	rc.Response.Header.Set("ETag", etag)
	if ct := ver.Metadata.ToHTTP(catalog.MetaContentType); ct != "" {
		rc.Response.Header.SetContentType(ct)
	}
	if cd := ver.Metadata.ToHTTP(catalog.MetaContentDisposition); cd != "" {
		rc.Response.Header.Set("Content-Disposition", cd)
	}

	if content.Redirect != nil {
		rc.Response.Header.Set("Location", content.Redirect.URL)
		rc.SetStatusCode(fasthttp.StatusSeeOther)
		return nil
	}

	if rng != nil {
		rc.Response.Header.Set("Content-Range", "bytes "+strconv.FormatInt(rng.Start, 10)+"-"+strconv.FormatInt(rng.Stop-1, 10)+"/"+strconv.FormatInt(ver.NBytes, 10))
		rc.SetStatusCode(fasthttp.StatusPartialContent)
	} else {
		rc.SetStatusCode(fasthttp.StatusOK)
	}
	rc.Response.Header.SetContentLength(int(content.NBytes))
	if headOnly {
		// The client gets no body; close the stream ourselves since
		// SetBodyStream, which would otherwise take over closing it, is
		// never called.
		return content.Body.Close()
	}
	// fasthttp closes bodyStream (it implements io.Closer) once the
	// response has been fully written, so no explicit Close here.
	rc.SetBodyStream(content.Body, int(content.NBytes))
	return nil
}

func (s *Server) deleteName(ctx context.Context, rc *fasthttp.RequestCtx, pp *ParsedPath, caller authn.Context) error {
	if s.Config.ReadOnly {
		return herr.Forbiddenf("service is in read-only mode")
	}
	var cleanup func(context.Context) error
	var err error
	if pp.VersionTag != "" {
		cleanup, err = s.Dir.DeleteVersion(ctx, pp.Path, pp.VersionTag, caller)
	} else {
		cleanup, err = s.Dir.DeleteName(ctx, pp.Path, caller)
	}
	if err != nil {
		return err
	}
	if err := cleanup(ctx); err != nil {
		return err
	}
	rc.SetStatusCode(fasthttp.StatusNoContent)
	return nil
}

// handleVersions implements GET .../name;versions.
func (s *Server) handleVersions(ctx context.Context, rc *fasthttp.RequestCtx, method string, pp *ParsedPath, caller authn.Context) error {
	if method != "GET" {
		rc.Response.Header.Set("Allow", "GET")
		return herr.New(herr.BadRequest, "method %s not allowed on ;versions", method)
	}
	obj, versions, err := s.Dir.EnumerateVersions(ctx, pp.Path, caller)
	if err != nil {
		return err
	}
	tags := make([]string, 0, len(versions))
	for _, v := range versions {
		tags = append(tags, obj.Path+":"+v.VersionTag)
	}
	rc.Response.Header.Set("ETag", `"`+fingerprint.List(tags)+`"`)
	writeJSONList(rc, tags)
	return nil
}

func metadataFromHeaders(rc *fasthttp.RequestCtx) (catalog.Metadata, error) {
	meta := catalog.Metadata{}
	if ct := string(rc.Request.Header.ContentType()); ct != "" && ct != "application/octet-stream" {
		if err := meta.Set(catalog.MetaContentType, []byte(ct)); err != nil {
			return nil, err
		}
	}
	if cd := string(rc.Request.Header.Peek("Content-Disposition")); cd != "" {
		if err := meta.Set(catalog.MetaContentDisposition, []byte(cd)); err != nil {
			return nil, err
		}
	}
	if md5 := string(rc.Request.Header.Peek("Content-MD5")); md5 != "" {
		b, err := catalog.FromHTTP(catalog.MetaContentMD5, md5)
		if err != nil {
			return nil, err
		}
		if err := meta.Set(catalog.MetaContentMD5, b); err != nil {
			return nil, err
		}
	}
	if sha := string(rc.Request.Header.Peek("Content-SHA256")); sha != "" {
		b, err := catalog.FromHTTP(catalog.MetaContentSHA256, sha)
		if err != nil {
			return nil, err
		}
		if err := meta.Set(catalog.MetaContentSHA256, b); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// parseRange parses a single "bytes=a-b" Range header, per spec.md §6's
// "supports a single range" contract; multiple comma-separated ranges are
// rejected with BadRange rather than silently served as the whole entity.
func parseRange(rc *fasthttp.RequestCtx) (*storage.Range, error) {
	h := string(rc.Request.Header.Peek("Range"))
	if h == "" {
		return nil, nil
	}
	if !strings.HasPrefix(h, "bytes=") {
		return nil, herr.New(herr.BadRange, "unsupported Range unit")
	}
	spec := strings.TrimPrefix(h, "bytes=")
	if strings.Contains(spec, ",") {
		return nil, herr.New(herr.BadRange, "only a single byte range is supported")
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, herr.New(herr.BadRange, "malformed Range header")
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	stop, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || start < 0 || stop < start {
		return nil, herr.New(herr.BadRange, "malformed Range header")
	}
	return &storage.Range{Start: start, Stop: stop + 1}, nil
}

func matchesETag(header, etag string) bool {
	for _, tok := range strings.Split(header, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "*" || tok == etag {
			return true
		}
	}
	return false
}
