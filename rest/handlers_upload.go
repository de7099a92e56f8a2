package rest

import (
	"context"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/informatics-isi-edu/hatrac/authn"
	"github.com/informatics-isi-edu/hatrac/catalog"
	"github.com/informatics-isi-edu/hatrac/herr"
)

// createUploadRequest is the JSON body of POST .../name;upload, spec.md
// §6's second contract row.
type createUploadRequest struct {
	ChunkLength        int64  `json:"chunk-length"`
	ContentLength      int64  `json:"content-length"`
	ContentType        string `json:"content-type"`
	ContentMD5         string `json:"content-md5"`
	ContentSHA256      string `json:"content-sha256"`
	ContentDisposition string `json:"content-disposition"`
}

// handleUpload implements the full upload lifecycle: POST to create a job,
// PUT to upload a chunk, POST to finalize, DELETE to cancel.
func (s *Server) handleUpload(ctx context.Context, rc *fasthttp.RequestCtx, method string, pp *ParsedPath, caller authn.Context) error {
	if s.Config.ReadOnly {
		return herr.Forbiddenf("service is in read-only mode")
	}
	switch len(pp.SubArgs) {
	case 0:
		if method != "POST" {
			rc.Response.Header.Set("Allow", "POST")
			return herr.New(herr.BadRequest, "method %s not allowed on ;upload", method)
		}
		return s.createUpload(ctx, rc, pp, caller)
	case 1:
		job := pp.SubArgs[0]
		switch method {
		case "POST":
			return s.finalizeUpload(ctx, rc, pp.Path, job, caller)
		case "DELETE":
			return s.cancelUpload(ctx, rc, pp.Path, job, caller)
		default:
			rc.Response.Header.Set("Allow", "POST, DELETE")
			return herr.New(herr.BadRequest, "method %s not allowed on ;upload/<job>", method)
		}
	case 2:
		job := pp.SubArgs[0]
		position, err := strconv.ParseInt(pp.SubArgs[1], 10, 64)
		if err != nil {
			return herr.BadRequestf("chunk position must be an integer")
		}
		if method != "PUT" {
			rc.Response.Header.Set("Allow", "PUT")
			return herr.New(herr.BadRequest, "method %s not allowed on ;upload/<job>/<n>", method)
		}
		return s.uploadChunk(ctx, rc, pp.Path, job, position, caller)
	default:
		return herr.BadRequestf("too many ;upload path segments")
	}
}

func (s *Server) createUpload(ctx context.Context, rc *fasthttp.RequestCtx, pp *ParsedPath, caller authn.Context) error {
	var req createUploadRequest
	if err := jsoniter.Unmarshal(rc.PostBody(), &req); err != nil {
		return herr.BadRequestf("malformed JSON upload request")
	}
	if req.ChunkLength <= 0 || req.ContentLength <= 0 {
		return herr.BadRequestf("chunk-length and content-length must be positive")
	}

	meta := catalog.Metadata{}
	if req.ContentType != "" {
		if err := meta.Set(catalog.MetaContentType, []byte(req.ContentType)); err != nil {
			return err
		}
	}
	if req.ContentDisposition != "" {
		if err := meta.Set(catalog.MetaContentDisposition, []byte(req.ContentDisposition)); err != nil {
			return err
		}
	}
	if req.ContentMD5 != "" {
		b, err := catalog.FromHTTP(catalog.MetaContentMD5, req.ContentMD5)
		if err != nil {
			return err
		}
		if err := meta.Set(catalog.MetaContentMD5, b); err != nil {
			return err
		}
	}
	if req.ContentSHA256 != "" {
		b, err := catalog.FromHTTP(catalog.MetaContentSHA256, req.ContentSHA256)
		if err != nil {
			return err
		}
		if err := meta.Set(catalog.MetaContentSHA256, b); err != nil {
			return err
		}
	}

	parents := parseBoolQuery(rc, "parents")
	obj, up, err := s.Dir.CreateUpload(ctx, pp.Path, parents, req.ContentLength, req.ChunkLength, meta, caller)
	if err != nil {
		return err
	}
	loc := s.Config.ServicePrefix + obj.Path + ";upload/" + up.JobToken
	rc.Response.Header.Set("Location", loc)
	rc.SetStatusCode(fasthttp.StatusCreated)
	rc.SetContentType("text/plain; charset=utf-8")
	rc.SetBodyString(loc)
	return nil
}

func (s *Server) uploadChunk(ctx context.Context, rc *fasthttp.RequestCtx, path, job string, position int64, caller authn.Context) error {
	nbytes := rc.Request.Header.ContentLength()
	if nbytes < 0 {
		return herr.New(herr.LengthRequired, "Content-Length is required")
	}
	body := rc.RequestBodyStream()
	if err := s.Dir.UploadChunk(ctx, path, job, position, body, int64(nbytes), caller); err != nil {
		return err
	}
	rc.SetStatusCode(fasthttp.StatusNoContent)
	return nil
}

func (s *Server) finalizeUpload(ctx context.Context, rc *fasthttp.RequestCtx, path, job string, caller authn.Context) error {
	obj, ver, err := s.Dir.FinalizeUpload(ctx, path, job, caller)
	if err != nil {
		return err
	}
	loc := s.Config.ServicePrefix + obj.Path + ":" + ver.VersionTag
	rc.Response.Header.Set("Location", loc)
	rc.Response.Header.Set("ETag", `"`+ver.VersionTag+`"`)
	rc.SetStatusCode(fasthttp.StatusCreated)
	rc.SetContentType("text/plain; charset=utf-8")
	rc.SetBodyString(loc)
	return nil
}

func (s *Server) cancelUpload(ctx context.Context, rc *fasthttp.RequestCtx, path, job string, caller authn.Context) error {
	if err := s.Dir.CancelUpload(ctx, path, job, caller); err != nil {
		return err
	}
	rc.SetStatusCode(fasthttp.StatusNoContent)
	return nil
}
