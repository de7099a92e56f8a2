package rest

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/informatics-isi-edu/hatrac/herr"
)

// writeError renders err as the edge-level 1:1 Kind→status translation
// named in spec.md §7. Only this function inspects herr.Kind; everywhere
// else in rest deals in errors, not status codes.
func writeError(ctx *fasthttp.RequestCtx, log *logrus.Entry, err error) {
	kind := herr.KindOf(err)
	status := kind.HTTPStatus()
	ctx.SetStatusCode(status)
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetBodyString(err.Error() + "\n")
	entry := log
	if status >= 500 {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Warn("request rejected")
	}
}

// requestID mints (or, if the spec'd trusted-proxy header is present,
// passes through) a per-request identifier for the structured log line,
// matching the original's request_id generation in rest/core.py.
func requestID(ctx *fasthttp.RequestCtx) string {
	if id := ctx.Request.Header.Peek("X-Request-Id"); len(id) > 0 {
		return string(id)
	}
	return uuid.New().String()
}
