package rest

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

func writeJSONList(rc *fasthttp.RequestCtx, items []string) {
	if items == nil {
		items = []string{}
	}
	raw, _ := jsoniter.Marshal(items)
	rc.SetContentType("application/json")
	rc.SetStatusCode(fasthttp.StatusOK)
	rc.SetBody(raw)
}

func writeJSON(rc *fasthttp.RequestCtx, v interface{}) {
	raw, _ := jsoniter.Marshal(v)
	rc.SetContentType("application/json")
	rc.SetStatusCode(fasthttp.StatusOK)
	rc.SetBody(raw)
}
