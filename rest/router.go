// Package rest implements the HTTP surface (C11) over
// github.com/valyala/fasthttp, translating the path grammar and method
// contracts of spec.md §6 into calls against catalog.Directory. Grounded on
// original_source/hatrac/rest/{core,name,acl,metadata,transfer}.py's
// dispatch structure.
package rest

import (
	"strings"

	"github.com/informatics-isi-edu/hatrac/herr"
)

// Sub names one of the recognized sub-resource suffixes.
type Sub string

const (
	SubNone     Sub = ""
	SubACL      Sub = "acl"
	SubMetadata Sub = "metadata"
	SubVersions Sub = "versions"
	SubUpload   Sub = "upload"
)

// ParsedPath is the decomposition of one request path into a resource path,
// an optional version tag, and an optional sub-resource with its own
// argument segments, matching the grammar:
//
//	"/" segment ( "/" segment )* [ ":" version-tag ] [ ";" sub [ "/" arg ]* ]
type ParsedPath struct {
	Path       string // canonical resource path, e.g. "/a/b"
	VersionTag string // "" unless the final segment carried ":tag"
	Sub        Sub
	SubArgs    []string
}

// ParsePath decomposes raw (already stripped of any configured
// service_prefix) into a ParsedPath, rejecting "." / ".." / empty segments
// and unrecognized sub-resource names.
func ParsePath(raw string) (*ParsedPath, error) {
	if raw == "" || raw[0] != '/' {
		return nil, herr.BadRequestf("path must be absolute")
	}
	resourcePart, subPart := raw, ""
	if idx := strings.IndexByte(raw, ';'); idx >= 0 {
		resourcePart, subPart = raw[:idx], raw[idx+1:]
	}

	path, versionTag := resourcePart, ""
	if idx := strings.LastIndexByte(resourcePart, '/'); idx >= 0 {
		lastSeg := resourcePart[idx+1:]
		if cIdx := strings.IndexByte(lastSeg, ':'); cIdx >= 0 {
			versionTag = lastSeg[cIdx+1:]
			path = resourcePart[:idx+1] + lastSeg[:cIdx]
			if versionTag == "" {
				return nil, herr.BadRequestf("empty version tag")
			}
		}
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}

	p := &ParsedPath{Path: path, VersionTag: versionTag}
	if subPart != "" {
		segs := strings.Split(subPart, "/")
		switch Sub(segs[0]) {
		case SubACL, SubMetadata, SubVersions, SubUpload:
			p.Sub = Sub(segs[0])
		default:
			return nil, herr.BadRequestf("unrecognized sub-resource %q", segs[0])
		}
		p.SubArgs = segs[1:]
	}
	return p, nil
}

func validatePath(path string) error {
	if path == "/" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		return herr.BadRequestf("path must be absolute")
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for _, s := range segs {
		switch s {
		case "", ".", "..":
			return herr.BadRequestf("illegal path segment %q in %q", s, path)
		}
		for _, r := range s {
			if r == ':' || r == ';' || r == '?' {
				return herr.BadRequestf("illegal character %q in path segment %q", r, s)
			}
		}
	}
	return nil
}
