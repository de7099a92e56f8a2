package catalog

import (
	"context"

	"github.com/informatics-isi-edu/hatrac/herr"
	"github.com/informatics-isi-edu/hatrac/storage"
)

// ReadContent resolves path (optionally pinned to tag) and, after enforcing
// read access, streams the requested byte range from the bulk backend. A
// nil rng means "the whole entity". This is the single seam the rest
// package uses for GET/HEAD bodies, keeping storage.Backend entirely
// unreachable from the HTTP layer.
func (d *Directory) ReadContent(ctx context.Context, path, tag string, rng *storage.Range, caller ClientContext) (*Name, *Version, *storage.Content, error) {
	var obj *Name
	var ver *Version
	var err error
	if tag == "" {
		obj, ver, err = d.ResolveCurrentVersion(ctx, path, caller)
	} else {
		obj, ver, err = d.ResolveVersion(ctx, path, tag, caller)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	rawMeta := map[string][]byte(ver.Metadata)
	content, err := d.backend.GetContentRange(ctx, obj.Path, ver.VersionTag, rawMeta, rng, nil)
	if err != nil {
		if herr.Is(err, herr.ObjectVersionMissing) {
			return nil, nil, nil, herr.NotFoundf("version bytes are missing from every configured backend")
		}
		return nil, nil, nil, err
	}
	return obj, ver, content, nil
}
