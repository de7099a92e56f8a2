package catalog

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/informatics-isi-edu/hatrac/herr"
)

// Recognized metadata keys. Any other key is a BadRequest.
const (
	MetaContentType        = "content-type"
	MetaContentDisposition = "content-disposition"
	MetaContentMD5         = "content-md5"
	MetaContentSHA256      = "content-sha256"
)

var metadataKeys = map[string]struct{}{
	MetaContentType:        {},
	MetaContentDisposition: {},
	MetaContentMD5:         {},
	MetaContentSHA256:      {},
}

// writeOnceKeys are binary digest fields that may be set exactly once; a
// second write with different bytes fails Conflict, but a byte-identical
// re-PUT is accepted as an idempotent no-op (Design Note (c)).
var writeOnceKeys = map[string]struct{}{
	MetaContentMD5:    {},
	MetaContentSHA256: {},
}

var contentDispositionRe = regexp.MustCompile(`^filename\*=UTF-8''([A-Za-z0-9\-_.~]|%[0-9A-Fa-f]{2})+$`)

// Metadata is the closed-key-set attribute map carried by objects, versions,
// and uploads. Binary fields (content-md5, content-sha256) are stored as raw
// bytes internally and externalised as hex (SQL/JSON column) or base64
// (HTTP) on the way in and out.
type Metadata map[string][]byte

// ValidateKey rejects any key outside the closed recognized set.
func ValidateKey(key string) error {
	if _, ok := metadataKeys[key]; !ok {
		return herr.BadRequestf("unrecognized metadata key %q", key)
	}
	return nil
}

// ValidateValue applies the per-key grammar check: only content-disposition
// is constrained beyond being present.
func ValidateValue(key string, value []byte) error {
	if key == MetaContentDisposition {
		if !contentDispositionRe.Match(value) {
			return herr.BadRequestf("content-disposition must match filename*=UTF-8''<pct-encoded> with no / or \\ after decoding")
		}
		encoded := strings.TrimPrefix(string(value), "filename*=UTF-8''")
		decoded, err := url.QueryUnescape(encoded)
		if err != nil {
			return herr.BadRequestf("content-disposition filename is not validly percent-encoded")
		}
		if strings.ContainsAny(decoded, "/\\") {
			return herr.BadRequestf("content-disposition must match filename*=UTF-8''<pct-encoded> with no / or \\ after decoding")
		}
	}
	return nil
}

// Set applies a single metadata write, enforcing the write-once rule for
// content-md5/content-sha256: a second write is only permitted if the new
// bytes equal the bytes already stored.
func (m Metadata) Set(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateValue(key, value); err != nil {
		return err
	}
	if _, writeOnce := writeOnceKeys[key]; writeOnce {
		if existing, ok := m[key]; ok {
			if !bytes.Equal(existing, value) {
				return herr.Conflictf("%s is write-once and already set", key)
			}
			return nil // idempotent no-op re-set of identical bytes
		}
	}
	m[key] = value
	return nil
}

// ToSQL serializes Metadata into the hex-coded JSON representation stored in
// the version/upload "metadata jsonb" column.
func (m Metadata) ToSQL() ([]byte, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if _, binary := writeOnceKeys[k]; binary {
			out[k] = hex.EncodeToString(v)
		} else {
			out[k] = string(v)
		}
	}
	return jsoniter.Marshal(out)
}

// MetadataFromSQL deserializes the hex-coded JSON representation back into
// Metadata.
func MetadataFromSQL(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{}, nil
	}
	var in map[string]string
	if err := jsoniter.Unmarshal(raw, &in); err != nil {
		return nil, herr.Wrap(herr.Internal, err, "decoding metadata column")
	}
	m := make(Metadata, len(in))
	for k, v := range in {
		if _, binary := writeOnceKeys[k]; binary {
			b, err := hex.DecodeString(v)
			if err != nil {
				return nil, herr.Wrap(herr.Internal, err, "decoding hex metadata %s", k)
			}
			m[k] = b
		} else {
			m[k] = []byte(v)
		}
	}
	return m, nil
}

// ToHTTP renders a single metadata value for the HTTP wire: base64 for
// binary digest fields, raw UTF-8 text otherwise.
func (m Metadata) ToHTTP(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if _, binary := writeOnceKeys[key]; binary {
		return base64.StdEncoding.EncodeToString(v)
	}
	return string(v)
}

// decodeBinary accepts either base64 or hex encoding for a digest field,
// matching the original's _make_bin_decoder(nbytes) permissiveness on input.
func decodeBinary(key string, s string, expectBytes int) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && (expectBytes == 0 || len(b) == expectBytes) {
		return b, nil
	}
	if b, err := hex.DecodeString(s); err == nil && (expectBytes == 0 || len(b) == expectBytes) {
		return b, nil
	}
	return nil, herr.BadRequestf("%s must be %d bytes, base64- or hex-encoded", key, expectBytes)
}

// FromHTTP parses a single metadata value received over HTTP into internal
// byte form.
func FromHTTP(key, value string) ([]byte, error) {
	switch key {
	case MetaContentMD5:
		return decodeBinary(key, value, 16)
	case MetaContentSHA256:
		return decodeBinary(key, value, 32)
	default:
		return []byte(value), nil
	}
}
