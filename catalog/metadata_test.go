package catalog

import (
	"bytes"
	"testing"

	"github.com/informatics-isi-edu/hatrac/herr"
)

func TestMetadataSetRejectsUnknownKey(t *testing.T) {
	m := Metadata{}
	if err := m.Set("x-bogus", []byte("v")); herr.KindOf(err) != herr.BadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestMetadataWriteOnceAllowsIdenticalResubmit(t *testing.T) {
	m := Metadata{}
	digest := bytes.Repeat([]byte{0xAB}, 16)
	if err := m.Set(MetaContentMD5, digest); err != nil {
		t.Fatalf("initial set failed: %v", err)
	}
	if err := m.Set(MetaContentMD5, digest); err != nil {
		t.Fatalf("byte-identical re-set should be a no-op, got: %v", err)
	}
}

func TestMetadataWriteOnceRejectsChangedResubmit(t *testing.T) {
	m := Metadata{}
	first := bytes.Repeat([]byte{0xAB}, 16)
	second := bytes.Repeat([]byte{0xCD}, 16)
	if err := m.Set(MetaContentMD5, first); err != nil {
		t.Fatalf("initial set failed: %v", err)
	}
	err := m.Set(MetaContentMD5, second)
	if herr.KindOf(err) != herr.Conflict {
		t.Fatalf("expected Conflict on changed write-once field, got %v", err)
	}
}

func TestMetadataSQLRoundTrip(t *testing.T) {
	m := Metadata{
		MetaContentType: []byte("text/plain"),
		MetaContentMD5:  bytes.Repeat([]byte{0x01}, 16),
	}
	raw, err := m.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}
	back, err := MetadataFromSQL(raw)
	if err != nil {
		t.Fatalf("MetadataFromSQL failed: %v", err)
	}
	if string(back[MetaContentType]) != "text/plain" {
		t.Fatalf("content-type round-trip mismatch: %q", back[MetaContentType])
	}
	if !bytes.Equal(back[MetaContentMD5], m[MetaContentMD5]) {
		t.Fatalf("content-md5 round-trip mismatch: %x != %x", back[MetaContentMD5], m[MetaContentMD5])
	}
}

func TestMetadataHTTPRoundTrip(t *testing.T) {
	digest := bytes.Repeat([]byte{0x7F}, 32)
	m := Metadata{MetaContentSHA256: digest}
	wire := m.ToHTTP(MetaContentSHA256)
	back, err := FromHTTP(MetaContentSHA256, wire)
	if err != nil {
		t.Fatalf("FromHTTP failed: %v", err)
	}
	if !bytes.Equal(back, digest) {
		t.Fatalf("content-sha256 HTTP round-trip mismatch: %x != %x", back, digest)
	}
}

func TestMetadataFromHTTPRejectsWrongLength(t *testing.T) {
	if _, err := FromHTTP(MetaContentMD5, "dGVzdA=="); err == nil {
		t.Fatal("expected a length-mismatch error decoding a 4-byte value as content-md5")
	}
}

func TestValidateValueContentDisposition(t *testing.T) {
	if err := ValidateValue(MetaContentDisposition, []byte("filename*=UTF-8''report.pdf")); err != nil {
		t.Fatalf("valid content-disposition rejected: %v", err)
	}
	if err := ValidateValue(MetaContentDisposition, []byte("report.pdf")); err == nil {
		t.Fatal("expected rejection of a content-disposition missing the filename*=UTF-8'' prefix")
	}
}

func TestValidateValueContentDispositionRejectsEncodedSlash(t *testing.T) {
	if err := ValidateValue(MetaContentDisposition, []byte("filename*=UTF-8''a%2Fb")); herr.KindOf(err) != herr.BadRequest {
		t.Fatalf("expected BadRequest for a filename that decodes to contain a slash, got %v", err)
	}
	if err := ValidateValue(MetaContentDisposition, []byte("filename*=UTF-8''a%5Cb")); herr.KindOf(err) != herr.BadRequest {
		t.Fatalf("expected BadRequest for a filename that decodes to contain a backslash, got %v", err)
	}
}
