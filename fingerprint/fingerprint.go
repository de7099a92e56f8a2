// Package fingerprint provides deterministic, order-independent hashing used
// to construct HTTP ETags for ACL lists, metadata maps, namespace child
// listings, and version tags. See original_source/hatrac/rest/core.py's
// hash_value/hash_list/hash_dict for the algorithm this reproduces.
package fingerprint

import (
	"crypto/md5"
	"encoding/base64"
	"sort"
)

// Value returns the base64-encoded MD5 digest of the UTF-8 bytes of s.
func Value(s string) string {
	sum := md5.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// List returns a fingerprint of a set of strings that is stable regardless
// of input order or duplicate entries: elements are de-duplicated, sorted,
// then hashed together.
func List(items []string) string {
	seen := make(map[string]struct{}, len(items))
	uniq := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		uniq = append(uniq, it)
	}
	sort.Strings(uniq)
	h := md5.New()
	for _, it := range uniq {
		h.Write([]byte(it))
		h.Write([]byte{0})
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Dict returns a fingerprint of a map that is stable regardless of key
// iteration order: each entry is folded into a single "hash(k)+hash(v)"
// token, and the resulting token set is hashed with List.
func Dict(m map[string]string) string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Value(k)+Value(v))
	}
	return List(pairs)
}
