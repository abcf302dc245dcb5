package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Fingerprint derives the deduplication key for a (kind, content, persona)
// tuple. Equal logical requests always hash to the same value; different
// personas over the same content never collide. Text is hashed in full, never
// truncated to a prefix, so prefix-equal submissions stay distinct.
func Fingerprint(kind Kind, content, persona string) string {
	key := content
	if kind == KindURL {
		key = NormalizeURL(content)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", kind, strings.ToLower(strings.TrimSpace(persona)), key)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL canonicalizes a URL so trivially different spellings of the
// same address share a fingerprint. Invalid URLs are returned trimmed; the
// admission path validates them separately.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}
