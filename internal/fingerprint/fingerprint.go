// Package fingerprint derives stable identities for articles and
// defines the store that remembers which identities have already been
// delivered. The store's atomic check-and-insert is what makes
// delivery exactly-once per fingerprint.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/linnemanlabs/clarion/internal/news"
)

// From derives the fingerprint for an article: SHA-1 of the normalized
// URL, or of source+title when the article has no usable URL. Two
// fetches of the same republish map to the same fingerprint; fetch
// timestamps and other volatile fields never participate.
func From(a *news.Article) string {
	base := normalizeURL(a.URL)
	if base == "" {
		base = a.Source + "-" + news.NormalizeText(a.Title)
	}
	sum := sha1.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

// normalizeURL canonicalizes the stable parts of a URL: scheme and
// host are case-folded, the fragment is dropped, and a trailing slash
// on the path is removed. Returns "" for absent or unparseable URLs so
// the caller falls back to source+title identity.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
