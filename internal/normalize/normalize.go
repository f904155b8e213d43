// Package normalize canonicalizes raw domain strings.
//
// Every component that compares domains (feed parsing, whitelist matching,
// ledger keys, registry keys) must go through Domain so that the same site
// never appears under two spellings.
package normalize

import "strings"

// Domain canonicalizes a raw domain string: trim whitespace, lowercase,
// drop a scheme:// prefix, drop anything after the first path separator,
// strip one leading "www.", strip trailing dots.
// Pure function, idempotent: Domain(Domain(x)) == Domain(x).
func Domain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))

	// Drop scheme prefix (http://, https://, anything://).
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}

	// Keep only the host portion.
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}

	d = strings.TrimPrefix(d, "www.")
	return strings.TrimRight(d, ".")
}
