// Package bridge implements the six stdio/SSE/WebSocket/Streamable HTTP
// transport adapters, plus the CORS, health, and metrics concerns every
// HTTP-facing adapter shares.
package bridge

import (
	"net/http"
	"regexp"
	"strings"
)

// CORSPolicy implements spec's three-way origin match: disabled, allow-all,
// or a mixed list of literal origins and /regex/ patterns. Grounded on the
// teacher's allowlist-based DNSRebindingProtection middleware, generalized
// from exact-match-only to the regex case Supergateway's --cors flag needs.
type CORSPolicy struct {
	enabled  bool
	allowAll bool
	literals map[string]struct{}
	patterns []*regexp.Regexp
}

// NewCORSPolicy builds a policy from the raw --cors flag values. A nil
// slice disables CORS handling entirely; a single empty-string entry means
// allow-all.
func NewCORSPolicy(raw []string) *CORSPolicy {
	if raw == nil {
		return &CORSPolicy{enabled: false}
	}
	p := &CORSPolicy{enabled: true, literals: make(map[string]struct{})}
	for _, entry := range raw {
		switch {
		case entry == "" || entry == "*":
			p.allowAll = true
		case strings.HasPrefix(entry, "/") && strings.HasSuffix(entry, "/") && len(entry) > 1:
			if re, err := regexp.Compile(entry[1 : len(entry)-1]); err == nil {
				p.patterns = append(p.patterns, re)
			}
		default:
			p.literals[entry] = struct{}{}
		}
	}
	return p
}

// Allowed reports whether origin is permitted by the policy. A request with
// no Origin header is always allowed (same-origin, or a non-browser client).
func (p *CORSPolicy) Allowed(origin string) bool {
	if !p.enabled || origin == "" {
		return true
	}
	if p.allowAll {
		return true
	}
	if _, ok := p.literals[origin]; ok {
		return true
	}
	for _, re := range p.patterns {
		if re.MatchString(origin) {
			return true
		}
	}
	return false
}

// Middleware wraps next, rejecting disallowed origins with 403 and setting
// the usual CORS response headers (plus Mcp-Session-Id exposure, needed on
// every Streamable HTTP response) when the origin is allowed.
func (p *CORSPolicy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !p.Allowed(origin) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if p.enabled && origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
			w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
		}
		next.ServeHTTP(w, r)
	})
}
