package ws

import (
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open a live-update
// connection. An origin passes if it matches an allow-list entry exactly,
// or if its scheme and host match those of an entry, ignoring case and any
// path. Requests without an Origin header are refused. In bypass mode every
// request passes.
type OriginPolicy struct {
	origins map[string]bool
	sites   map[string]bool
	bypass  bool
}

func NewOriginPolicy(allowed []string, bypass bool) *OriginPolicy {
	p := &OriginPolicy{
		origins: make(map[string]bool),
		sites:   make(map[string]bool),
		bypass:  bypass,
	}
	for _, origin := range allowed {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		p.origins[trimmed] = true
		if key, ok := siteKey(trimmed); ok {
			p.sites[key] = true
		}
	}
	return p
}

func (p *OriginPolicy) Allowed(origin string) bool {
	if p.bypass {
		return true
	}
	if origin == "" {
		return false
	}
	if p.origins[origin] {
		return true
	}
	key, ok := siteKey(origin)
	return ok && p.sites[key]
}

// siteKey is the lowercased scheme://host of origin.
func siteKey(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host), true
}

func (p *OriginPolicy) Bypassed() bool {
	return p.bypass
}
