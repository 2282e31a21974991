package catalog

import (
	"net/url"
	"strings"
)

// URLPolicy accepts product URLs only from allow-listed marketplaces
type URLPolicy struct {
	domains []string
}

// NewURLPolicy builds a policy from domain substrings such as "rakuten.co.jp"
func NewURLPolicy(domains []string) URLPolicy {
	p := URLPolicy{}
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			p.domains = append(p.domains, d)
		}
	}
	return p
}

// Sanitize returns the URL when it is an http(s) link on an allowed
// marketplace, and "" otherwise
func (p URLPolicy) Sanitize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range p.domains {
		if strings.Contains(host, d) {
			return raw, true
		}
	}
	return "", false
}
