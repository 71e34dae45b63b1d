package merge

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// trackingParams are dropped from query strings before comparison.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"ref":     {},
	"ref_src": {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"_ga":     {},
	"spm":     {},
}

// NormalizeURL returns the canonical form used to deduplicate results:
// lower-case scheme and host, no default port, no fragment, no tracking
// parameters, sorted query and no trailing slash. Only http and https URLs
// with a host are accepted. NormalizeURL is idempotent.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if _, ok := trackingParams[lower]; ok || strings.HasPrefix(lower, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")

	return u.String(), nil
}

// Domain returns the host of a URL without port and leading "www.".
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
