// Package urlsafe canonicalizes URLs into their content-addressed identity
// and guards every resolved host against SSRF targets, per spec §4.1.
//
// Grounded on the teacher's internal/crawler/url.go (scheme/host lowering,
// default-port stripping, query-sort shape) generalized to the full rule
// set in original_source/app/services/url_utils.py (tracking-prefix set,
// blocked IP ranges, raw-IP-literal short-circuit).
package urlsafe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/idna"

	"github.com/webextract/service/internal/apierr"
)

// trackingPrefixes and trackingExact together define query parameters
// stripped during canonicalization.
var trackingPrefixes = []string{"utm_"}

var trackingExact = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"ref":     {},
	"ref_src": {},
}

// blockedPrefixes are the IPv4 and IPv6 CIDR ranges a resolved address must not
// fall within, per spec §4.1 rule 6.
var blockedPrefixes = mustParsePrefixes(
	"127.0.0.0/8",
	"169.254.0.0/16",
	"169.254.169.254/32",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"224.0.0.0/4",  // multicast
	"0.0.0.0/32",   // unspecified
	"::1/128",
	"fe80::/10",
	"fc00::/7",
	"fd00:ec2::254/128", // cloud metadata (IPv6)
	"ff00::/8",          // multicast
	"::/128",            // unspecified
)

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic(fmt.Sprintf("urlsafe: bad CIDR %q: %v", c, err))
		}
		out = append(out, p)
	}
	return out
}

var localhostAliases = map[string]struct{}{
	"localhost":          {},
	"localhost.localdomain": {},
	"ip6-localhost":      {},
	"ip6-loopback":       {},
}

// Resolver abstracts DNS lookup so tests can stub resolution without
// touching the network. net.DefaultResolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Normalized is the canonical identity of a web resource.
type Normalized struct {
	Canonical string
	URLHash   string
	Host      string
	Scheme    string
}

// Normalize canonicalizes rawURL (optionally resolved against baseURL) per
// spec §4.1 rules 1-5, without performing the SSRF DNS check (rule 6/7).
// Use CheckSSRF separately once the caller is ready to resolve and fetch.
func Normalize(rawURL, baseURL string) (Normalized, error) {
	target := rawURL
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return Normalized{}, apierr.Wrap(apierr.CodeInvalidURL, "invalid base url", err)
		}
		rel, err := url.Parse(rawURL)
		if err != nil {
			return Normalized{}, apierr.Wrap(apierr.CodeInvalidURL, "invalid url", err)
		}
		target = base.ResolveReference(rel).String()
	}

	u, err := url.Parse(target)
	if err != nil {
		return Normalized{}, apierr.Wrap(apierr.CodeInvalidURL, "could not parse url", err)
	}
	if u.Host == "" {
		return Normalized{}, apierr.New(apierr.CodeInvalidURL, "missing authority")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Normalized{}, apierr.New(apierr.CodeUnsupportedScheme, fmt.Sprintf("unsupported scheme %q", scheme))
	}
	u.Scheme = scheme

	host, err := normalizeHost(u.Hostname())
	if err != nil {
		return Normalized{}, apierr.Wrap(apierr.CodeInvalidURL, "invalid host", err)
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}

	u.Path = normalizePath(u.Path)
	u.RawQuery = normalizeQuery(u.RawQuery)
	u.Fragment = ""
	u.RawFragment = ""

	canonical := u.String()
	hash := sha256.Sum256([]byte(canonical))
	return Normalized{
		Canonical: canonical,
		URLHash:   hex.EncodeToString(hash[:]),
		Host:      host,
		Scheme:    scheme,
	}, nil
}

func normalizeHost(host string) (string, error) {
	host = strings.ToLower(host)
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return host, nil
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		cleaned = "/"
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	// Clean collapses duplicate slashes and resolves . / .. segments, but
	// path.Clean also strips a trailing slash already; re-apply the
	// "strip trailing slash except root" rule explicitly for clarity.
	if cleaned != "/" && strings.HasSuffix(cleaned, "/") {
		cleaned = strings.TrimSuffix(cleaned, "/")
	}
	return cleaned
}

func normalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if isTrackingParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for j, v := range vs {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := trackingExact[lower]; ok {
		return true
	}
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// CheckSSRF resolves host and rejects it if any resolved address (or the
// host itself, if it is a raw IP literal) falls within a blocked range.
// It must be called again after every redirect hop, per spec §4.1.
func CheckSSRF(ctx context.Context, resolver Resolver, host string) error {
	lower := strings.ToLower(host)
	if _, blocked := localhostAliases[lower]; blocked {
		return apierr.New(apierr.CodeSSRFBlocked, "localhost is not a permitted target")
	}

	if addr, err := netip.ParseAddr(trimBrackets(host)); err == nil {
		if addrBlocked(addr) {
			return apierr.New(apierr.CodeSSRFBlocked, "url resolves to a blocked address range")
		}
		return nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return apierr.Wrap(apierr.CodeInvalidURL, "could not resolve host", err)
	}
	if len(addrs) == 0 {
		return apierr.New(apierr.CodeInvalidURL, "host has no addresses")
	}
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if addrBlocked(ip) {
			return apierr.New(apierr.CodeSSRFBlocked, "url resolves to a blocked address range")
		}
	}
	return nil
}

func trimBrackets(host string) string {
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}

func addrBlocked(addr netip.Addr) bool {
	for _, p := range blockedPrefixes {
		if p.Addr().Is4() != addr.Is4() {
			continue
		}
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// DefaultResolver adapts net.DefaultResolver to the Resolver interface.
var DefaultResolver Resolver = net.DefaultResolver
