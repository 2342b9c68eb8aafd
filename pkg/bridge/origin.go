package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"

	"golang.org/x/net/idna"
)

// AnyOrigin disables origin filtering when listed explicitly.
const AnyOrigin = "*"

// ErrNoOrigins is returned when a policy would allow nothing.
var ErrNoOrigins = errors.New("bridge: origin allow-list is empty")

// OriginPolicy is an allow-list of sender origins. It can be replaced at
// runtime, e.g. after a config reload.
type OriginPolicy struct {
	mu      sync.RWMutex
	any     bool
	allowed map[string]struct{}
}

// NewOriginPolicy builds a policy from origins such as "https://ui.example.com"
// or "http://localhost:3000". The list must not be empty.
func NewOriginPolicy(origins []string) (*OriginPolicy, error) {
	p := &OriginPolicy{}
	if err := p.Replace(origins); err != nil {
		return nil, err
	}
	return p, nil
}

// Replace swaps the allow-list atomically. On error the old list stays active.
func (p *OriginPolicy) Replace(origins []string) error {
	if len(origins) == 0 {
		return ErrNoOrigins
	}
	allowed := make(map[string]struct{}, len(origins))
	anyOrigin := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == AnyOrigin {
			anyOrigin = true
			continue
		}
		norm, err := NormalizeOrigin(o)
		if err != nil {
			return err
		}
		allowed[norm] = struct{}{}
	}
	if anyOrigin {
		slog.Warn("Bridge: origin policy accepts any origin")
	}

	p.mu.Lock()
	p.any = anyOrigin
	p.allowed = allowed
	p.mu.Unlock()
	return nil
}

// Allowed reports whether messages from origin may be accepted.
func (p *OriginPolicy) Allowed(origin string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.any {
		return true
	}
	norm, err := NormalizeOrigin(origin)
	if err != nil {
		return false
	}
	_, ok := p.allowed[norm]
	return ok
}

// Origins returns the normalized allow-list, sorted.
func (p *OriginPolicy) Origins() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.allowed)+1)
	if p.any {
		out = append(out, AnyOrigin)
	}
	for o := range p.allowed {
		out = append(out, o)
	}
	slices.Sort(out)
	return out
}

// NormalizeOrigin reduces raw to the canonical "scheme://host[:port]" form:
// lowercase scheme, punycode host and no default port. The opaque origin
// "null" is kept as is.
func NormalizeOrigin(raw string) (string, error) {
	if raw == "null" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bridge: invalid origin %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" || u.Host == "" {
		return "", fmt.Errorf("bridge: invalid origin %q: need scheme and host", raw)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fmt.Errorf("bridge: invalid origin %q: only scheme, host and port allowed", raw)
	}

	host := u.Hostname()
	port := u.Port()
	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("bridge: invalid origin host %q: %w", host, err)
		}
		host = ascii
	}
	host = strings.ToLower(host)

	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, nil
}
