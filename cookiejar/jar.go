// Package cookiejar keeps the cookies a client session receives and picks
// the ones to send with each request.
package cookiejar

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/Jennifer-Brigman/stormhttp/protocol"
)

// Config configures a Jar. The zero value keeps cookies in memory and logs
// nothing.
type Config struct {
	Storage Storage
	Logger  *zerolog.Logger
}

// Jar holds cookies keyed by (domain, path). It is safe for concurrent use.
type Jar struct {
	storage Storage
	logger  *zerolog.Logger

	mu      sync.Mutex
	entries map[scope]*protocol.Cookie
	order   []scope
}

type scope struct {
	domain string
	path   string
}

func New(cfg Config) *Jar {
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	return &Jar{
		storage: cfg.Storage,
		logger:  cfg.Logger,
		entries: make(map[scope]*protocol.Cookie),
	}
}

// Len returns the number of stored (domain, path) entries.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Update stores the cookies a response from u set. A cookie without a
// domain belongs to u's host and one without a path to "/". Cookies for a
// domain u's host does not belong to, or for a public suffix, are dropped.
// An expired cookie removes its names from the stored entry.
func (j *Jar) Update(u *protocol.URL, cookies *protocol.Cookies) {
	host, err := canonicalHost(u.Host)
	if err != nil {
		j.logger.Debug().Err(err).Str("host", u.Host).Msg("cookies from unusable host dropped")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	cookies.Each(func(c *protocol.Cookie) {
		domain, ok := j.cookieDomain(host, c.Domain())
		if !ok {
			return
		}
		path := c.Path()
		if path == "" || path[0] != '/' {
			path = "/"
		}
		j.store(scope{domain, path}, c)
	})
}

// cookieDomain returns the domain to store a cookie set by host under.
func (j *Jar) cookieDomain(host string, domain string) (string, bool) {
	if domain == "" {
		return host, true
	}
	domain, err := canonicalHost(strings.TrimPrefix(domain, "."))
	if err != nil {
		j.logger.Debug().Err(err).Str("domain", domain).Msg("cookie with invalid domain rejected")
		return "", false
	}
	if domain == host {
		return domain, true
	}
	if net.ParseIP(host) != nil || !protocol.DomainMatch(host, domain) {
		j.logger.Debug().Str("host", host).Str("domain", domain).Msg("cookie for foreign domain rejected")
		return "", false
	}
	if suffix, _ := publicsuffix.PublicSuffix(domain); suffix == domain {
		j.logger.Debug().Str("domain", domain).Msg("cookie for public suffix rejected")
		return "", false
	}
	return domain, true
}

func (j *Jar) store(key scope, c *protocol.Cookie) {
	stored := j.entries[key]
	if c.IsExpired() {
		if stored == nil {
			return
		}
		for _, name := range c.Names() {
			stored.Del(name)
		}
		if stored.Len() == 0 {
			j.remove(key)
		}
		return
	}

	fresh := protocol.NewCookie(key.domain, key.path)
	if stored != nil {
		for _, name := range stored.Names() {
			v, _ := stored.Get(name)
			fresh.Set(name, v)
		}
	} else {
		j.order = append(j.order, key)
	}
	for _, name := range c.Names() {
		v, _ := c.Get(name)
		fresh.Set(name, v)
	}
	if t, ok := c.ExpiresAt(); ok {
		fresh.SetExpires(t)
	}
	fresh.SetHttpOnly(c.HttpOnly())
	fresh.SetSecure(c.Secure())
	fresh.SetSameSite(c.SameSite())
	j.entries[key] = fresh
}

func (j *Jar) remove(key scope) {
	delete(j.entries, key)
	for i, k := range j.order {
		if k == key {
			j.order = append(j.order[:i], j.order[i+1:]...)
			return
		}
	}
}

// CookiesFor returns copies of the unexpired cookies that may be sent to u,
// in the order they were first stored.
func (j *Jar) CookiesFor(u *protocol.URL) []*protocol.Cookie {
	host, err := canonicalHost(u.Host)
	if err != nil {
		return nil
	}
	target := *u
	target.Host = host

	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*protocol.Cookie
	var expired []scope
	for _, key := range j.order {
		c := j.entries[key]
		if c.IsExpired() {
			expired = append(expired, key)
			continue
		}
		if c.AllowedFor(&target) {
			out = append(out, c.Clone())
		}
	}
	for _, key := range expired {
		j.remove(key)
	}
	return out
}

// Load replaces the jar's contents with what the storage holds.
func (j *Jar) Load(ctx context.Context) error {
	cookies, err := j.storage.Load(ctx)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make(map[scope]*protocol.Cookie, len(cookies))
	j.order = j.order[:0]
	for _, c := range cookies {
		if c.IsExpired() {
			continue
		}
		key := scope{c.Domain(), c.Path()}
		if _, dup := j.entries[key]; !dup {
			j.order = append(j.order, key)
		}
		j.entries[key] = c
	}
	j.logger.Debug().Int("entries", len(j.entries)).Msg("cookie jar loaded")
	return nil
}

// Save writes the unexpired cookies to the storage.
func (j *Jar) Save(ctx context.Context) error {
	j.mu.Lock()
	cookies := make([]*protocol.Cookie, 0, len(j.order))
	for _, key := range j.order {
		if c := j.entries[key]; !c.IsExpired() {
			cookies = append(cookies, c.Clone())
		}
	}
	j.mu.Unlock()

	return j.storage.Save(ctx, cookies)
}

// canonicalHost lowercases host and converts it to its ASCII form.
func canonicalHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if net.ParseIP(host) != nil {
		return host, nil
	}
	return idna.Lookup.ToASCII(host)
}
