package protocol

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the RFC 1123 layout used for Date, Expires and
// Last-Modified values.
const TimeFormat = http.TimeFormat

var timeNow = time.Now

// Cookie is a bag of name/value pairs sharing one (domain, path) scope and
// one set of attributes.
type Cookie struct {
	domain string
	path   string

	names  []string
	values map[string]string

	expires     time.Time
	maxAge      int
	hasMaxAge   bool
	maxAgeSetAt time.Time
	httpOnly    bool
	secure      bool
	sameSite    string

	changed bool
}

// NewCookie returns an empty cookie scoped to domain and path. Empty strings
// leave the scope unrestricted.
func NewCookie(domain string, path string) *Cookie {
	return &Cookie{domain: domain, path: path, values: make(map[string]string)}
}

func (c *Cookie) Domain() string { return c.domain }
func (c *Cookie) Path() string   { return c.path }

// Len returns the number of name/value pairs.
func (c *Cookie) Len() int { return len(c.names) }

// Names returns the pair names in insertion order.
func (c *Cookie) Names() []string { return append([]string(nil), c.names...) }

func (c *Cookie) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Set stores a pair and marks the cookie as changed.
func (c *Cookie) Set(name string, value string) {
	c.put(name, value)
	c.changed = true
}

func (c *Cookie) put(name string, value string) {
	if c.values == nil {
		c.values = make(map[string]string)
	}
	if _, ok := c.values[name]; !ok {
		c.names = append(c.names, name)
	}
	c.values[name] = value
}

func (c *Cookie) Del(name string) {
	if _, ok := c.values[name]; !ok {
		return
	}
	delete(c.values, name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			break
		}
	}
	c.changed = true
}

func (c *Cookie) Expires() time.Time { return c.expires }

func (c *Cookie) SetExpires(t time.Time) {
	if !t.Equal(c.expires) {
		c.changed = true
	}
	c.expires = t
}

// MaxAge returns the max-age in seconds and whether one is set.
func (c *Cookie) MaxAge() (int, bool) { return c.maxAge, c.hasMaxAge }

// SetMaxAge sets the max-age and records the moment it was set; expiry is
// counted from that moment.
func (c *Cookie) SetMaxAge(seconds int) {
	c.maxAge, c.hasMaxAge, c.maxAgeSetAt = seconds, true, timeNow()
	c.changed = true
}

func (c *Cookie) ClearMaxAge() {
	if c.hasMaxAge {
		c.changed = true
	}
	c.maxAge, c.hasMaxAge = 0, false
}

func (c *Cookie) HttpOnly() bool { return c.httpOnly }

func (c *Cookie) SetHttpOnly(on bool) {
	c.changed = c.changed || c.httpOnly != on
	c.httpOnly = on
}

func (c *Cookie) Secure() bool { return c.secure }

func (c *Cookie) SetSecure(on bool) {
	c.changed = c.changed || c.secure != on
	c.secure = on
}

func (c *Cookie) SameSite() string { return c.sameSite }

func (c *Cookie) SetSameSite(mode string) {
	c.changed = c.changed || c.sameSite != mode
	c.sameSite = mode
}

// Changed reports whether the cookie was modified since it was parsed.
// Only changed cookies are emitted as Set-Cookie lines.
func (c *Cookie) Changed() bool { return c.changed }

// Expire makes the cookie expired right away and blanks every value.
func (c *Cookie) Expire() {
	c.expires = time.Unix(0, 0).UTC()
	c.maxAge, c.hasMaxAge, c.maxAgeSetAt = 0, true, timeNow()
	for name := range c.values {
		c.values[name] = ""
	}
	c.changed = true
}

// ExpiresAt returns when the cookie expires: the earlier of Expires and
// set-at + max-age. ok is false when neither is set.
func (c *Cookie) ExpiresAt() (t time.Time, ok bool) {
	if c.hasMaxAge {
		t, ok = c.maxAgeSetAt.Add(time.Duration(c.maxAge)*time.Second), true
	}
	if !c.expires.IsZero() && (!ok || c.expires.Before(t)) {
		t, ok = c.expires, true
	}
	return t, ok
}

func (c *Cookie) IsExpired() bool { return c.IsExpiredAt(timeNow()) }

func (c *Cookie) IsExpiredAt(now time.Time) bool {
	t, ok := c.ExpiresAt()
	return ok && now.After(t)
}

// AllowedFor reports whether the cookie may be sent to u.
func (c *Cookie) AllowedFor(u *URL) bool {
	if c.secure && !u.IsSecure() {
		return false
	}
	if c.domain != "" && !DomainMatch(u.Host, c.domain) {
		return false
	}
	if c.path != "" && !strings.HasPrefix(u.Path, c.path) {
		return false
	}
	return true
}

// DomainMatch reports whether host equals domain or is a subdomain of it.
// Labels are compared right to left; the empty label left by a leading dot
// in domain is ignored.
func DomainMatch(host string, domain string) bool {
	hostLabels := strings.Split(strings.ToLower(host), ".")
	domainLabels := strings.Split(strings.ToLower(domain), ".")
	if domainLabels[0] == "" {
		domainLabels = domainLabels[1:]
	}
	if len(domainLabels) == 0 || len(domainLabels) > len(hostLabels) {
		return false
	}
	for i := 1; i <= len(domainLabels); i++ {
		if hostLabels[len(hostLabels)-i] != domainLabels[len(domainLabels)-i] {
			return false
		}
	}
	return true
}

// Equal compares pairs and attributes. The changed flag and the max-age
// set-at moment are not compared.
func (c *Cookie) Equal(o *Cookie) bool {
	if c.domain != o.domain || c.path != o.path || len(c.names) != len(o.names) {
		return false
	}
	for i, name := range c.names {
		if o.names[i] != name || o.values[name] != c.values[name] {
			return false
		}
	}
	return c.expires.Equal(o.expires) && c.maxAge == o.maxAge && c.hasMaxAge == o.hasMaxAge &&
		c.httpOnly == o.httpOnly && c.secure == o.secure && c.sameSite == o.sameSite
}

// Clone returns a deep copy of c.
func (c *Cookie) Clone() *Cookie {
	d := *c
	d.names = append([]string(nil), c.names...)
	d.values = make(map[string]string, len(c.values))
	for k, v := range c.values {
		d.values[k] = v
	}
	return &d
}

// merge folds the pairs and attributes of o into c.
func (c *Cookie) merge(o *Cookie) {
	for _, name := range o.names {
		c.put(name, o.values[name])
	}
	if !o.expires.IsZero() {
		c.expires = o.expires
	}
	if o.hasMaxAge {
		c.maxAge, c.hasMaxAge, c.maxAgeSetAt = o.maxAge, true, o.maxAgeSetAt
	}
	c.httpOnly = c.httpOnly || o.httpOnly
	c.secure = c.secure || o.secure
	if o.sameSite != "" {
		c.sameSite = o.sameSite
	}
}

// appendSetCookie renders the value of a Set-Cookie line:
//
//	k=v; k2=v2; Domain=d; Path=p; Expires=<date>; MaxAge=n; HttpOnly; Secure;
func (c *Cookie) appendSetCookie(dst []byte) []byte {
	sep := false
	clause := func(dst []byte) []byte {
		if sep {
			dst = append(dst, ' ')
		}
		sep = true
		return dst
	}
	for _, name := range c.names {
		dst = clause(dst)
		dst = append(dst, name...)
		dst = append(dst, '=')
		dst = append(dst, c.values[name]...)
		dst = append(dst, ';')
	}
	if c.domain != "" {
		dst = clause(dst)
		dst = append(dst, "Domain="...)
		dst = append(dst, c.domain...)
		dst = append(dst, ';')
	}
	if c.path != "" {
		dst = clause(dst)
		dst = append(dst, "Path="...)
		dst = append(dst, c.path...)
		dst = append(dst, ';')
	}
	if !c.expires.IsZero() {
		dst = clause(dst)
		dst = append(dst, "Expires="...)
		dst = c.expires.UTC().AppendFormat(dst, TimeFormat)
		dst = append(dst, ';')
	}
	if c.hasMaxAge {
		dst = clause(dst)
		dst = append(dst, "MaxAge="...)
		dst = strconv.AppendInt(dst, int64(c.maxAge), 10)
		dst = append(dst, ';')
	}
	if c.httpOnly {
		dst = append(clause(dst), "HttpOnly;"...)
	}
	if c.secure {
		dst = append(clause(dst), "Secure;"...)
	}
	if c.sameSite != "" {
		dst = append(clause(dst), "SameSite="...)
		dst = append(dst, c.sameSite...)
		dst = append(dst, ';')
	}
	return dst
}

// nextCookieClause splits s at the next ';' and trims the clause.
func nextCookieClause(s string) (clause string, rest string) {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return strings.TrimSpace(s[:i]), s[i+1:]
	}
	return strings.TrimSpace(s), ""
}

func splitCookiePair(clause string) (name string, value string, hasValue bool) {
	i := strings.IndexByte(clause, '=')
	if i < 0 {
		return clause, "", false
	}
	name, value = strings.TrimSpace(clause[:i]), strings.TrimSpace(clause[i+1:])
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}
	return name, value, true
}

// parseCookieHeader reads a request Cookie value: "k=v; k2=v2;".
func parseCookieHeader(c *Cookie, value string) {
	for value != "" {
		var clause string
		clause, value = nextCookieClause(value)
		name, v, ok := splitCookiePair(clause)
		if !ok || name == "" {
			continue
		}
		c.put(name, v)
	}
}

// ParseSetCookie reads one Set-Cookie value. Recognized attributes are
// matched case-insensitively; every other clause is a name/value pair.
func ParseSetCookie(value string) *Cookie {
	c := NewCookie("", "")
	for value != "" {
		var clause string
		clause, value = nextCookieClause(value)
		if clause == "" {
			continue
		}
		name, v, hasValue := splitCookiePair(clause)
		switch strings.ToLower(name) {
		case "domain":
			c.domain = v
		case "path":
			c.path = v
		case "expires":
			if t, ok := parseCookieTime(v); ok {
				c.expires = t
			}
		case "max-age", "maxage":
			if n, err := strconv.Atoi(v); err == nil {
				c.maxAge, c.hasMaxAge, c.maxAgeSetAt = n, true, timeNow()
			}
		case "httponly":
			c.httpOnly = true
		case "secure":
			c.secure = true
		case "samesite":
			c.sameSite = v
		default:
			if hasValue && name != "" {
				c.put(name, v)
			}
		}
	}
	return c
}

func parseCookieTime(v string) (time.Time, bool) {
	if t, err := http.ParseTime(v); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("Mon, 02 Jan 2006 15:04:05 UTC", v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Cookies is an ordered collection of cookies keyed by (domain, path).
type Cookies struct {
	list []*Cookie
}

func (cs *Cookies) find(domain string, path string) int {
	for i, c := range cs.list {
		if c.domain == domain && c.path == path {
			return i
		}
	}
	return -1
}

func (cs *Cookies) Len() int { return len(cs.list) }

// Get returns the cookie scoped to (domain, path), or nil.
func (cs *Cookies) Get(domain string, path string) *Cookie {
	if i := cs.find(domain, path); i >= 0 {
		return cs.list[i]
	}
	return nil
}

// Entry returns the cookie scoped to (domain, path), creating it if needed.
func (cs *Cookies) Entry(domain string, path string) *Cookie {
	if c := cs.Get(domain, path); c != nil {
		return c
	}
	c := NewCookie(domain, path)
	cs.list = append(cs.list, c)
	return c
}

// Add stores c, replacing any cookie with the same scope.
func (cs *Cookies) Add(c *Cookie) {
	if i := cs.find(c.domain, c.path); i >= 0 {
		cs.list[i] = c
		return
	}
	cs.list = append(cs.list, c)
}

// Remove deletes the cookie scoped to (domain, path).
func (cs *Cookies) Remove(domain string, path string) bool {
	i := cs.find(domain, path)
	if i < 0 {
		return false
	}
	cs.list = append(cs.list[:i], cs.list[i+1:]...)
	return true
}

// Value returns the first value stored under name in any scope.
func (cs *Cookies) Value(name string) (string, bool) {
	for _, c := range cs.list {
		if v, ok := c.values[name]; ok {
			return v, true
		}
	}
	return "", false
}

// Set stores a pair in the unscoped cookie.
func (cs *Cookies) Set(name string, value string) {
	cs.Entry("", "").Set(name, value)
}

func (cs *Cookies) Each(fn func(c *Cookie)) {
	for _, c := range cs.list {
		fn(c)
	}
}

func (cs *Cookies) Reset() { cs.list = cs.list[:0] }

func (cs *Cookies) mergeSetCookie(value string) {
	parsed := ParseSetCookie(value)
	if c := cs.Get(parsed.domain, parsed.path); c != nil {
		c.merge(parsed)
		return
	}
	cs.list = append(cs.list, parsed)
}

// appendCookieLine renders the request form "Cookie: k=v; k2=v2;".
func (cs *Cookies) appendCookieLine(dst []byte) []byte {
	first := true
	for _, c := range cs.list {
		for _, name := range c.names {
			if first {
				dst = append(dst, HeaderCookie...)
				dst = append(dst, ':')
				first = false
			}
			dst = append(dst, ' ')
			dst = append(dst, name...)
			dst = append(dst, '=')
			dst = append(dst, c.values[name]...)
			dst = append(dst, ';')
		}
	}
	if !first {
		dst = append(dst, '\r', '\n')
	}
	return dst
}

// appendSetCookieLines renders one Set-Cookie line per changed cookie.
func (cs *Cookies) appendSetCookieLines(dst []byte) []byte {
	for _, c := range cs.list {
		if !c.changed {
			continue
		}
		dst = append(dst, HeaderSetCookie...)
		dst = append(dst, ':', ' ')
		dst = c.appendSetCookie(dst)
		dst = append(dst, '\r', '\n')
	}
	return dst
}
