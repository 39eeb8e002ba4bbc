package protocol

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// URL is a parsed request target or absolute URL.
type URL struct {
	Raw      string
	Scheme   string
	Host     string
	Port     int // -1 when absent
	Path     string // decoded
	RawPath  string // escaped form of Path, used on the wire
	RawQuery string
	Query    map[string]string
	Fragment string
	UserInfo string

	// MatchInfo holds the path parameters captured by routing.
	MatchInfo map[string]string
}

// ParseURL parses an origin-form ("/a?b"), absolute-form ("http://h/a"),
// authority-form ("h:443") or asterisk-form ("*") target.
func ParseURL(raw string) (*URL, error) {
	u := &URL{Raw: raw, Port: -1, MatchInfo: make(map[string]string)}
	switch {
	case raw == "":
		return nil, errors.NewInvalidArgumentError("empty URL")
	case raw == "*":
		u.Path = "*"
		return u, nil
	case raw[0] != '/' && !strings.Contains(raw, "://"):
		// authority-form, only meaningful for CONNECT
		host, port, ok := splitHostPort(raw)
		if !ok {
			return nil, errors.NewInvalidArgumentError("invalid request target " + strconv.Quote(raw))
		}
		u.Host, u.Port, u.Path = host, port, "/"
		return u, nil
	}

	p, err := url.Parse(raw)
	if err != nil {
		return nil, &errors.HttpError{
			Type:          errors.ErrorInvalidArgument,
			Message:       "invalid request target " + strconv.Quote(raw),
			UnderlyingErr: err,
		}
	}
	u.Scheme = strings.ToLower(p.Scheme)
	u.Host = p.Hostname()
	if ps := p.Port(); ps != "" {
		port, err := strconv.Atoi(ps)
		if err != nil || port < 0 || port > 65535 {
			return nil, errors.NewInvalidArgumentError("invalid port " + strconv.Quote(ps))
		}
		u.Port = port
	}
	if p.User != nil {
		u.UserInfo = p.User.String()
	}
	u.Path, u.RawPath = p.Path, p.EscapedPath()
	if u.Path == "" {
		u.Path, u.RawPath = "/", "/"
	}
	u.RawQuery = p.RawQuery
	u.Query = parseQuery(p.RawQuery)
	u.Fragment = p.Fragment
	return u, nil
}

func splitHostPort(s string) (string, int, bool) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", -1, false
	}
	port, err := strconv.Atoi(s[i+1:])
	if err != nil || port < 0 || port > 65535 {
		return "", -1, false
	}
	return strings.Trim(s[:i], "[]"), port, true
}

// parseQuery keeps only complete "key=value" pairs; values are
// percent-decoded when they decode cleanly.
func parseQuery(raw string) map[string]string {
	q := make(map[string]string)
	for len(raw) > 0 {
		var pair string
		if i := strings.IndexByte(raw, '&'); i >= 0 {
			pair, raw = raw[:i], raw[i+1:]
		} else {
			pair, raw = raw, ""
		}
		i := strings.IndexByte(pair, '=')
		if i <= 0 || i == len(pair)-1 {
			continue
		}
		k, v := pair[:i], pair[i+1:]
		if strings.IndexByte(v, '=') >= 0 {
			continue
		}
		if dk, err := url.QueryUnescape(k); err == nil {
			k = dk
		}
		if dv, err := url.QueryUnescape(v); err == nil {
			v = dv
		}
		q[k] = v
	}
	return q
}

// RequestURI returns the origin-form target: path plus query.
func (u *URL) RequestURI() string {
	path := u.RawPath
	if path == "" {
		path = u.Path
	}
	if u.RawQuery == "" {
		return path
	}
	return path + "?" + u.RawQuery
}

// IsSecure reports whether the URL uses https.
func (u *URL) IsSecure() bool { return u.Scheme == "https" }

// EffectivePort returns the explicit port or the scheme's default one.
func (u *URL) EffectivePort() int {
	if u.Port >= 0 {
		return u.Port
	}
	if u.IsSecure() {
		return 443
	}
	return 80
}
