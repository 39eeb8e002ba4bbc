package router

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Jennifer-Brigman/stormhttp/protocol"
)

// Cache-Control directives for CacheOptions.Setting.
const (
	CachePublic  = "public"
	CachePrivate = "private"
	CacheNoCache = "no-cache, no-store"
)

// MaxCacheAge is the longest max-age a client is required to honour.
const MaxCacheAge = 365 * 24 * time.Hour

// CacheOptions configures CacheControl.
type CacheOptions struct {
	// Setting is the Cache-Control directive. Empty means CachePrivate.
	Setting string
	// MaxAge is added as max-age when positive and clamped to MaxCacheAge.
	MaxAge time.Duration
	// ETag computes the entity tag of the requested resource.
	ETag func(req *protocol.Request) string
	// LastModified returns the modification time of the requested resource.
	LastModified func(req *protocol.Request) time.Time
}

func (o CacheOptions) header() string {
	setting := o.Setting
	if setting == "" {
		setting = CachePrivate
	}
	if o.MaxAge <= 0 {
		return setting
	}
	age := o.MaxAge
	if age > MaxCacheAge {
		age = MaxCacheAge
	}
	return setting + ", max-age=" + strconv.FormatInt(int64(age/time.Second), 10)
}

// CacheControl wraps next with conditional GET and HEAD handling. When
// If-None-Match lists the current entity tag, or If-Modified-Since is not
// older than the last modification, a 304 is returned without calling
// next. Otherwise next runs and its response gets Cache-Control, ETag and
// Last-Modified headers.
func CacheControl(opts CacheOptions, next Handler) Handler {
	cacheHeader := opts.header()
	return HandlerFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		if req.Method != "GET" && req.Method != "HEAD" {
			return next.Handle(ctx, req)
		}

		var (
			etag     string
			modified time.Time
		)
		if opts.ETag != nil {
			etag = opts.ETag(req)
			if matchesETag(req.Headers.Values(protocol.HeaderIfNoneMatch), etag) {
				resp := notModified(cacheHeader)
				resp.Headers.Set(protocol.HeaderETag, etag)
				return resp, nil
			}
		}
		if opts.LastModified != nil {
			modified = opts.LastModified(req).UTC().Truncate(time.Second)
			if since, ok := req.Headers.Get(protocol.HeaderIfModifiedSince); ok {
				if t, err := time.Parse(protocol.TimeFormat, since); err == nil && !t.Before(modified) {
					resp := notModified(cacheHeader)
					resp.Headers.Set(protocol.HeaderLastModified, modified.Format(protocol.TimeFormat))
					return resp, nil
				}
			}
		}

		resp, err := next.Handle(ctx, req)
		if err != nil || resp == nil {
			return resp, err
		}
		resp.Headers.Set(protocol.HeaderCacheControl, cacheHeader)
		if opts.ETag != nil {
			resp.Headers.Set(protocol.HeaderETag, etag)
		}
		if opts.LastModified != nil {
			resp.Headers.Set(protocol.HeaderLastModified, modified.Format(protocol.TimeFormat))
		}
		return resp, nil
	})
}

func notModified(cacheHeader string) *protocol.Response {
	resp := protocol.MustResponse(304)
	resp.Headers.Set(protocol.HeaderCacheControl, cacheHeader)
	return resp
}

func matchesETag(values []string, etag string) bool {
	if etag == "" {
		return false
	}
	for _, v := range values {
		for _, tag := range strings.Split(v, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "*" || strings.TrimPrefix(tag, "W/") == strings.TrimPrefix(etag, "W/") {
				return true
			}
		}
	}
	return false
}
