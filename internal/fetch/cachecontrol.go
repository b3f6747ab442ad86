package fetch

import (
	"strconv"
	"strings"
	"time"
)

// CacheControl holds the Cache-Control directives a router looks at before
// storing a response.
type CacheControl struct {
	MaxAge  *int
	NoCache bool
	NoStore bool
	Private bool
}

// ParseCacheControl reads a Cache-Control header value. Unknown directives
// and malformed ages are ignored.
func ParseCacheControl(header string) CacheControl {
	var cc CacheControl
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if hasValue {
			if key == "max-age" {
				if seconds, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"`)); err == nil && seconds >= 0 {
					cc.MaxAge = &seconds
				}
			}
			continue
		}
		switch key {
		case "no-cache":
			cc.NoCache = true
		case "no-store":
			cc.NoStore = true
		case "private":
			cc.Private = true
		}
	}
	return cc
}

// Storable reports whether a shared cache may keep the response.
func (cc CacheControl) Storable() bool {
	return !cc.NoStore && !cc.Private
}

// TTL is the lifetime the directives grant. ok is false when they say
// nothing about lifetime.
func (cc CacheControl) TTL() (ttl time.Duration, ok bool) {
	if cc.NoCache || cc.NoStore || cc.Private {
		return 0, true
	}
	if cc.MaxAge != nil {
		return time.Duration(*cc.MaxAge) * time.Second, true
	}
	return 0, false
}

// CacheControl parses the response's Cache-Control header.
func (r *Response) CacheControl() CacheControl {
	if r == nil || r.Header == nil {
		return CacheControl{}
	}
	return ParseCacheControl(strings.Join(r.Header.Values("Cache-Control"), ","))
}
