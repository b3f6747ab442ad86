// Package fetch models the request and response values exchanged with the
// cache store and the network, plus the fetch primitive used to populate it.
package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Request modes mirror the values a worker sees on incoming requests.
const (
	ModeNavigate   = "navigate"
	ModeCORS       = "cors"
	ModeNoCORS     = "no-cors"
	ModeSameOrigin = "same-origin"
)

// ErrInvalidURL is returned when a request cannot be built from its input.
var ErrInvalidURL = errors.New("fetch: invalid URL")

// Requestable is anything a cache operation accepts as a request: a
// *Request or a URL string.
type Requestable interface {
	FetchRequest() *Request
}

// URL is a request target given as a plain string.
type URL string

// FetchRequest builds a GET request for the URL. Empty URLs yield nil.
func (u URL) FetchRequest() *Request {
	if strings.TrimSpace(string(u)) == "" {
		return nil
	}
	return NewRequest(string(u))
}

// Request is an immutable-by-convention request value. Use Clone before
// mutating a request that other handlers may still hold.
type Request struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Header http.Header `json:"headers,omitempty"`
	Mode   string      `json:"mode,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// NewRequest builds a GET request for rawURL.
func NewRequest(rawURL string) *Request {
	return &Request{
		Method: http.MethodGet,
		URL:    rawURL,
		Header: make(http.Header),
		Mode:   ModeCORS,
	}
}

// FetchRequest returns the request itself.
func (r *Request) FetchRequest() *Request { return r }

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := &Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
		Mode:   r.Mode,
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if len(r.Body) > 0 {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Cacheable reports whether the request may be matched or stored in a
// cache. Only GET requests are; an unset method counts as GET.
func (r *Request) Cacheable() bool {
	return r != nil && (r.Method == "" || strings.EqualFold(r.Method, http.MethodGet))
}

// IsNavigate reports whether the request is a top-level document load.
func (r *Request) IsNavigate() bool {
	return r != nil && r.Mode == ModeNavigate
}

// Resolve normalises r into a request with an absolute URL. Relative URLs
// resolve against origin. A request whose URL is already absolute and
// normalised is returned as is, so Resolve is idempotent on URL.
func Resolve(origin *url.URL, r Requestable) (*Request, error) {
	if r == nil {
		return nil, ErrInvalidURL
	}
	req := r.FetchRequest()
	if req == nil || strings.TrimSpace(req.URL) == "" {
		return nil, ErrInvalidURL
	}
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, req.URL, err)
	}
	if !u.IsAbs() {
		if origin == nil {
			return nil, fmt.Errorf("%w: %q is relative and no origin is set", ErrInvalidURL, req.URL)
		}
		u = origin.ResolveReference(u)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	normalized := u.String()
	if normalized == req.URL && req.Method != "" {
		return req, nil
	}
	out := req.Clone()
	out.URL = normalized
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	return out, nil
}

// FromHTTP converts an inbound server request into a worker request whose
// URL lives under origin. Document loads are tagged with ModeNavigate.
func FromHTTP(r *http.Request, origin *url.URL, body []byte) *Request {
	target := r.URL.RequestURI()
	rawURL := target
	if origin != nil {
		if ref, err := url.Parse(target); err == nil {
			rawURL = origin.ResolveReference(ref).String()
		}
	}
	req := &Request{
		Method: r.Method,
		URL:    rawURL,
		Header: r.Header.Clone(),
		Mode:   requestMode(r),
		Body:   body,
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	return req
}

func requestMode(r *http.Request) string {
	if mode := strings.TrimSpace(strings.ToLower(r.Header.Get("Sec-Fetch-Mode"))); mode != "" {
		return mode
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return ModeNavigate
	}
	return ModeCORS
}
