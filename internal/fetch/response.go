package fetch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Response is a fully buffered response value that can be stored in a
// cache and replayed many times.
type Response struct {
	Status     int         `json:"status"`
	StatusText string      `json:"statusText,omitempty"`
	URL        string      `json:"url,omitempty"`
	Header     http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
}

// NewResponse builds a response with the given status, body, and headers.
func NewResponse(status int, body []byte, header http.Header) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     header,
		Body:       body,
	}
}

// NewJSONResponse encodes v as the body of a 200 response with a JSON
// content type.
func NewJSONResponse(v any) (*Response, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("fetch: encode json response: %w", err)
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return NewResponse(http.StatusOK, payload, header), nil
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		URL:        r.URL,
		Header:     r.Header.Clone(),
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if len(r.Body) > 0 {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if r == nil {
		return fmt.Errorf("fetch: decode nil response")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("fetch: decode json body: %w", err)
	}
	return nil
}

// Text returns the body as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Write replays the response onto w.
func (r *Response) Write(w http.ResponseWriter) error {
	for name, values := range r.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}

// ReadResponse buffers an *http.Response into a Response and closes its
// body.
func ReadResponse(resp *http.Response, url string) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	header := resp.Header.Clone()
	header.Del("Content-Length")
	out := NewResponse(resp.StatusCode, body, header)
	out.URL = url
	return out, nil
}
