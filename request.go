package bgsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/UniQw/bgsync-go/internal/reqctx"
)

// RequestOptions carries fetch attributes that http.Request has no field for
// (mode, credentials, cache, redirect, referrer policy, integrity, keepalive).
// Attach them with WithRequestOptions; they are stored and restored with the request.
type RequestOptions = reqctx.Options

// WithRequestOptions returns a shallow copy of req carrying o.
func WithRequestOptions(req *http.Request, o RequestOptions) *http.Request {
	return req.WithContext(reqctx.WithOptions(req.Context(), o))
}

// RequestOptionsFrom returns the options attached to req, if any.
func RequestOptionsFrom(req *http.Request) (RequestOptions, bool) {
	return reqctx.From(req.Context())
}

// StorableRequest is a plain representation of an HTTP request that can be
// persisted and turned back into a request that can be sent again.
type StorableRequest struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"body,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	Credentials    string            `json:"credentials,omitempty"`
	Cache          string            `json:"cache,omitempty"`
	Redirect       string            `json:"redirect,omitempty"`
	Referrer       string            `json:"referrer,omitempty"`
	ReferrerPolicy string            `json:"referrerPolicy,omitempty"`
	Integrity      string            `json:"integrity,omitempty"`
	Keepalive      bool              `json:"keepalive,omitempty"`
}

// FromRequest converts req into a StorableRequest. The body is read from a copy
// (GetBody) when one is available; otherwise it is read and req.Body is replaced,
// so req stays usable by the caller either way.
//
// A body that was already read by someone else is reported as ErrBodyConsumed
// when that can be detected: a read error, or a declared ContentLength with
// nothing left to read.
func FromRequest(req *http.Request) (*StorableRequest, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("%w: missing request or url", ErrInvalidRequest)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	s := &StorableRequest{
		URL:      req.URL.String(),
		Method:   method,
		Referrer: req.Referer(),
	}
	if len(req.Header) > 0 {
		s.Headers = make(map[string]string, len(req.Header))
		for k, vs := range req.Header {
			if http.CanonicalHeaderKey(k) == "Referer" {
				continue
			}
			s.Headers[http.CanonicalHeaderKey(k)] = strings.Join(vs, ", ")
		}
	}
	if o, ok := reqctx.From(req.Context()); ok {
		s.Mode = o.Mode
		s.Credentials = o.Credentials
		s.Cache = o.Cache
		s.Redirect = o.Redirect
		s.ReferrerPolicy = o.ReferrerPolicy
		s.Integrity = o.Integrity
		s.Keepalive = o.Keepalive
	}
	body, err := cloneBody(req)
	if err != nil {
		return nil, err
	}
	s.Body = body
	return s, nil
}

func cloneBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBodyConsumed, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBodyConsumed, err)
		}
		return b, nil
	}
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBodyConsumed, err)
	}
	_ = req.Body.Close()
	if len(b) == 0 && req.ContentLength > 0 {
		return nil, fmt.Errorf("%w: expected %d bytes, read none", ErrBodyConsumed, req.ContentLength)
	}
	req.Body = io.NopCloser(bytes.NewReader(b))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return b, nil
}

// ToRequest builds a new request from s. The result can be sent more than once:
// its body is backed by GetBody.
func (s *StorableRequest) ToRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(s.Body) > 0 {
		body = bytes.NewReader(s.Body)
	}
	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	if s.Referrer != "" {
		req.Header.Set("Referer", s.Referrer)
	}
	o := RequestOptions{
		Mode:           s.Mode,
		Credentials:    s.Credentials,
		Cache:          s.Cache,
		Redirect:       s.Redirect,
		ReferrerPolicy: s.ReferrerPolicy,
		Integrity:      s.Integrity,
		Keepalive:      s.Keepalive,
	}
	if !o.IsZero() {
		req = WithRequestOptions(req, o)
	}
	return req, nil
}
