package bgsync

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrRedirectNotAllowed is returned for a redirect response to a request with redirect mode "error".
var ErrRedirectNotAllowed = errors.New("bgsync: redirect not allowed")

// ErrIntegrityMismatch is returned when a response body does not match the request's integrity metadata.
var ErrIntegrityMismatch = errors.New("bgsync: integrity mismatch")

// Fetcher issues a request. Only transport failures are errors; any HTTP status is a response.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(req *http.Request) (*http.Response, error)

// Fetch calls f(req).
func (f FetcherFunc) Fetch(req *http.Request) (*http.Response, error) { return f(req) }

// HTTPFetcher sends requests with an http.Client, honoring RequestOptions
// where they have a meaning outside a browser (credentials, cache, redirect, integrity).
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher using c, or a client with a 30s timeout when c is nil.
func NewHTTPFetcher(c *http.Client) *HTTPFetcher {
	if c == nil {
		c = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: c}
}

// Fetch sends req.
func (f *HTTPFetcher) Fetch(req *http.Request) (*http.Response, error) {
	o, _ := RequestOptionsFrom(req)
	client := f.client

	if o.Credentials == "omit" {
		req = req.Clone(req.Context())
		req.Header.Del("Cookie")
		req.Header.Del("Authorization")
	}
	switch o.Cache {
	case "no-store", "no-cache", "reload":
		if req.Header.Get("Cache-Control") == "" {
			req = req.Clone(req.Context())
			req.Header.Set("Cache-Control", o.Cache)
			if o.Cache == "reload" {
				req.Header.Set("Cache-Control", "no-cache")
			}
		}
	}
	if o.Redirect == "manual" || o.Redirect == "error" {
		c := *client
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		client = &c
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if o.Redirect == "error" && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status=%d url=%s", ErrRedirectNotAllowed, resp.StatusCode, req.URL)
	}
	if o.Integrity != "" {
		if err := checkIntegrity(resp, o.Integrity); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// checkIntegrity reads the body, verifies it against any of the listed
// "<alg>-<base64 digest>" values, and restores the body for the caller.
func checkIntegrity(resp *http.Response, integrity string) error {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	known := 0
	for _, item := range strings.Fields(integrity) {
		alg, want, ok := strings.Cut(item, "-")
		if !ok {
			continue
		}
		if i := strings.IndexByte(want, '?'); i >= 0 {
			want = want[:i]
		}
		var h hash.Hash
		switch alg {
		case "sha256":
			h = sha256.New()
		case "sha384":
			h = sha512.New384()
		case "sha512":
			h = sha512.New()
		default:
			continue
		}
		known++
		h.Write(body)
		if base64.StdEncoding.EncodeToString(h.Sum(nil)) == want {
			return nil
		}
	}
	if known == 0 {
		return nil
	}
	return ErrIntegrityMismatch
}
