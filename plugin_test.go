package bgsync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestPlugin(t *testing.T, name string, opts ...Option) *Plugin {
	t.Helper()
	rdb, done := newMiniClient(t)
	t.Cleanup(done)
	base := []Option{WithRegistry(NewRegistry()), WithSyncManager(newFakeSync())}
	p, err := NewPlugin(rdb, name, append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func TestPlugin_FetchDidFailQueuesRequest(t *testing.T) {
	ctx := context.Background()
	p := newTestPlugin(t, "plugin")
	require.Equal(t, "plugin", p.Queue().Name())

	p.FetchDidFail(ctx, mustReq(t, http.MethodPost, "https://api.example.com/msg", "hi"))

	e, err := p.Queue().ShiftRequest(ctx)
	require.NoError(t, err)
	require.Equal(t, "/msg", e.Request.URL.Path)
	b, _ := io.ReadAll(e.Request.Body)
	require.Equal(t, "hi", string(b))
}

func TestPlugin_FetchDidFailSwallowsQueueErrors(t *testing.T) {
	p := newTestPlugin(t, "plugin-invalid")
	require.NotPanics(t, func() {
		p.FetchDidFail(context.Background(), &http.Request{Method: http.MethodGet})
	})
	n, err := p.Queue().Size(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPlugin_DuplicateName(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	reg := NewRegistry()
	_, err := NewPlugin(rdb, "p", WithRegistry(reg), WithSyncManager(newFakeSync()))
	require.NoError(t, err)
	_, err = NewPlugin(rdb, "p", WithRegistry(reg), WithSyncManager(newFakeSync()))
	require.ErrorIs(t, err, ErrDuplicateQueue)
}

func TestPlugin_RoundTripperQueuesOnTransportError(t *testing.T) {
	ctx := context.Background()
	p := newTestPlugin(t, "rt-fail")
	offline := errors.New("dial tcp: connection refused")
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		_, _ = io.ReadAll(r.Body)
		return nil, offline
	})
	client := &http.Client{Transport: p.RoundTripper(next)}

	req := mustReq(t, http.MethodPost, "https://api.example.com/orders", `{"id":1}`)
	// a body without GetBody must survive the failed attempt
	req.Body = io.NopCloser(strings.NewReader(`{"id":1}`))
	req.GetBody = nil
	_, err := client.Do(req)
	require.ErrorIs(t, err, offline)

	e, err := p.Queue().ShiftRequest(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)
	require.Equal(t, "/orders", e.Request.URL.Path)
	b, _ := io.ReadAll(e.Request.Body)
	require.Equal(t, `{"id":1}`, string(b))
}

func TestPlugin_RoundTripperPassesResponsesThrough(t *testing.T) {
	ctx := context.Background()
	p := newTestPlugin(t, "rt-ok")
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader("")), Request: r}, nil
	})
	client := &http.Client{Transport: p.RoundTripper(next)}

	resp, err := client.Do(mustReq(t, http.MethodGet, "https://api.example.com/", ""))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	n, err := p.Queue().Size(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "HTTP error statuses are not queued")
}
