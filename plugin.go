package bgsync

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// Plugin queues requests whose fetch failed.
type Plugin struct {
	queue *Queue
}

// NewPlugin creates a Plugin with its own Queue. Arguments are those of NewQueue.
func NewPlugin(rdb redis.UniversalClient, name string, opts ...Option) (*Plugin, error) {
	q, err := NewQueue(rdb, name, opts...)
	if err != nil {
		return nil, err
	}
	return &Plugin{queue: q}, nil
}

// Queue returns the plugin's queue.
func (p *Plugin) Queue() *Queue { return p.queue }

// FetchDidFail stores req in the queue. Queueing errors are logged, not
// returned: the caller still owns the original fetch failure.
func (p *Plugin) FetchDidFail(ctx context.Context, req *http.Request) {
	if err := p.queue.PushRequest(ctx, QueueEntry{Request: req}); err != nil {
		p.queue.log.Errorf("queueing failed request: queue=%s url=%s err=%v", p.queue.name, req.URL, err)
	}
}

// RoundTripper wraps next so that requests failing in transport are queued.
// The transport error is still returned to the caller.
func (p *Plugin) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &queueingTransport{next: next, plugin: p}
}

type queueingTransport struct {
	next   http.RoundTripper
	plugin *Plugin
}

// RoundTrip sends req through the wrapped transport. A body without GetBody is
// buffered first so the queued copy still has it after the transport consumed it.
func (t *queueingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = io.NopCloser(bytes.NewReader(b))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.plugin.FetchDidFail(context.WithoutCancel(req.Context()), req)
		return nil, err
	}
	return resp, nil
}
