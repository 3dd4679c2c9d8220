package bgsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/UniQw/bgsync-go/internal/storage"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidQueueName is returned by NewQueue for an empty name.
var ErrInvalidQueueName = errors.New("bgsync: queue name required")

// QueueEntry is a request as the application sees it.
type QueueEntry struct {
	Request *http.Request
	// Timestamp is milliseconds since the Unix epoch. Zero means now when adding.
	Timestamp int64
	// Metadata is stored with the request and returned unchanged. Nil when absent.
	Metadata map[string]any
}

// op selects which end of the queue an operation works on.
type op int

const (
	opPush op = iota
	opUnshift
	opPop
	opShift
)

func (o op) String() string {
	switch o {
	case opPush:
		return "push"
	case opUnshift:
		return "unshift"
	case opPop:
		return "pop"
	case opShift:
		return "shift"
	default:
		return "unknown"
	}
}

// Queue stores failed requests durably under a unique name and replays them
// when its sync event fires.
type Queue struct {
	name         string
	tag          string
	store        *QueueStore
	onSync       OnSyncFunc
	maxRetention time.Duration
	fetcher      Fetcher
	sm           SyncManager
	log          Logger
	now          func() time.Time

	mu              sync.Mutex
	syncInProgress  bool
	addedDuringSync bool
}

// NewQueue creates the queue called name over the store behind rdb.
// It returns ErrDuplicateQueue if the name is already registered.
//
// The queue registers its sync handler with the configured SyncManager.
// Without one, the handler runs once in the background right away.
func NewQueue(rdb redis.UniversalClient, name string, opts ...Option) (*Queue, error) {
	if name == "" {
		return nil, ErrInvalidQueueName
	}
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.registry.Register(name); err != nil {
		return nil, err
	}
	if cfg.fetcher == nil {
		cfg.fetcher = NewHTTPFetcher(nil)
	}

	q := &Queue{
		name:         name,
		tag:          SyncTagPrefix + ":" + name,
		store:        newQueueStore(storage.New(rdb, cfg.logger), name, cfg.encoder),
		onSync:       cfg.onSync,
		maxRetention: cfg.maxRetention,
		fetcher:      cfg.fetcher,
		sm:           cfg.syncManager,
		log:          cfg.logger,
		now:          cfg.now,
	}
	if q.onSync == nil {
		q.onSync = func(ctx context.Context, q *Queue) error { return q.ReplayRequests(ctx) }
	}
	q.addSyncListener()
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// SyncTag returns the tag the queue registers for sync events.
func (q *Queue) SyncTag() string { return q.tag }

// PushRequest stores e at the end of the queue and registers for a sync event.
func (q *Queue) PushRequest(ctx context.Context, e QueueEntry) error {
	return q.addRequest(ctx, e, opPush)
}

// UnshiftRequest stores e at the start of the queue and registers for a sync event.
func (q *Queue) UnshiftRequest(ctx context.Context, e QueueEntry) error {
	return q.addRequest(ctx, e, opUnshift)
}

// PopRequest removes and returns the last unexpired entry, or nil if there is none.
func (q *Queue) PopRequest(ctx context.Context) (*QueueEntry, error) {
	return q.removeRequest(ctx, opPop)
}

// ShiftRequest removes and returns the first unexpired entry, or nil if there is none.
func (q *Queue) ShiftRequest(ctx context.Context) (*QueueEntry, error) {
	return q.removeRequest(ctx, opShift)
}

// GetAll returns every unexpired entry in order without removing it.
// Expired entries found along the way are deleted.
func (q *Queue) GetAll(ctx context.Context) ([]*QueueEntry, error) {
	all, err := q.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*QueueEntry, 0, len(all))
	for _, se := range all {
		if q.expired(se) {
			if err := q.store.DeleteEntry(ctx, se.ID); err != nil {
				return nil, err
			}
			continue
		}
		req, err := se.RequestData.ToRequest(ctx)
		if err != nil {
			q.log.Errorf("unusable stored request: queue=%s id=%d err=%v", q.name, se.ID, err)
			continue
		}
		out = append(out, &QueueEntry{Request: req, Timestamp: se.Timestamp, Metadata: se.Metadata})
	}
	return out, nil
}

// Size returns the number of stored entries, expired ones included.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	return q.store.Size(ctx)
}

func (q *Queue) addRequest(ctx context.Context, e QueueEntry, o op) error {
	sr, err := FromRequest(e.Request)
	if err != nil {
		return err
	}
	ts := e.Timestamp
	if ts == 0 {
		ts = q.now().UnixMilli()
	}
	se := &QueueStoreEntry{RequestData: sr, Timestamp: ts, Metadata: e.Metadata}

	switch o {
	case opPush:
		err = q.store.PushEntry(ctx, se)
	case opUnshift:
		err = q.store.UnshiftEntry(ctx, se)
	default:
		return fmt.Errorf("bgsync: %s does not add requests", o)
	}
	if err != nil {
		return err
	}
	q.log.Debugf("request added: queue=%s op=%s method=%s url=%s", q.name, o, sr.Method, sr.URL)

	// Registration is deferred while a sync is running; handleSync re-registers when it ends.
	q.mu.Lock()
	if q.syncInProgress {
		q.addedDuringSync = true
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	q.RegisterSync(ctx)
	return nil
}

func (q *Queue) removeRequest(ctx context.Context, o op) (*QueueEntry, error) {
	for {
		var (
			se  *QueueStoreEntry
			err error
		)
		switch o {
		case opPop:
			se, err = q.store.PopEntry(ctx)
		case opShift:
			se, err = q.store.ShiftEntry(ctx)
		default:
			return nil, fmt.Errorf("bgsync: %s does not remove requests", o)
		}
		if err != nil {
			return nil, err
		}
		if se == nil {
			return nil, nil
		}
		if q.expired(se) {
			q.log.Debugf("discarding expired request: queue=%s op=%s url=%s", q.name, o, se.RequestData.URL)
			continue
		}
		req, err := se.RequestData.ToRequest(ctx)
		if err != nil {
			q.log.Errorf("discarding unusable stored request: queue=%s url=%s err=%v", q.name, se.RequestData.URL, err)
			continue
		}
		return &QueueEntry{Request: req, Timestamp: se.Timestamp, Metadata: se.Metadata}, nil
	}
}

func (q *Queue) expired(se *QueueStoreEntry) bool {
	return q.now().UnixMilli()-se.Timestamp > q.maxRetention.Milliseconds()
}

// ReplayRequests sends every queued request in order. A request that fails is
// put back at the start of the queue and replay stops with a *ReplayError;
// the rest stays queued for the next sync.
func (q *Queue) ReplayRequests(ctx context.Context) error {
	for {
		e, err := q.ShiftRequest(ctx)
		if err != nil {
			return err
		}
		if e == nil {
			break
		}
		url := e.Request.URL.String()
		resp, ferr := q.fetcher.Fetch(e.Request)
		if ferr != nil {
			q.log.Warnf("replay failed: queue=%s url=%s err=%v", q.name, url, ferr)
			// The entry is already out of the store; put it back even if ctx was cancelled.
			if uerr := q.UnshiftRequest(context.WithoutCancel(ctx), *e); uerr != nil {
				q.log.Errorf("requeue failed: queue=%s url=%s err=%v", q.name, url, uerr)
				return &ReplayError{Queue: q.name, Err: errors.Join(ferr, uerr)}
			}
			return &ReplayError{Queue: q.name, Err: ferr}
		}
		if resp != nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		q.log.Debugf("request replayed: queue=%s url=%s status=%d", q.name, url, status)
	}
	q.log.Infof("all requests replayed: queue=%s", q.name)
	return nil
}

// RegisterSync asks the SyncManager for a sync event. Failures are logged only:
// the startup fallback and later registrations retry.
func (q *Queue) RegisterSync(ctx context.Context) {
	if q.sm == nil {
		return
	}
	if err := q.sm.Register(ctx, q.tag); err != nil {
		q.log.Warnf("sync registration failed: queue=%s tag=%s err=%v", q.name, q.tag, err)
	}
}

func (q *Queue) addSyncListener() {
	if q.sm != nil {
		q.sm.Handle(q.tag, q.handleSync)
		return
	}
	q.log.Infof("background sync unsupported; running sync handler now: queue=%s", q.name)
	go func() {
		if err := q.onSync(context.Background(), q); err != nil {
			q.log.Warnf("startup sync failed: queue=%s err=%v", q.name, err)
		}
	}()
}

func (q *Queue) handleSync(ctx context.Context, ev SyncEvent) error {
	if ev.Tag != q.tag {
		return nil
	}
	q.log.Debugf("sync event: queue=%s id=%s last_chance=%t", q.name, ev.ID, ev.LastChance)

	q.mu.Lock()
	q.syncInProgress = true
	q.mu.Unlock()

	err := q.onSync(ctx, q)

	q.mu.Lock()
	again := (err == nil && q.addedDuringSync) || (err != nil && ev.LastChance)
	q.syncInProgress = false
	q.addedDuringSync = false
	q.mu.Unlock()

	if again {
		q.RegisterSync(context.WithoutCancel(ctx))
	}
	if err != nil {
		q.log.Warnf("sync handler failed: queue=%s id=%s last_chance=%t err=%v", q.name, ev.ID, ev.LastChance, err)
	}
	return err
}
