package bgsync

import (
	"context"
	"time"
)

// DefaultMaxRetentionTime is how long an entry may wait before it is discarded unreplayed.
const DefaultMaxRetentionTime = 7 * 24 * time.Hour

// OnSyncFunc runs when the queue's sync event fires. The default replays the queue.
type OnSyncFunc func(ctx context.Context, q *Queue) error

type options struct {
	onSync       OnSyncFunc
	maxRetention time.Duration
	registry     *Registry
	fetcher      Fetcher
	syncManager  SyncManager
	logger       Logger
	encoder      Encoder
	now          func() time.Time
}

func defaultOptions() *options {
	return &options{
		maxRetention: DefaultMaxRetentionTime,
		registry:     DefaultRegistry,
		logger:       noopLogger{},
		encoder:      &JSONEncoder{},
		now:          time.Now,
	}
}

// Option is a function that configures a Queue or Plugin.
type Option func(*options)

// OnSync replaces the default sync handler (ReplayRequests).
func OnSync(fn OnSyncFunc) Option {
	return func(o *options) {
		o.onSync = fn
	}
}

// MaxRetentionTime sets how long an entry is kept before it is discarded.
// Non-positive values keep the default.
func MaxRetentionTime(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxRetention = d
		}
	}
}

// WithRegistry uses r instead of DefaultRegistry for name uniqueness.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithFetcher sets how requests are replayed. Default is an HTTPFetcher.
func WithFetcher(f Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithSyncManager sets the reconnect-signal capability. Without one the queue
// runs its sync handler once at construction.
func WithSyncManager(sm SyncManager) Option {
	return func(o *options) {
		o.syncManager = sm
	}
}

// WithLogger sets the logger. Default discards output.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEncoder sets the encoder for stored request data and metadata.
func WithEncoder(e Encoder) Option {
	return func(o *options) {
		if e != nil {
			o.encoder = e
		}
	}
}

// WithClock sets the time source used for timestamps and retention checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
