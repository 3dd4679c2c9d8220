package bgsync

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	rtm "github.com/UniQw/bgsync-go/internal/runtime"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SchedulerConfig defines the configuration for a SyncScheduler.
type SchedulerConfig struct {
	// Interval is how often connectivity is probed. Default 30s.
	Interval time.Duration
	// MaxAttempts is how many failed dispatches a registration gets; the last one is the last chance. Default 3.
	MaxAttempts int
	// ProbeURL is requested with HEAD to check connectivity. Empty means always online.
	ProbeURL string
	// Prober overrides the ProbeURL check.
	Prober func(ctx context.Context) error
	// HTTPClient is used by the ProbeURL check. Default has a 10s timeout.
	HTTPClient *http.Client
	// Logger is the logger used for scheduler events.
	Logger Logger
}

// SyncScheduler is a SyncManager backed by Redis: registrations survive
// restarts, and events are dispatched when connectivity is detected.
type SyncScheduler struct {
	rt      *rtm.Runtime
	mux     *SyncMux
	mu      sync.Mutex
	started bool
	log     Logger
}

// NewSyncScheduler creates a scheduler over rdb.
func NewSyncScheduler(rdb redis.UniversalClient, cfg SchedulerConfig) *SyncScheduler {
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	mux := NewSyncMux()
	dispatch := func(ctx context.Context, tag string, lastChance bool) error {
		h, ok := mux.lookup(tag)
		if !ok {
			return rtm.ErrNoHandler
		}
		return h(ctx, SyncEvent{ID: uuid.NewString(), Tag: tag, LastChance: lastChance})
	}
	probe := cfg.Prober
	if probe == nil && cfg.ProbeURL != "" {
		probe = httpProbe(cfg.HTTPClient, cfg.ProbeURL)
	}

	rtc := rtm.Config{
		Interval:    cfg.Interval,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      rtLogger{Logger: l},
	}
	return &SyncScheduler{rt: rtm.New(rdb, rtc, probe, dispatch), mux: mux, log: l}
}

// Register records tag for dispatch.
func (s *SyncScheduler) Register(ctx context.Context, tag string) error {
	return s.rt.Register(ctx, tag)
}

// Handle routes events for tag to h.
func (s *SyncScheduler) Handle(tag string, h SyncHandler) { s.mux.Handle(tag, h) }

// Use adds a middleware around every handler.
func (s *SyncScheduler) Use(mw SyncMiddleware) { s.mux.Use(mw) }

// Pending returns the registered tags not yet dispatched successfully.
func (s *SyncScheduler) Pending(ctx context.Context) ([]string, error) {
	return s.rt.Pending(ctx)
}

// Flush dispatches every registered tag once, now, without probing.
func (s *SyncScheduler) Flush(ctx context.Context) error {
	return s.rt.Round(ctx)
}

// Start launches the probe loop. It is idempotent and non-blocking.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	if s.started {
		if s.log != nil {
			s.log.Warnf("scheduler already started; ignoring Start()")
		}
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	if s.log != nil {
		s.log.Infof("starting sync scheduler: interval=%s max_attempts=%d", s.rt.CfgInterval(), s.rt.CfgMaxAttempts())
	}
	s.rt.Start()
}

// Stop shuts the probe loop down, cancelling handlers in flight.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		if s.log != nil {
			s.log.Warnf("scheduler not started; ignoring Stop()")
		}
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	if s.log != nil {
		s.log.Infof("stopping sync scheduler")
	}
	s.rt.Stop()
}

func httpProbe(c *http.Client, url string) func(ctx context.Context) error {
	if c == nil {
		c = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}

var _ SyncManager = (*SyncScheduler)(nil)

// rtLogger adapts the public Logger to the internal runtime logger interface.
type rtLogger struct{ Logger }
