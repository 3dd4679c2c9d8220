package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/UniQw/bgsync-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// ErrNoHandler indicates no handler is registered for a tag; the registration is kept for a later round.
var ErrNoHandler = errors.New("no handler")

// Logger is a minimal logging interface used internally by the runtime.
// It mirrors the public logger in the root package to avoid an import cycle.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Logger      Logger
}

// Prober reports whether connectivity is available; nil means online.
type Prober func(ctx context.Context) error

// Dispatcher delivers one sync event for tag and waits for its handler.
type Dispatcher func(ctx context.Context, tag string, lastChance bool) error

// Runtime keeps sync registrations in Redis and dispatches them when the prober reports connectivity.
type Runtime struct {
	rdb      redis.UniversalClient
	cfg      Config
	probe    Prober
	dispatch Dispatcher
	wg       sync.WaitGroup
	mu       sync.Mutex
	roundMu  sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	log      Logger
}

// New creates a runtime. Zero Interval defaults to 30s, zero MaxAttempts to 3.
func New(rdb redis.UniversalClient, cfg Config, probe Prober, dispatch Dispatcher) *Runtime {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	lg := cfg.Logger
	if lg == nil {
		lg = noopLogger{}
	}
	if probe == nil {
		probe = func(context.Context) error { return nil }
	}
	return &Runtime{
		rdb:      rdb,
		cfg:      cfg,
		probe:    probe,
		dispatch: dispatch,
		log:      lg,
	}
}

// Register records tag for dispatch. Registering a pending tag is a no-op.
func (rt *Runtime) Register(ctx context.Context, tag string) error {
	return rt.rdb.SAdd(ctx, keys.SyncTags(), tag).Err()
}

// Pending returns the registered tags.
func (rt *Runtime) Pending(ctx context.Context) ([]string, error) {
	return rt.rdb.SMembers(ctx, keys.SyncTags()).Result()
}

// Attempts returns the failed dispatch attempts recorded for tag.
func (rt *Runtime) Attempts(ctx context.Context, tag string) (int, error) {
	n, err := rt.rdb.HGet(ctx, keys.SyncAttempts(), tag).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Start launches the probe loop. It is idempotent and non-blocking.
func (rt *Runtime) Start() {
	rt.mu.Lock()
	if rt.started {
		rt.log.Warnf("sync runtime already started; ignoring Start()")
		rt.mu.Unlock()
		return
	}
	rt.started = true
	rt.ctx, rt.cancel = context.WithCancel(context.Background())
	ctx := rt.ctx
	rt.mu.Unlock()
	rt.log.Infof("sync runtime starting: interval=%s max_attempts=%d", rt.cfg.Interval, rt.cfg.MaxAttempts)

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		ticker := time.NewTicker(rt.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rt.probe(ctx); err != nil {
					rt.log.Debugf("sync: offline err=%v", err)
					continue
				}
				if err := rt.Round(ctx); err != nil && ctx.Err() == nil {
					rt.log.Warnf("sync: round failed err=%v", err)
				}
			}
		}
	}()
}

// Stop cancels in-flight handlers and waits for the loop to exit.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if !rt.started {
		rt.log.Warnf("sync runtime not started; ignoring Stop()")
		rt.mu.Unlock()
		return
	}
	rt.started = false
	cancel := rt.cancel
	rt.mu.Unlock()
	rt.log.Infof("sync runtime stopping")

	cancel()
	rt.wg.Wait()
}

// Round dispatches every registered tag once. A tag is claimed before its
// handler runs, so a handler may register it again. Rounds do not overlap.
func (rt *Runtime) Round(ctx context.Context) error {
	rt.roundMu.Lock()
	defer rt.roundMu.Unlock()

	tags, err := rt.rdb.SMembers(ctx, keys.SyncTags()).Result()
	if err != nil {
		return err
	}
	// Bookkeeping after a tag is claimed must not be lost to a cancelled ctx.
	bctx := context.WithoutCancel(ctx)
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := rt.rdb.SRem(ctx, keys.SyncTags(), tag).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		attempts, err := rt.Attempts(ctx, tag)
		if err != nil {
			_ = rt.rdb.SAdd(bctx, keys.SyncTags(), tag).Err()
			return err
		}
		lastChance := attempts+1 >= rt.cfg.MaxAttempts

		derr := rt.dispatch(ctx, tag, lastChance)
		switch {
		case derr == nil:
			if err := rt.rdb.HDel(bctx, keys.SyncAttempts(), tag).Err(); err != nil {
				rt.log.Warnf("sync: clear attempts failed tag=%s err=%v", tag, err)
			}
			rt.log.Debugf("sync: done tag=%s", tag)
		case errors.Is(derr, ErrNoHandler):
			if err := rt.rdb.SAdd(bctx, keys.SyncTags(), tag).Err(); err != nil {
				return err
			}
			rt.log.Debugf("sync: no handler tag=%s", tag)
		case ctx.Err() != nil:
			// interrupted by Stop: keep the registration, the attempt does not count
			if err := rt.rdb.SAdd(bctx, keys.SyncTags(), tag).Err(); err != nil {
				return err
			}
			rt.log.Debugf("sync: interrupted tag=%s err=%v", tag, derr)
			return ctx.Err()
		case lastChance:
			if err := rt.rdb.HDel(bctx, keys.SyncAttempts(), tag).Err(); err != nil {
				rt.log.Warnf("sync: clear attempts failed tag=%s err=%v", tag, err)
			}
			rt.log.Warnf("sync: giving up tag=%s attempts=%d err=%v", tag, attempts+1, derr)
		default:
			_, err := rt.rdb.TxPipelined(bctx, func(p redis.Pipeliner) error {
				p.SAdd(bctx, keys.SyncTags(), tag)
				p.HIncrBy(bctx, keys.SyncAttempts(), tag, 1)
				return nil
			})
			if err != nil {
				return err
			}
			rt.log.Warnf("sync: attempt failed tag=%s attempt=%d err=%v", tag, attempts+1, derr)
		}
	}
	return nil
}

// CfgInterval exposes the configured probe interval.
func (rt *Runtime) CfgInterval() time.Duration { return rt.cfg.Interval }

// CfgMaxAttempts exposes the configured attempts per registration.
func (rt *Runtime) CfgMaxAttempts() int { return rt.cfg.MaxAttempts }
