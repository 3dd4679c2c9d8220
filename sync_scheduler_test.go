package bgsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSyncScheduler_FlushReplaysQueue(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()
	s := NewSyncScheduler(rdb, SchedulerConfig{Logger: noopLogger{}})
	fr := &fetchRecorder{}
	q := newTestQueue(t, rdb, "sched", WithSyncManager(s), WithFetcher(fr))

	pushPaths(t, q, "/one", "/two")
	tags, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"bgsync:sched"}, tags)

	require.NoError(t, s.Flush(ctx))
	require.Equal(t, []string{"/one", "/two"}, fr.paths)
	tags, _ = s.Pending(ctx)
	require.Empty(t, tags)
}

func TestSyncScheduler_FailedReplayRetriesThenGivesUpAndReregisters(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()
	s := NewSyncScheduler(rdb, SchedulerConfig{MaxAttempts: 2, Logger: noopLogger{}})
	fr := &fetchRecorder{fail: func(int) error { return errors.New("offline") }}
	q := newTestQueue(t, rdb, "sched-fail", WithSyncManager(s), WithFetcher(fr))

	var events []SyncEvent
	s.Use(func(next SyncHandler) SyncHandler {
		return func(ctx context.Context, ev SyncEvent) error {
			events = append(events, ev)
			return next(ctx, ev)
		}
	})
	pushPaths(t, q, "/one")

	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Flush(ctx))
	require.Len(t, events, 2)
	require.False(t, events[0].LastChance)
	require.True(t, events[1].LastChance)
	require.NotEqual(t, events[0].ID, events[1].ID)
	_, err := uuid.Parse(events[0].ID)
	require.NoError(t, err)

	// the queue re-registered after its last chance, so the request is not stranded
	tags, _ := s.Pending(ctx)
	require.Equal(t, []string{q.SyncTag()}, tags)
	n, _ := q.Size(ctx)
	require.Equal(t, int64(1), n)
}

func TestSyncScheduler_RegistrationWithoutHandlerIsKept(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()
	s := NewSyncScheduler(rdb, SchedulerConfig{Logger: noopLogger{}})

	require.NoError(t, s.Register(ctx, "bgsync:later"))
	require.NoError(t, s.Flush(ctx))
	tags, _ := s.Pending(ctx)
	require.Equal(t, []string{"bgsync:later"}, tags)

	// a queue created after a restart picks up the stored registration
	fr := &fetchRecorder{}
	q := newTestQueue(t, rdb, "later", WithSyncManager(s), WithFetcher(fr))
	require.Equal(t, "bgsync:later", q.SyncTag())
	require.NoError(t, s.Flush(ctx))
	tags, _ = s.Pending(ctx)
	require.Empty(t, tags)
}

func TestSyncScheduler_StartDispatchesWhenProbeSucceeds(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()

	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(status.Load()))
	}))
	defer probe.Close()

	s := NewSyncScheduler(rdb, SchedulerConfig{
		Interval:   10 * time.Millisecond,
		ProbeURL:   probe.URL,
		HTTPClient: probe.Client(),
		Logger:     noopLogger{},
	})
	var synced atomic.Int32
	q := newTestQueue(t, rdb, "probe", WithSyncManager(s), OnSync(func(context.Context, *Queue) error {
		synced.Add(1)
		return nil
	}))
	pushPaths(t, q, "/one")

	s.Start()
	s.Start()
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, synced.Load(), "no sync while the probe fails")

	status.Store(http.StatusOK)
	require.Eventually(t, func() bool { return synced.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	tags, _ := s.Pending(ctx)
	require.Empty(t, tags)
}

func TestSyncScheduler_StopWithoutStart(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	s := NewSyncScheduler(rdb, SchedulerConfig{Logger: noopLogger{}})
	s.Stop()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, httpProbe(srv.Client(), srv.URL+"/up")(ctx))
	require.Error(t, httpProbe(srv.Client(), srv.URL+"/down")(ctx))
	require.Error(t, httpProbe(nil, "http://127.0.0.1:1/unreachable")(ctx))
}

func TestSyncScheduler_StopDuringReplayKeepsQueueAndRegistration(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	fetch := FetcherFunc(func(req *http.Request) (*http.Response, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	s := NewSyncScheduler(rdb, SchedulerConfig{Interval: 10 * time.Millisecond, Logger: noopLogger{}})
	q := newTestQueue(t, rdb, "shutdown", WithSyncManager(s), WithFetcher(fetch))
	pushPaths(t, q, "/one", "/two")

	s.Start()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not start")
	}
	s.Stop()

	n, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	tags, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{q.SyncTag()}, tags)
	require.Equal(t, "/one", shiftPath(t, q))
}
