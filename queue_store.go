package bgsync

import (
	"context"
	"fmt"

	"github.com/UniQw/bgsync-go/internal/storage"
	"github.com/redis/go-redis/v9"
)

// QueueStoreEntry is an entry as the store sees it.
type QueueStoreEntry struct {
	// ID is assigned by the store. It is ignored on insert, zero on pop/shift
	// and set by GetAll.
	ID          int64
	RequestData *StorableRequest
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64
	Metadata  map[string]any
}

// QueueStore is the ordered, durable partition of one queue. Queues share the
// physical store; a QueueStore only sees entries with its queue name.
type QueueStore struct {
	queueName string
	db        *storage.DB
	enc       Encoder
}

// NewQueueStore returns the partition of queueName in the store behind rdb.
func NewQueueStore(rdb redis.UniversalClient, queueName string) *QueueStore {
	return newQueueStore(storage.New(rdb, nil), queueName, &JSONEncoder{})
}

func newQueueStore(db *storage.DB, queueName string, enc Encoder) *QueueStore {
	return &QueueStore{queueName: queueName, db: db, enc: enc}
}

// PushEntry appends e after every entry of the partition.
func (s *QueueStore) PushEntry(ctx context.Context, e *QueueStoreEntry) error {
	rec, err := s.toRecord(e)
	if err != nil {
		return err
	}
	if _, err := s.db.Add(ctx, rec); err != nil {
		return fmt.Errorf("bgsync: push entry queue=%s: %w", s.queueName, err)
	}
	return nil
}

// UnshiftEntry inserts e ahead of every entry currently in the store.
func (s *QueueStore) UnshiftEntry(ctx context.Context, e *QueueStoreEntry) error {
	rec, err := s.toRecord(e)
	if err != nil {
		return err
	}
	if _, err := s.db.AddFirst(ctx, rec); err != nil {
		return fmt.Errorf("bgsync: unshift entry queue=%s: %w", s.queueName, err)
	}
	return nil
}

// PopEntry removes and returns the last entry, or nil when the partition is empty.
func (s *QueueStore) PopEntry(ctx context.Context) (*QueueStoreEntry, error) {
	return s.take(ctx, storage.Last)
}

// ShiftEntry removes and returns the first entry, or nil when the partition is empty.
func (s *QueueStore) ShiftEntry(ctx context.Context) (*QueueStoreEntry, error) {
	return s.take(ctx, storage.First)
}

func (s *QueueStore) take(ctx context.Context, end storage.End) (*QueueStoreEntry, error) {
	rec, err := s.db.Take(ctx, s.queueName, end)
	if err != nil {
		return nil, fmt.Errorf("bgsync: take entry queue=%s: %w", s.queueName, err)
	}
	if rec == nil {
		return nil, nil
	}
	e, err := s.fromRecord(rec)
	if err != nil {
		return nil, err
	}
	e.ID = 0
	return e, nil
}

// GetAll returns every entry of the partition in order, with ids, without removing them.
func (s *QueueStore) GetAll(ctx context.Context) ([]*QueueStoreEntry, error) {
	recs, err := s.db.List(ctx, s.queueName)
	if err != nil {
		return nil, fmt.Errorf("bgsync: list entries queue=%s: %w", s.queueName, err)
	}
	out := make([]*QueueStoreEntry, 0, len(recs))
	for _, rec := range recs {
		e, err := s.fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Size returns the number of entries in the partition.
func (s *QueueStore) Size(ctx context.Context) (int64, error) {
	return s.db.Count(ctx, s.queueName)
}

// DeleteEntry removes the entry with the given id.
func (s *QueueStore) DeleteEntry(ctx context.Context, id int64) error {
	return s.db.Delete(ctx, s.queueName, id)
}

func (s *QueueStore) toRecord(e *QueueStoreEntry) (*storage.Record, error) {
	if e == nil || e.RequestData == nil {
		return nil, fmt.Errorf("%w: entry without request data", ErrInvalidRequest)
	}
	data, err := s.enc.Encode(e.RequestData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	rec := &storage.Record{QueueName: s.queueName, Timestamp: e.Timestamp, RequestData: data}
	if len(e.Metadata) > 0 {
		md, err := s.enc.Encode(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("bgsync: encode metadata: %w", err)
		}
		rec.Metadata = md
	}
	return rec, nil
}

func (s *QueueStore) fromRecord(rec *storage.Record) (*QueueStoreEntry, error) {
	e := &QueueStoreEntry{ID: rec.ID, Timestamp: rec.Timestamp, RequestData: &StorableRequest{}}
	if err := s.enc.Decode(rec.RequestData, e.RequestData); err != nil {
		return nil, fmt.Errorf("bgsync: decode request data queue=%s id=%d: %w", s.queueName, rec.ID, err)
	}
	if len(rec.Metadata) > 0 && string(rec.Metadata) != "null" {
		if err := s.enc.Decode(rec.Metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("bgsync: decode metadata queue=%s id=%d: %w", s.queueName, rec.ID, err)
		}
	}
	return e, nil
}
