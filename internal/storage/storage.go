package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/UniQw/bgsync-go/internal/keys"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// ErrCorruptEntry is returned when a stored entry cannot be decoded.
var ErrCorruptEntry = errors.New("corrupt entry")

// Logger mirrors the public logger in the root package to avoid an import cycle.
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

// Record is one persisted request. ID is the hash field it is stored under
// and is not part of the stored JSON.
type Record struct {
	ID          int64           `json:"-"`
	QueueName   string          `json:"queueName"`
	Timestamp   int64           `json:"timestamp"`
	RequestData json.RawMessage `json:"requestData"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// End selects which end of a partition Take removes from.
type End int

const (
	// First is the entry with the smallest id.
	First End = iota
	// Last is the entry with the largest id.
	Last
)

// pushScript assigns the next auto-increment id and indexes the entry.
var pushScript = redis.NewScript(
	// language=Lua
	`
	local id = redis.call('INCR', KEYS[1])
	local sid = tostring(id)
	redis.call('HSET', KEYS[3], sid, ARGV[1])
	redis.call('ZADD', KEYS[2], id, sid)
	redis.call('ZADD', KEYS[4], id, sid)
	return id
	`,
)

// unshiftScript assigns an id one below the smallest id of any queue, or
// falls back to auto-increment when the store is empty.
var unshiftScript = redis.NewScript(
	// language=Lua
	`
	local first = redis.call('ZRANGE', KEYS[2], 0, 0, 'WITHSCORES')
	local id
	if #first == 0 then
	  id = redis.call('INCR', KEYS[1])
	else
	  id = tonumber(first[2]) - 1
	end
	local sid = tostring(id)
	redis.call('HSET', KEYS[3], sid, ARGV[1])
	redis.call('ZADD', KEYS[2], id, sid)
	redis.call('ZADD', KEYS[4], id, sid)
	return id
	`,
)

// takeScript reads and deletes the first or last entry of one partition.
// Index members without a stored body are dropped and the scan continues.
var takeScript = redis.NewScript(
	// language=Lua
	`
	while true do
	  local ids
	  if ARGV[1] == 'last' then
	    ids = redis.call('ZRANGE', KEYS[3], -1, -1)
	  else
	    ids = redis.call('ZRANGE', KEYS[3], 0, 0)
	  end
	  if #ids == 0 then return false end
	  local sid = ids[1]
	  local raw = redis.call('HGET', KEYS[2], sid)
	  redis.call('HDEL', KEYS[2], sid)
	  redis.call('ZREM', KEYS[1], sid)
	  redis.call('ZREM', KEYS[3], sid)
	  if raw then return {sid, raw} end
	end
	`,
)

// DB is the shared physical store. Several queues may use one DB (or several
// DB values over the same Redis); each touches only its own partition.
type DB struct {
	rdb    redis.UniversalClient
	k      keys.Store
	log    Logger
	mu     sync.Mutex
	opened bool
}

// New returns a DB over rdb. The schema upgrade runs lazily on first use.
func New(rdb redis.UniversalClient, log Logger) *DB {
	if log == nil {
		log = noopLogger{}
	}
	return &DB{rdb: rdb, k: keys.ForStore(), log: log}
}

// Open runs the schema upgrade if it has not completed yet. Every operation
// calls it, so callers only need it to surface storage errors early.
func (db *DB) Open(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.opened {
		return nil
	}
	if err := db.upgrade(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	db.opened = true
	return nil
}

// Add stores rec at the tail of its partition and returns the assigned id.
// Any rec.ID is ignored.
func (db *DB) Add(ctx context.Context, rec *Record) (int64, error) {
	return db.insert(ctx, pushScript, rec)
}

// AddFirst stores rec ahead of every entry currently in the store, in any
// partition, and returns the assigned id. Any rec.ID is ignored.
func (db *DB) AddFirst(ctx context.Context, rec *Record) (int64, error) {
	return db.insert(ctx, unshiftScript, rec)
}

func (db *DB) insert(ctx context.Context, s *redis.Script, rec *Record) (int64, error) {
	if err := db.Open(ctx); err != nil {
		return 0, err
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return 0, err
	}
	return s.Run(ctx, db.rdb, []string{db.k.Seq, db.k.IDs, db.k.Entries, keys.Queue(rec.QueueName)}, raw).Int64()
}

// Take removes and returns the entry at the given end of a partition.
// It returns nil, nil when the partition is empty.
func (db *DB) Take(ctx context.Context, queue string, end End) (*Record, error) {
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	which := "first"
	if end == Last {
		which = "last"
	}
	res, err := takeScript.Run(ctx, db.rdb, []string{db.k.IDs, db.k.Entries, keys.Queue(queue)}, which).Slice()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected reply length %d", ErrCorruptEntry, len(res))
	}
	sid, _ := res[0].(string)
	raw, _ := res[1].(string)
	return decodeRecord(sid, raw)
}

// List returns every entry of a partition in id order without removing them.
func (db *DB) List(ctx context.Context, queue string) ([]*Record, error) {
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	ids, err := db.rdb.ZRange(ctx, keys.Queue(queue), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := db.rdb.HMGet(ctx, db.k.Entries, ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			db.log.Warnf("store: index entry without body queue=%s id=%s", queue, ids[i])
			continue
		}
		rec, err := decodeRecord(ids[i], s)
		if err != nil {
			db.log.Warnf("store: skipping undecodable entry queue=%s id=%s err=%v", queue, ids[i], err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of entries in a partition.
func (db *DB) Count(ctx context.Context, queue string) (int64, error) {
	if err := db.Open(ctx); err != nil {
		return 0, err
	}
	return db.rdb.ZCard(ctx, keys.Queue(queue)).Result()
}

// Delete removes one entry of a partition by id. Deleting a missing id is not an error.
func (db *DB) Delete(ctx context.Context, queue string, id int64) error {
	if err := db.Open(ctx); err != nil {
		return err
	}
	sid := strconv.FormatInt(id, 10)
	_, err := db.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, db.k.Entries, sid)
		p.ZRem(ctx, db.k.IDs, sid)
		p.ZRem(ctx, keys.Queue(queue), sid)
		return nil
	})
	return err
}

// encodeRecord uses stdlib json.Marshal for encoding, matching the decode side's
// field names; sonic is used for decoding only.
func encodeRecord(rec *Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return b, nil
}

func decodeRecord(sid, raw string) (*Record, error) {
	id, err := strconv.ParseInt(sid, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad id %q", ErrCorruptEntry, sid)
	}
	rec := &Record{}
	if err := sonic.UnmarshalString(raw, rec); err != nil {
		return nil, fmt.Errorf("%w: id=%d: %v", ErrCorruptEntry, id, err)
	}
	rec.ID = id
	return rec, nil
}
