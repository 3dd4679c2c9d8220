package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/UniQw/bgsync-go/internal/keys"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Version is the current schema version stored under keys.Version.
const Version = 3

const maxUpgradeAttempts = 5

// legacyRecord is the layout written before versioning: the request URL and
// its init fields were nested under storableRequest.
type legacyRecord struct {
	QueueName       string `json:"queueName"`
	StorableRequest struct {
		URL         string                     `json:"url"`
		RequestInit map[string]json.RawMessage `json:"requestInit"`
	} `json:"storableRequest"`
	Timestamp int64 `json:"timestamp"`
}

// upgrade moves entries from the legacy global LIST into the flat layout,
// preserving order, timestamps and request bodies, then stamps the version.
// It runs as an optimistic transaction so concurrent openers migrate once.
func (db *DB) upgrade(ctx context.Context) error {
	k := db.k
	fn := func(tx *redis.Tx) error {
		v, err := tx.Get(ctx, k.Version).Int()
		if err != nil && err != redis.Nil {
			return err
		}
		if v >= Version {
			return nil
		}
		items, err := tx.LRange(ctx, k.Legacy, 0, -1).Result()
		if err != nil {
			return err
		}
		seq, err := tx.Get(ctx, k.Seq).Int64()
		if err != nil && err != redis.Nil {
			return err
		}

		recs := make([]*Record, 0, len(items))
		raws := make([][]byte, 0, len(items))
		for _, it := range items {
			rec, err := fromLegacy(it)
			if err != nil {
				db.log.Warnf("migration: skipping unreadable legacy entry err=%v", err)
				continue
			}
			raw, err := encodeRecord(rec)
			if err != nil {
				db.log.Warnf("migration: skipping legacy entry queue=%s err=%v", rec.QueueName, err)
				continue
			}
			recs = append(recs, rec)
			raws = append(raws, raw)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for i, rec := range recs {
				seq++
				sid := strconv.FormatInt(seq, 10)
				p.HSet(ctx, k.Entries, sid, raws[i])
				p.ZAdd(ctx, k.IDs, redis.Z{Score: float64(seq), Member: sid})
				p.ZAdd(ctx, keys.Queue(rec.QueueName), redis.Z{Score: float64(seq), Member: sid})
			}
			if len(recs) > 0 {
				p.Set(ctx, k.Seq, seq, 0)
			}
			p.Del(ctx, k.Legacy)
			p.Set(ctx, k.Version, Version, 0)
			return nil
		})
		if err != nil {
			return err
		}
		if len(items) > 0 {
			db.log.Infof("migration: legacy requests moved count=%d skipped=%d version=%d", len(recs), len(items)-len(recs), Version)
		}
		return nil
	}

	for i := 0; i < maxUpgradeAttempts; i++ {
		err := db.rdb.Watch(ctx, fn, k.Version, k.Legacy, k.Seq)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("upgrade: %w", redis.TxFailedErr)
}

func fromLegacy(raw string) (*Record, error) {
	var old legacyRecord
	if err := sonic.UnmarshalString(raw, &old); err != nil {
		return nil, err
	}
	if old.QueueName == "" {
		return nil, errors.New("legacy entry without queueName")
	}
	flat := make(map[string]json.RawMessage, len(old.StorableRequest.RequestInit)+1)
	for f, v := range old.StorableRequest.RequestInit {
		flat[f] = v
	}
	u, err := json.Marshal(old.StorableRequest.URL)
	if err != nil {
		return nil, err
	}
	flat["url"] = u
	data, err := json.Marshal(flat)
	if err != nil {
		return nil, err
	}
	return &Record{QueueName: old.QueueName, Timestamp: old.Timestamp, RequestData: data}, nil
}
