package bgsync

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Encoder turns a StorableRequest or entry metadata into the bytes kept in the
// store, and back. A QueueStore uses one Encoder for both.
type Encoder interface {
	Encode(any) ([]byte, error)
	Decode([]byte, any) error
}

// JSONEncoder writes records with encoding/json and reads them with sonic.
// Field names follow the json tags on StorableRequest, so records written by
// either side stay readable.
type JSONEncoder struct{}

func (*JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (*JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}
