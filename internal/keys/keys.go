package keys

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.
//
// Every key carries the {bgsync} hash tag so the ordered-store scripts,
// which touch global and per-queue keys together, stay in one cluster slot.

const prefix = "bgsync:{bgsync}:"

func Seq() string     { return prefix + "seq" }
func Entries() string { return prefix + "entries" }
func IDs() string     { return prefix + "ids" }
func Version() string { return prefix + "version" }

// Queue returns the per-queue ZSET key indexing entry ids of one partition.
// Scores are the entry ids.
func Queue(name string) string { return prefix + "queue:" + name }

// Legacy is the pre-versioned layout: one global LIST holding every queued
// request with its queue name nested inside the record.
func Legacy() string { return prefix + "requests" }

// SyncTags is the SET of registered sync tags awaiting dispatch.
func SyncTags() string { return prefix + "sync:tags" }

// SyncAttempts is a HASH of tag -> failed dispatch attempts.
func SyncAttempts() string { return prefix + "sync:attempts" }

// Store holds all precomputed keys used by the ordered store to avoid repeated concatenations.
type Store struct {
	Seq     string
	Entries string
	IDs     string
	Version string
	Legacy  string
}

// ForStore returns the set of precomputed ordered-store keys.
func ForStore() Store {
	return Store{
		Seq:     Seq(),
		Entries: Entries(),
		IDs:     IDs(),
		Version: Version(),
		Legacy:  Legacy(),
	}
}
