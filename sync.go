package bgsync

import "context"

// SyncTagPrefix prefixes every queue's sync tag: "<prefix>:<queue name>".
const SyncTagPrefix = "bgsync"

// SyncEvent is delivered when connectivity is likely restored for a registered tag.
type SyncEvent struct {
	// ID identifies one dispatch, for log correlation.
	ID string
	// Tag is the registered tag the event is for.
	Tag string
	// LastChance is true when the dispatcher will not retry this registration after a failure.
	LastChance bool
}

// SyncHandler handles a sync event. The dispatcher waits for it to return;
// a non-nil error marks the attempt failed.
type SyncHandler func(ctx context.Context, ev SyncEvent) error

// SyncManager is the reconnect-signal capability a Queue registers with.
// A nil SyncManager means the capability is unsupported.
type SyncManager interface {
	// Register asks for a SyncEvent with tag once connectivity returns.
	Register(ctx context.Context, tag string) error
	// Handle routes events for tag to h.
	Handle(tag string, h SyncHandler)
}
