package bgsync

import (
	"errors"
	"fmt"
)

// ErrDuplicateQueue is returned by NewQueue when the name is already registered.
var ErrDuplicateQueue = errors.New("bgsync: duplicate queue name")

// ErrInvalidRequest is returned when a request cannot be converted to or from a StorableRequest.
var ErrInvalidRequest = errors.New("bgsync: invalid request")

// ErrBodyConsumed is returned when a request body was already read before it could be stored.
var ErrBodyConsumed = errors.New("bgsync: request body already consumed")

// ErrQueueReplayFailed is matched by every ReplayError.
var ErrQueueReplayFailed = errors.New("bgsync: queue replay failed")

// ReplayError reports that ReplayRequests stopped on a failed request.
// The failed request has been put back at the head of the queue.
type ReplayError struct {
	Queue string
	Err   error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("%v: queue=%s: %v", ErrQueueReplayFailed, e.Queue, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrQueueReplayFailed) true for any ReplayError.
func (e *ReplayError) Is(target error) bool { return target == ErrQueueReplayFailed }
