package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the serving path. Handlers translate these into HTTP
// statuses; everything else is a 500.
var (
	// ErrNotFound covers unknown models, regions, runs, variables, and
	// forecast hours that were never declared. Hours a run declared but has
	// not published yet are not errors at all; FrameStatus reports them as
	// FramePending so clients keep polling.
	ErrNotFound = errors.New("not found")

	// ErrCorruptArtifact marks an artifact that exists on disk but cannot be
	// decoded. The frame is quarantined until a new run re-publishes it.
	ErrCorruptArtifact = errors.New("corrupt artifact")
)

// EncodingError reports a frame that could not be encoded. It aborts only the
// frame it names; sibling frames in the same run continue.
type EncodingError struct {
	Key    FrameKey
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %s", e.Key, e.Reason)
}

// PublishError reports a failed two-phase publish. The artifact stays absent
// rather than partially visible.
type PublishError struct {
	Key FrameKey
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Key, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// RetentionError reports a failed run eviction. Eviction is retried on the
// next cycle and never blocks new publishes.
type RetentionError struct {
	Run RunKey
	Err error
}

func (e *RetentionError) Error() string {
	return fmt.Sprintf("evict run %s/%s/%s: %v", e.Run.Model, e.Run.Region, e.Run.Run, e.Err)
}

func (e *RetentionError) Unwrap() error { return e.Err }
