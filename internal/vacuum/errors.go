package vacuum

import (
	"errors"
	"fmt"
)

// Pass stages, used in ScopeError and logs.
const (
	StageSetup      = "setup"
	StageOrphan     = "orphan_check"
	StageStaleness  = "staleness_check"
	StageCheckpoint = "checkpoint"
	StageCleanup    = "sub_index_cleanup"
)

// ErrLeaseHeld is returned when another process holds the scope lease.
var ErrLeaseHeld = errors.New("vacuum: scope lease held by another process")

// ScopeError is the failure of one scope pass.
type ScopeError struct {
	ScopeID string
	Stage   string
	Err     error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("vacuum: scope %s failed at %s: %v", e.ScopeID, e.Stage, e.Err)
}

func (e *ScopeError) Unwrap() error { return e.Err }

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
