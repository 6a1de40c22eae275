package domain

import "errors"

// Structural graph errors. Always surfaced to the caller, never silently
// corrected.
var (
	ErrSelfDependency    = errors.New("milestone cannot depend on itself")
	ErrDuplicateEdge     = errors.New("dependency edge already exists")
	ErrWouldCreateCycle  = errors.New("dependency edge would create a cycle")
	ErrEdgeNotFound      = errors.New("dependency edge not found")
	ErrMilestoneNotFound = errors.New("milestone not found")
)

// Lifecycle errors.
var (
	ErrAlreadyCompleted  = errors.New("milestone already completed")
	ErrInvalidTransition = errors.New("invalid progress transition")
)

// Concurrency and availability errors. ErrLockContention is retryable;
// ErrCacheUnavailable must be recovered by falling back to the durable
// store, never propagated out of core operations.
var (
	ErrLockContention   = errors.New("lock held by another holder")
	ErrCacheUnavailable = errors.New("cache tier unavailable")
	ErrTimeout          = errors.New("operation deadline exceeded")
)
