// Package cascade re-evaluates and unlocks direct dependents after a
// milestone completes. Each dependent's own future completion triggers its
// own cascade, so one event never walks more than one edge level.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pathway-labs/pathway-go/internal/cache"
	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/graph"
	"github.com/pathway-labs/pathway-go/internal/repo"
	"github.com/pathway-labs/pathway-go/internal/service/lifecycle"
	"github.com/pathway-labs/pathway-go/internal/service/validation"
)

// Unlocked reports one dependent transitioned to AVAILABLE by a cascade.
type Unlocked struct {
	MilestoneID   string
	MilestoneCode string
}

type Engine struct {
	graph      *graph.Store
	milestones repo.MilestoneRepository
	lifecycle  *lifecycle.Service
	validator  *validation.Validator
	locks      cache.Locker
	logger     *slog.Logger
	now        func() time.Time
}

func New(
	graphStore *graph.Store,
	milestones repo.MilestoneRepository,
	lifecycleService *lifecycle.Service,
	validator *validation.Validator,
	locks cache.Locker,
	logger *slog.Logger,
) *Engine {
	if graphStore == nil || milestones == nil || lifecycleService == nil || validator == nil || locks == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		graph:      graphStore,
		milestones: milestones,
		lifecycle:  lifecycleService,
		validator:  validator,
		locks:      locks,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessCompletion visits every direct dependent of the completed milestone
// and unlocks those whose prerequisites are now fully met. Work per event is
// bounded by the completed node's out-degree.
//
// The pass is idempotent: only LOCKED rows (or absent rows) transition, so
// re-invoking for an already-processed completion returns an empty list. It
// is also commutative: sibling completions cascading in either order reach
// the same final unlocked set, because each dependent is re-validated
// against current state under its own lock.
//
// Dependents whose lock is held elsewhere are skipped and reported through a
// joined domain.ErrLockContention so the caller can retry; already-unlocked
// and still-blocked dependents are skipped silently.
func (e *Engine) ProcessCompletion(ctx context.Context, userID, completedMilestoneID string) ([]Unlocked, error) {
	dependents, err := e.graph.Dependents(ctx, completedMilestoneID)
	if err != nil {
		return nil, fmt.Errorf("dependents of %s: %w", completedMilestoneID, err)
	}

	unlocked := make([]Unlocked, 0, len(dependents))
	var contended []error
	for _, edge := range dependents {
		milestone, err := e.milestones.Get(ctx, edge.MilestoneID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				e.logger.Warn("dangling dependency edge", "milestone_id", edge.MilestoneID, "prerequisite_id", edge.PrerequisiteID)
				continue
			}
			return unlocked, fmt.Errorf("get milestone %s: %w", edge.MilestoneID, err)
		}
		if !milestone.AutoUnlock {
			continue
		}

		entry, err := e.processDependent(ctx, userID, milestone)
		if err != nil {
			if errors.Is(err, domain.ErrLockContention) {
				contended = append(contended, err)
				continue
			}
			return unlocked, err
		}
		if entry != nil {
			unlocked = append(unlocked, *entry)
		}
	}
	return unlocked, errors.Join(contended...)
}

func (e *Engine) processDependent(ctx context.Context, userID string, milestone domain.Milestone) (*Unlocked, error) {
	key := cache.CascadeLockKey(userID, milestone.ID)
	token, ok, err := e.locks.Acquire(ctx, key, cache.LockLeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockContention, key)
	}
	defer func() {
		if _, err := e.locks.Release(ctx, key, token); err != nil {
			e.logger.Warn("release cascade lock", "key", key, "error", err)
		}
	}()

	// Re-validate under the lock: the completion that triggered this cascade
	// already invalidated the user's cached check results.
	result, err := e.validator.Validate(ctx, userID, milestone, true)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("revalidate %s: %w", milestone.Code, err)
	}
	if !result.CanStart {
		return nil, nil
	}

	_, transitioned, err := e.lifecycle.Unlock(ctx, userID, milestone)
	if err != nil {
		return nil, fmt.Errorf("unlock %s: %w", milestone.Code, err)
	}
	if !transitioned {
		return nil, nil
	}
	e.logger.Info("milestone unlocked", "user_id", userID, "milestone_code", milestone.Code)
	return &Unlocked{MilestoneID: milestone.ID, MilestoneCode: milestone.Code}, nil
}
