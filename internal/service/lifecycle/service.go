// Package lifecycle owns the per-(user, milestone) status state machine.
// Every mutation of a progress row goes through here: rows are created
// lazily, transitioned under a per-pair lease lock, written through to the
// durable store first and the cache second, and appended to the progress
// log.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pathway-labs/pathway-go/internal/cache"
	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/repo"
)

type Service struct {
	milestones repo.MilestoneRepository
	progress   repo.ProgressRepository
	log        repo.ProgressLogAppender
	locks      cache.Locker
	tiered     *cache.Tiered
	flusher    *cache.WriteBehind
	logger     *slog.Logger
	now        func() time.Time
}

func New(
	milestones repo.MilestoneRepository,
	progress repo.ProgressRepository,
	progressLog repo.ProgressLogAppender,
	locks cache.Locker,
	tiered *cache.Tiered,
	flusher *cache.WriteBehind,
	logger *slog.Logger,
) *Service {
	if milestones == nil || progress == nil || locks == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		milestones: milestones,
		progress:   progress,
		log:        progressLog,
		locks:      locks,
		tiered:     tiered,
		flusher:    flusher,
		logger:     logger,
		now:        time.Now,
	}
}

// Ensure returns the user's progress row for a milestone, creating it lazily
// when absent. canStart decides whether a new row begins AVAILABLE or
// LOCKED.
func (s *Service) Ensure(ctx context.Context, userID string, milestone domain.Milestone, canStart bool) (domain.UserMilestoneProgress, error) {
	row, err := s.progress.Get(ctx, userID, milestone.ID)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.UserMilestoneProgress{}, fmt.Errorf("get progress: %w", err)
	}

	status := domain.StatusLocked
	if canStart {
		status = domain.StatusAvailable
	}
	row = domain.UserMilestoneProgress{
		ID:          uuid.NewString(),
		UserID:      userID,
		MilestoneID: milestone.ID,
		Status:      status,
		TotalSteps:  milestone.TotalSteps,
		CreatedAt:   s.now().UTC(),
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.progress.Create(ctx, row); err != nil {
		// A concurrent initializer may have created the row first.
		existing, getErr := s.progress.Get(ctx, userID, milestone.ID)
		if getErr == nil {
			return existing, nil
		}
		return domain.UserMilestoneProgress{}, fmt.Errorf("create progress: %w", err)
	}
	s.appendLog(ctx, row, "", row.Status, nil)
	return row, nil
}

// Start transitions AVAILABLE or FAILED work to IN_PROGRESS. Starting an
// already IN_PROGRESS row is a no-op that returns the current row; starting
// COMPLETED work fails with domain.ErrAlreadyCompleted.
func (s *Service) Start(ctx context.Context, userID string, milestone domain.Milestone) (domain.UserMilestoneProgress, error) {
	release, err := s.acquire(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	defer release()

	row, err := s.progress.Get(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, fmt.Errorf("get progress: %w", err)
	}

	switch row.Status {
	case domain.StatusInProgress:
		return row, nil
	case domain.StatusCompleted:
		return row, domain.ErrAlreadyCompleted
	case domain.StatusAvailable, domain.StatusFailed:
	default:
		return row, fmt.Errorf("%w: cannot start %q work", domain.ErrInvalidTransition, row.Status)
	}

	from := row.Status
	if row.Status == domain.StatusFailed {
		row.ProcessingAttempts++
		row.LastError = ""
	}
	row.Status = domain.StatusInProgress
	if row.StartedAt == nil {
		startedAt := s.now().UTC()
		row.StartedAt = &startedAt
	}
	if err := s.persist(ctx, &row, from, nil); err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	return row, nil
}

// AdvanceStep moves IN_PROGRESS work to the given step and merges
// checkpointData into the stored checkpoint. Steps are monotonic: a step at
// or below the current one leaves the row unchanged and reports
// advanced=false.
func (s *Service) AdvanceStep(ctx context.Context, userID string, milestone domain.Milestone, step int, checkpointData domain.Metadata) (domain.UserMilestoneProgress, bool, error) {
	release, err := s.acquire(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, false, err
	}
	defer release()

	row, err := s.progress.Get(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, false, fmt.Errorf("get progress: %w", err)
	}
	if row.Status != domain.StatusInProgress {
		return row, false, fmt.Errorf("%w: cannot advance %q work", domain.ErrInvalidTransition, row.Status)
	}
	if step > row.TotalSteps {
		return row, false, fmt.Errorf("step %d exceeds total steps %d", step, row.TotalSteps)
	}
	if step <= row.CurrentStep {
		return row, false, nil
	}

	row.CurrentStep = step
	row.CompletionPercentage = domain.StepPercentage(step, row.TotalSteps)
	if len(checkpointData) > 0 {
		row.Checkpoint = row.Checkpoint.Merge(checkpointData)
	}
	if err := s.persist(ctx, &row, row.Status, domain.Metadata{"step": step}); err != nil {
		return domain.UserMilestoneProgress{}, false, err
	}
	return row, true, nil
}

// Complete finishes IN_PROGRESS work: 100%, completed_at, output and
// quality score. Completing twice fails with domain.ErrAlreadyCompleted.
// The unlock cascade runs as a post-condition, driven by the caller.
func (s *Service) Complete(ctx context.Context, userID string, milestone domain.Milestone, output domain.Metadata, qualityScore *float64) (domain.UserMilestoneProgress, error) {
	release, err := s.acquire(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	defer release()

	row, err := s.progress.Get(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, fmt.Errorf("get progress: %w", err)
	}
	if row.Status == domain.StatusCompleted {
		return row, domain.ErrAlreadyCompleted
	}
	if row.Status != domain.StatusInProgress {
		return row, fmt.Errorf("%w: cannot complete %q work", domain.ErrInvalidTransition, row.Status)
	}

	from := row.Status
	completedAt := s.now().UTC()
	row.Status = domain.StatusCompleted
	row.CompletionPercentage = 100
	row.CurrentStep = row.TotalSteps
	row.CompletedAt = &completedAt
	if len(output) > 0 {
		row.Output = output.Clone()
	}
	if qualityScore != nil {
		score := *qualityScore
		row.QualityScore = &score
	}
	if err := s.persist(ctx, &row, from, nil); err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	return row, nil
}

// Fail marks IN_PROGRESS work FAILED with the given detail. Failed work can
// be retried through Start. Fail never cascades.
func (s *Service) Fail(ctx context.Context, userID string, milestone domain.Milestone, errorDetail string) (domain.UserMilestoneProgress, error) {
	release, err := s.acquire(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	defer release()

	row, err := s.progress.Get(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, fmt.Errorf("get progress: %w", err)
	}
	if row.Status != domain.StatusInProgress {
		return row, fmt.Errorf("%w: cannot fail %q work", domain.ErrInvalidTransition, row.Status)
	}

	from := row.Status
	row.Status = domain.StatusFailed
	row.LastError = strings.TrimSpace(errorDetail)
	detail := domain.Metadata{}
	if row.LastError != "" {
		detail["error"] = row.LastError
	}
	if err := s.persist(ctx, &row, from, detail); err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	return row, nil
}

// Skip marks AVAILABLE or IN_PROGRESS work SKIPPED. The caller is
// responsible for checking the milestone is actually skippable (no dependent
// requires it).
func (s *Service) Skip(ctx context.Context, userID string, milestone domain.Milestone) (domain.UserMilestoneProgress, error) {
	release, err := s.acquire(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	defer release()

	row, err := s.progress.Get(ctx, userID, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, fmt.Errorf("get progress: %w", err)
	}
	if err := domain.ValidateTransition(row.Status, domain.StatusSkipped); err != nil {
		return row, err
	}
	if row.Status == domain.StatusSkipped {
		return row, nil
	}

	from := row.Status
	row.Status = domain.StatusSkipped
	if err := s.persist(ctx, &row, from, nil); err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	return row, nil
}

// Unlock transitions a LOCKED row to AVAILABLE. Used by the cascade engine;
// anything other than LOCKED is left untouched so repeated cascades stay
// idempotent.
func (s *Service) Unlock(ctx context.Context, userID string, milestone domain.Milestone) (domain.UserMilestoneProgress, bool, error) {
	row, err := s.progress.Get(ctx, userID, milestone.ID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.UserMilestoneProgress{}, false, fmt.Errorf("get progress: %w", err)
		}
		row, err = s.Ensure(ctx, userID, milestone, true)
		if err != nil {
			return domain.UserMilestoneProgress{}, false, err
		}
		if row.Status != domain.StatusAvailable {
			return row, false, nil
		}
		s.invalidate(ctx, userID, milestone.ID)
		return row, true, nil
	}
	if row.Status != domain.StatusLocked {
		return row, false, nil
	}

	from := row.Status
	row.Status = domain.StatusAvailable
	if err := s.persist(ctx, &row, from, nil); err != nil {
		return domain.UserMilestoneProgress{}, false, err
	}
	return row, true, nil
}

// Touch records session activity on a milestone. The cache is updated
// immediately; the durable write flushes through the write-behind queue and
// may be lost on a crash.
func (s *Service) Touch(ctx context.Context, userID, milestoneID string) {
	at := s.now().UTC()
	if s.tiered != nil {
		s.tiered.Invalidate(ctx, cache.ProgressKey(userID, milestoneID))
	}
	if s.flusher == nil {
		if err := s.progress.TouchLastAccessed(ctx, userID, milestoneID, at); err != nil {
			s.logger.Warn("touch last accessed", "user_id", userID, "milestone_id", milestoneID, "error", err)
		}
		return
	}
	s.flusher.Enqueue("touch_last_accessed", func(flushCtx context.Context) error {
		return s.progress.TouchLastAccessed(flushCtx, userID, milestoneID, at)
	})
}

// persist writes the row through to the durable store, then updates the
// cache tiers and appends the transition log. Cache entries for the user are
// invalidated, not overwritten, so concurrent readers recompute.
func (s *Service) persist(ctx context.Context, row *domain.UserMilestoneProgress, from domain.ProgressStatus, detail domain.Metadata) error {
	row.UpdatedAt = s.now().UTC()
	if err := s.progress.Update(ctx, *row); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	s.invalidate(ctx, row.UserID, row.MilestoneID)
	s.appendLog(ctx, *row, from, row.Status, detail)
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID, milestoneID string) {
	if s.tiered == nil {
		return
	}
	s.tiered.Invalidate(ctx, cache.ProgressKey(userID, milestoneID), cache.TreeKey(userID))
	s.tiered.InvalidatePattern(ctx, cache.UserCheckPattern(userID))
}

func (s *Service) appendLog(ctx context.Context, row domain.UserMilestoneProgress, from, to domain.ProgressStatus, detail domain.Metadata) {
	if s.log == nil {
		return
	}
	entry := repo.ProgressLogEntry{
		UserID:      row.UserID,
		MilestoneID: row.MilestoneID,
		FromStatus:  from,
		ToStatus:    to,
		Percentage:  row.CompletionPercentage,
		Detail:      detail,
		OccurredAt:  s.now().UTC(),
	}
	if err := s.log.Append(ctx, entry); err != nil {
		s.logger.Warn("append progress log", "user_id", row.UserID, "milestone_id", row.MilestoneID, "error", err)
	}
}

func (s *Service) acquire(ctx context.Context, userID, milestoneID string) (func(), error) {
	key := cache.CascadeLockKey(userID, milestoneID)
	token, ok, err := s.locks.Acquire(ctx, key, cache.LockLeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockContention, key)
	}
	return func() {
		if _, err := s.locks.Release(ctx, key, token); err != nil {
			s.logger.Warn("release lock", "key", key, "error", err)
		}
	}, nil
}
