package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pathway-labs/pathway-go/internal/cache"
	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/repo"
)

type fakeMilestoneRepo struct {
	milestones map[string]domain.Milestone
}

func (f *fakeMilestoneRepo) Create(ctx context.Context, milestone domain.Milestone) error {
	f.milestones[milestone.ID] = milestone
	return nil
}

func (f *fakeMilestoneRepo) Get(ctx context.Context, id string) (domain.Milestone, error) {
	milestone, ok := f.milestones[id]
	if !ok {
		return domain.Milestone{}, repo.ErrNotFound
	}
	return milestone, nil
}

func (f *fakeMilestoneRepo) GetByCode(ctx context.Context, code string) (domain.Milestone, error) {
	for _, milestone := range f.milestones {
		if milestone.Code == code {
			return milestone, nil
		}
	}
	return domain.Milestone{}, repo.ErrNotFound
}

func (f *fakeMilestoneRepo) List(ctx context.Context, filter repo.MilestoneFilter) ([]domain.Milestone, error) {
	out := make([]domain.Milestone, 0, len(f.milestones))
	for _, milestone := range f.milestones {
		out = append(out, milestone)
	}
	return out, nil
}

type fakeProgressRepo struct {
	rows    map[string]domain.UserMilestoneProgress
	touches int
}

func key(userID, milestoneID string) string { return userID + "/" + milestoneID }

func (f *fakeProgressRepo) Create(ctx context.Context, progress domain.UserMilestoneProgress) error {
	k := key(progress.UserID, progress.MilestoneID)
	if _, ok := f.rows[k]; ok {
		return errors.New("row exists")
	}
	f.rows[k] = progress
	return nil
}

func (f *fakeProgressRepo) Get(ctx context.Context, userID, milestoneID string) (domain.UserMilestoneProgress, error) {
	row, ok := f.rows[key(userID, milestoneID)]
	if !ok {
		return domain.UserMilestoneProgress{}, repo.ErrNotFound
	}
	return row, nil
}

func (f *fakeProgressRepo) ListByUser(ctx context.Context, filter repo.ProgressFilter) ([]domain.UserMilestoneProgress, error) {
	out := make([]domain.UserMilestoneProgress, 0)
	for _, row := range f.rows {
		if row.UserID == filter.UserID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeProgressRepo) Update(ctx context.Context, progress domain.UserMilestoneProgress) error {
	k := key(progress.UserID, progress.MilestoneID)
	if _, ok := f.rows[k]; !ok {
		return repo.ErrNotFound
	}
	f.rows[k] = progress
	return nil
}

func (f *fakeProgressRepo) TouchLastAccessed(ctx context.Context, userID, milestoneID string, at time.Time) error {
	f.touches++
	return nil
}

type fakeLogAppender struct {
	entries []repo.ProgressLogEntry
}

func (f *fakeLogAppender) Append(ctx context.Context, entry repo.ProgressLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fixture struct {
	service   *Service
	progress  *fakeProgressRepo
	log       *fakeLogAppender
	milestone domain.Milestone
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	milestone := domain.Milestone{
		ID: "m1", Code: "m1", Type: domain.MilestoneTypeFree,
		TotalSteps: 4, Active: true, AutoUnlock: true,
	}
	milestones := &fakeMilestoneRepo{milestones: map[string]domain.Milestone{"m1": milestone}}
	progress := &fakeProgressRepo{rows: map[string]domain.UserMilestoneProgress{}}
	log := &fakeLogAppender{}
	service := New(
		milestones,
		progress,
		log,
		cache.NewLocalLocker(),
		cache.NewTiered(cache.NewLocal(), nil, nil),
		nil,
		nil,
	)
	if service == nil {
		t.Fatalf("expected service")
	}
	return &fixture{service: service, progress: progress, log: log, milestone: milestone}
}

func TestEnsureCreatesLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row, err := f.service.Ensure(ctx, "u1", f.milestone, false)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if row.Status != domain.StatusLocked {
		t.Fatalf("expected locked row, got %s", row.Status)
	}
	if row.TotalSteps != 4 {
		t.Fatalf("total steps must come from the milestone template, got %d", row.TotalSteps)
	}

	// Idempotent: the existing row wins, even with a different gate result.
	row, err = f.service.Ensure(ctx, "u1", f.milestone, true)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if row.Status != domain.StatusLocked {
		t.Fatalf("second ensure must not recreate the row")
	}
}

func TestStartLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Ensure(ctx, "u1", f.milestone, true); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	row, err := f.service.Start(ctx, "u1", f.milestone)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if row.Status != domain.StatusInProgress || row.StartedAt == nil {
		t.Fatalf("unexpected row after start: %+v", row)
	}
	startedAt := *row.StartedAt

	// Starting again is a no-op returning the current row.
	row, err = f.service.Start(ctx, "u1", f.milestone)
	if err != nil {
		t.Fatalf("repeat start: %v", err)
	}
	if row.Status != domain.StatusInProgress || !row.StartedAt.Equal(startedAt) {
		t.Fatalf("repeat start must not mutate, got %+v", row)
	}
}

func TestStartLockedRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Ensure(ctx, "u1", f.milestone, false); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	_, err := f.service.Start(ctx, "u1", f.milestone)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestAdvanceStepMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Ensure(ctx, "u1", f.milestone, true); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.service.Start(ctx, "u1", f.milestone); err != nil {
		t.Fatalf("start: %v", err)
	}

	row, advanced, err := f.service.AdvanceStep(ctx, "u1", f.milestone, 3, domain.Metadata{"note": "a"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !advanced {
		t.Fatalf("first advance must report progress")
	}
	if row.CurrentStep != 3 || row.CompletionPercentage != 75 {
		t.Fatalf("unexpected row after advance: step=%d pct=%v", row.CurrentStep, row.CompletionPercentage)
	}

	// A lower step is ignored, not an error, and percentage never regresses.
	row, advanced, err = f.service.AdvanceStep(ctx, "u1", f.milestone, 2, nil)
	if err != nil {
		t.Fatalf("advance lower: %v", err)
	}
	if advanced {
		t.Fatalf("lower step must report no advance")
	}
	if row.CurrentStep != 3 || row.CompletionPercentage != 75 {
		t.Fatalf("lower step must not regress progress: %+v", row)
	}

	// Repeating the current step is a no-op, not a fresh advance.
	if _, advanced, err := f.service.AdvanceStep(ctx, "u1", f.milestone, 3, nil); err != nil || advanced {
		t.Fatalf("repeated step must be a silent no-op: advanced=%v err=%v", advanced, err)
	}

	if _, _, err := f.service.AdvanceStep(ctx, "u1", f.milestone, 9, nil); err == nil {
		t.Fatalf("step beyond total must be rejected")
	}

	row, advanced, err = f.service.AdvanceStep(ctx, "u1", f.milestone, 4, domain.Metadata{"note": "b", "extra": 1})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !advanced {
		t.Fatalf("final advance must report progress")
	}
	if row.CompletionPercentage != 100 {
		t.Fatalf("expected 100%% at final step, got %v", row.CompletionPercentage)
	}
	if row.Checkpoint["note"] != "b" || row.Checkpoint["extra"] != 1 {
		t.Fatalf("checkpoint must merge, got %+v", row.Checkpoint)
	}
}

func TestCompleteAndAlreadyCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Ensure(ctx, "u1", f.milestone, true); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.service.Start(ctx, "u1", f.milestone); err != nil {
		t.Fatalf("start: %v", err)
	}

	score := 92.5
	row, err := f.service.Complete(ctx, "u1", f.milestone, domain.Metadata{"artifact": "out"}, &score)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if row.Status != domain.StatusCompleted || row.CompletionPercentage != 100 || row.CompletedAt == nil {
		t.Fatalf("unexpected row after complete: %+v", row)
	}
	if row.QualityScore == nil || *row.QualityScore != 92.5 {
		t.Fatalf("quality score not stored: %+v", row.QualityScore)
	}

	if _, err := f.service.Complete(ctx, "u1", f.milestone, nil, nil); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}
	if _, err := f.service.Start(ctx, "u1", f.milestone); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("starting completed work must fail, got %v", err)
	}
}

func TestFailAndRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Ensure(ctx, "u1", f.milestone, true); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.service.Start(ctx, "u1", f.milestone); err != nil {
		t.Fatalf("start: %v", err)
	}

	row, err := f.service.Fail(ctx, "u1", f.milestone, "worker crashed")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if row.Status != domain.StatusFailed || row.LastError != "worker crashed" {
		t.Fatalf("unexpected row after fail: %+v", row)
	}

	row, err = f.service.Start(ctx, "u1", f.milestone)
	if err != nil {
		t.Fatalf("retry start: %v", err)
	}
	if row.Status != domain.StatusInProgress || row.ProcessingAttempts != 1 || row.LastError != "" {
		t.Fatalf("retry must increment attempts and clear error: %+v", row)
	}
}

func TestSkipTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Ensure(ctx, "u1", f.milestone, true); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	row, err := f.service.Skip(ctx, "u1", f.milestone)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if row.Status != domain.StatusSkipped {
		t.Fatalf("expected skipped, got %s", row.Status)
	}

	// Skipped is terminal.
	if _, err := f.service.Start(ctx, "u1", f.milestone); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from skipped, got %v", err)
	}
}

func TestUnlockOnlyActsOnLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Absent row: created AVAILABLE and reported as transitioned.
	row, transitioned, err := f.service.Unlock(ctx, "u1", f.milestone)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !transitioned || row.Status != domain.StatusAvailable {
		t.Fatalf("expected fresh available row, got transitioned=%v %+v", transitioned, row)
	}

	// Already available: nothing to do.
	_, transitioned, err = f.service.Unlock(ctx, "u1", f.milestone)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if transitioned {
		t.Fatalf("repeat unlock must be a no-op")
	}
}

func TestTransitionsAppendToLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Ensure(ctx, "u1", f.milestone, true); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.service.Start(ctx, "u1", f.milestone); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.Complete(ctx, "u1", f.milestone, nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// ensure + start + complete
	if len(f.log.entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(f.log.entries))
	}
	last := f.log.entries[len(f.log.entries)-1]
	if last.FromStatus != domain.StatusInProgress || last.ToStatus != domain.StatusCompleted {
		t.Fatalf("unexpected final log entry: %+v", last)
	}
}

func TestLockContentionSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Ensure(ctx, "u1", f.milestone, true); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// Hold the pair's lock from elsewhere.
	locker := cache.NewLocalLocker()
	f.service.locks = locker
	if _, ok, _ := locker.Acquire(ctx, cache.CascadeLockKey("u1", "m1"), cache.LockLeaseTTL); !ok {
		t.Fatalf("setup acquire failed")
	}

	_, err := f.service.Start(ctx, "u1", f.milestone)
	if !errors.Is(err, domain.ErrLockContention) {
		t.Fatalf("expected lock contention, got %v", err)
	}
}
