package cascade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pathway-labs/pathway-go/internal/cache"
	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/graph"
	"github.com/pathway-labs/pathway-go/internal/repo"
	"github.com/pathway-labs/pathway-go/internal/service/lifecycle"
	"github.com/pathway-labs/pathway-go/internal/service/validation"
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

type fakeDependencyRepo struct {
	edges []domain.Dependency
}

func (f *fakeDependencyRepo) Insert(ctx context.Context, edge domain.Dependency) error {
	f.edges = append(f.edges, edge)
	return nil
}

func (f *fakeDependencyRepo) Delete(ctx context.Context, milestoneID, prerequisiteID string) error {
	return domain.ErrEdgeNotFound
}

func (f *fakeDependencyRepo) ListAll(ctx context.Context) ([]domain.Dependency, error) {
	out := make([]domain.Dependency, len(f.edges))
	copy(out, f.edges)
	return out, nil
}

func (f *fakeDependencyRepo) ListByMilestone(ctx context.Context, milestoneID string) ([]domain.Dependency, error) {
	out := make([]domain.Dependency, 0)
	for _, edge := range f.edges {
		if edge.MilestoneID == milestoneID {
			out = append(out, edge)
		}
	}
	return out, nil
}

func (f *fakeDependencyRepo) ListByPrerequisite(ctx context.Context, prerequisiteID string) ([]domain.Dependency, error) {
	out := make([]domain.Dependency, 0)
	for _, edge := range f.edges {
		if edge.PrerequisiteID == prerequisiteID {
			out = append(out, edge)
		}
	}
	return out, nil
}

type fakeProgressRepo struct {
	rows map[string]domain.UserMilestoneProgress
}

func key(userID, milestoneID string) string { return userID + "/" + milestoneID }

func (f *fakeProgressRepo) Create(ctx context.Context, progress domain.UserMilestoneProgress) error {
	f.rows[key(progress.UserID, progress.MilestoneID)] = progress
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
	return nil
}

type fakeEntitlements struct{}

func (fakeEntitlements) SubscriptionTier(ctx context.Context, userID string) (string, error) {
	return "free", nil
}

func (fakeEntitlements) FeatureEnabled(ctx context.Context, userID, flag string) (bool, error) {
	return false, nil
}

type fixture struct {
	engine     *Engine
	milestones *fakeMilestoneRepo
	deps       *fakeDependencyRepo
	progress   *fakeProgressRepo
	locker     *cache.LocalLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	milestones := &fakeMilestoneRepo{milestones: map[string]domain.Milestone{}}
	for _, id := range []string{"m0", "m1", "m2", "m3"} {
		milestones.milestones[id] = domain.Milestone{
			ID: id, Code: id, Type: domain.MilestoneTypeFree,
			TotalSteps: 4, Active: true, AutoUnlock: true,
		}
	}
	deps := &fakeDependencyRepo{}
	progress := &fakeProgressRepo{rows: map[string]domain.UserMilestoneProgress{}}
	locker := cache.NewLocalLocker()
	tiered := cache.NewTiered(cache.NewLocal(), nil, nil)
	graphStore := graph.NewStore(milestones, deps)
	validator := validation.New(graphStore, milestones, progress, fakeEntitlements{}, tiered, nil)
	lifecycleService := lifecycle.New(milestones, progress, nil, locker, tiered, nil, nil)
	engine := New(graphStore, milestones, lifecycleService, validator, locker, nil)
	if engine == nil {
		t.Fatalf("expected engine")
	}
	return &fixture{engine: engine, milestones: milestones, deps: deps, progress: progress, locker: locker}
}

func required(milestoneID, prerequisiteID string, pct float64) domain.Dependency {
	return domain.Dependency{
		MilestoneID:                 milestoneID,
		PrerequisiteID:              prerequisiteID,
		Type:                        domain.DependencyRequired,
		IsRequired:                  true,
		MinimumCompletionPercentage: pct,
	}
}

func (f *fixture) completeRow(userID, milestoneID string) {
	f.progress.rows[key(userID, milestoneID)] = domain.UserMilestoneProgress{
		UserID: userID, MilestoneID: milestoneID, Status: domain.StatusCompleted,
		CompletionPercentage: 100, CurrentStep: 4, TotalSteps: 4,
	}
}

func (f *fixture) lockedRow(userID, milestoneID string) {
	f.progress.rows[key(userID, milestoneID)] = domain.UserMilestoneProgress{
		UserID: userID, MilestoneID: milestoneID, Status: domain.StatusLocked, TotalSteps: 4,
	}
}

func TestProcessCompletionUnlocksDependents(t *testing.T) {
	f := newFixture(t)
	f.deps.edges = []domain.Dependency{
		required("m1", "m0", 100),
		required("m2", "m0", 100),
		required("m3", "m1", 80),
	}
	f.completeRow("u1", "m0")
	f.lockedRow("u1", "m1")
	f.lockedRow("u1", "m2")
	f.lockedRow("u1", "m3")

	unlocked, err := f.engine.ProcessCompletion(context.Background(), "u1", "m0")
	if err != nil {
		t.Fatalf("process completion: %v", err)
	}
	if len(unlocked) != 2 {
		t.Fatalf("expected m1 and m2 unlocked, got %+v", unlocked)
	}
	codes := map[string]bool{}
	for _, entry := range unlocked {
		codes[entry.MilestoneCode] = true
	}
	if !codes["m1"] || !codes["m2"] {
		t.Fatalf("unexpected unlock set: %+v", unlocked)
	}
	// m3 is not a direct dependent of m0: the cascade never recurses.
	if f.progress.rows[key("u1", "m3")].Status != domain.StatusLocked {
		t.Fatalf("m3 must stay locked")
	}
}

func TestProcessCompletionIdempotent(t *testing.T) {
	f := newFixture(t)
	f.deps.edges = []domain.Dependency{required("m1", "m0", 100)}
	f.completeRow("u1", "m0")
	f.lockedRow("u1", "m1")
	ctx := context.Background()

	first, err := f.engine.ProcessCompletion(ctx, "u1", "m0")
	if err != nil {
		t.Fatalf("first cascade: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected one unlock, got %+v", first)
	}

	second, err := f.engine.ProcessCompletion(ctx, "u1", "m0")
	if err != nil {
		t.Fatalf("second cascade: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("repeat cascade must unlock nothing, got %+v", second)
	}
	if f.progress.rows[key("u1", "m1")].Status != domain.StatusAvailable {
		t.Fatalf("m1 must stay available")
	}
}

func TestProcessCompletionCommutative(t *testing.T) {
	// m3 requires both m1 and m2 at 80: sibling completions in either order
	// must converge on the same unlocked set.
	run := func(order []string) domain.ProgressStatus {
		f := newFixture(t)
		f.deps.edges = []domain.Dependency{
			required("m3", "m1", 80),
			required("m3", "m2", 80),
		}
		f.completeRow("u1", "m1")
		f.completeRow("u1", "m2")
		f.lockedRow("u1", "m3")
		ctx := context.Background()
		for _, completed := range order {
			if _, err := f.engine.ProcessCompletion(ctx, "u1", completed); err != nil {
				t.Fatalf("cascade %s: %v", completed, err)
			}
		}
		return f.progress.rows[key("u1", "m3")].Status
	}

	if got := run([]string{"m1", "m2"}); got != domain.StatusAvailable {
		t.Fatalf("m1-then-m2 order: got %s", got)
	}
	if got := run([]string{"m2", "m1"}); got != domain.StatusAvailable {
		t.Fatalf("m2-then-m1 order: got %s", got)
	}
}

func TestProcessCompletionSkipsManualUnlock(t *testing.T) {
	f := newFixture(t)
	manual := f.milestones.milestones["m1"]
	manual.AutoUnlock = false
	f.milestones.milestones["m1"] = manual

	f.deps.edges = []domain.Dependency{required("m1", "m0", 100)}
	f.completeRow("u1", "m0")
	f.lockedRow("u1", "m1")

	unlocked, err := f.engine.ProcessCompletion(context.Background(), "u1", "m0")
	if err != nil {
		t.Fatalf("process completion: %v", err)
	}
	if len(unlocked) != 0 {
		t.Fatalf("manual-unlock milestones must be skipped, got %+v", unlocked)
	}
	if f.progress.rows[key("u1", "m1")].Status != domain.StatusLocked {
		t.Fatalf("m1 must stay locked")
	}
}

func TestProcessCompletionUnmetDependentSkippedSilently(t *testing.T) {
	f := newFixture(t)
	f.deps.edges = []domain.Dependency{
		required("m1", "m0", 100),
		required("m1", "m2", 100),
	}
	f.completeRow("u1", "m0")
	f.lockedRow("u1", "m1")
	// m2 incomplete: m1 stays locked, no error.

	unlocked, err := f.engine.ProcessCompletion(context.Background(), "u1", "m0")
	if err != nil {
		t.Fatalf("process completion: %v", err)
	}
	if len(unlocked) != 0 {
		t.Fatalf("blocked dependent must not unlock, got %+v", unlocked)
	}
}

func TestProcessCompletionContendedDependentRetryable(t *testing.T) {
	f := newFixture(t)
	f.deps.edges = []domain.Dependency{required("m1", "m0", 100)}
	f.completeRow("u1", "m0")
	f.lockedRow("u1", "m1")
	ctx := context.Background()

	if _, ok, _ := f.locker.Acquire(ctx, cache.CascadeLockKey("u1", "m1"), cache.LockLeaseTTL); !ok {
		t.Fatalf("setup acquire failed")
	}

	unlocked, err := f.engine.ProcessCompletion(ctx, "u1", "m0")
	if !errors.Is(err, domain.ErrLockContention) {
		t.Fatalf("expected retryable contention, got %v", err)
	}
	if len(unlocked) != 0 {
		t.Fatalf("contended dependent must not unlock, got %+v", unlocked)
	}
	if f.progress.rows[key("u1", "m1")].Status != domain.StatusLocked {
		t.Fatalf("m1 must stay locked under contention")
	}
}
