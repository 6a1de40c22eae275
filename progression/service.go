// Package progression is the external surface of the milestone progression
// core. It composes the graph store, the dependency validator, the progress
// state machine and the unlock cascade behind one synchronous contract, and
// publishes progression events to the notification sink.
package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pathway-labs/pathway-go/internal/archive"
	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/graph"
	"github.com/pathway-labs/pathway-go/internal/notify"
	"github.com/pathway-labs/pathway-go/internal/repo"
	"github.com/pathway-labs/pathway-go/internal/service/cascade"
	"github.com/pathway-labs/pathway-go/internal/service/lifecycle"
	"github.com/pathway-labs/pathway-go/internal/service/validation"
)

// Deps are the collaborators the facade is composed from. Milestones, Graph,
// Validator, Lifecycle and Cascade are required; Events defaults to a no-op
// publisher and Archiver to no archiving.
type Deps struct {
	Milestones repo.MilestoneRepository
	Graph      *graph.Store
	Validator  *validation.Validator
	Lifecycle  *lifecycle.Service
	Cascade    *cascade.Engine
	Events     notify.Publisher
	Archiver   *archive.Archiver
	Logger     *slog.Logger
}

type Service struct {
	milestones repo.MilestoneRepository
	graph      *graph.Store
	validator  *validation.Validator
	lifecycle  *lifecycle.Service
	cascade    *cascade.Engine
	events     notify.Publisher
	archiver   *archive.Archiver
	logger     *slog.Logger
	now        func() time.Time
}

func New(deps Deps) (*Service, error) {
	if deps.Milestones == nil || deps.Graph == nil || deps.Validator == nil || deps.Lifecycle == nil || deps.Cascade == nil {
		return nil, errors.New("progression: missing required dependency")
	}
	if deps.Events == nil {
		deps.Events = notify.NoopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		milestones: deps.Milestones,
		graph:      deps.Graph,
		validator:  deps.Validator,
		lifecycle:  deps.Lifecycle,
		cascade:    deps.Cascade,
		events:     deps.Events,
		archiver:   deps.Archiver,
		logger:     deps.Logger,
		now:        time.Now,
	}, nil
}

// InitializeUser seeds a progress row for every active milestone: AVAILABLE
// where the user's prerequisites are already met, LOCKED otherwise. Existing
// rows are left untouched, so re-initializing is safe.
func (s *Service) InitializeUser(ctx context.Context, userID string) ([]domain.UserMilestoneProgress, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	active := true
	milestones, err := s.milestones.List(ctx, repo.MilestoneFilter{Active: &active})
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	sort.Slice(milestones, func(i, j int) bool { return milestones[i].OrderIndex < milestones[j].OrderIndex })

	rows := make([]domain.UserMilestoneProgress, 0, len(milestones))
	for _, milestone := range milestones {
		result, err := s.validator.Validate(ctx, userID, milestone, true)
		if err != nil {
			return rows, fmt.Errorf("validate %s: %w", milestone.Code, err)
		}
		row, err := s.lifecycle.Ensure(ctx, userID, milestone, result.CanStart)
		if err != nil {
			return rows, fmt.Errorf("ensure %s: %w", milestone.Code, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Validate reports whether the user can start the milestone, with a
// structured list of what is missing when they cannot.
func (s *Service) Validate(ctx context.Context, userID, milestoneCode string, evaluateConditions bool) (domain.DependencyCheckResult, error) {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return domain.DependencyCheckResult{}, err
	}
	return s.validator.Validate(ctx, userID, milestone, evaluateConditions)
}

// Start begins work on an available milestone. A row is created on first
// contact when the milestone's prerequisites allow it.
func (s *Service) Start(ctx context.Context, userID, milestoneCode string) (domain.UserMilestoneProgress, error) {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	if err := s.ensureRow(ctx, userID, milestone); err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	row, err := s.lifecycle.Start(ctx, userID, milestone)
	if err != nil {
		return row, err
	}
	s.lifecycle.Touch(ctx, userID, milestone.ID)
	return row, nil
}

// AdvanceStep moves in-progress work to the given step and merges the
// checkpoint data. A progress event is published on every effective advance.
func (s *Service) AdvanceStep(ctx context.Context, userID, milestoneCode string, step int, checkpointData domain.Metadata) (domain.UserMilestoneProgress, error) {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	row, advanced, err := s.lifecycle.AdvanceStep(ctx, userID, milestone, step, checkpointData)
	if err != nil {
		return row, err
	}
	// Steps at or below the current one are ignored; no event for those.
	if advanced {
		s.publish(ctx, notify.Event{
			Type:          notify.TypeProgress,
			UserID:        userID,
			MilestoneCode: milestone.Code,
			Payload: domain.Metadata{
				"step":       step,
				"percentage": row.CompletionPercentage,
			},
			OccurredAt: s.now().UTC(),
		})
	}
	s.lifecycle.Touch(ctx, userID, milestone.ID)
	return row, nil
}

// Complete finishes in-progress work and runs the unlock cascade as a
// post-condition. The completed row is returned together with the dependents
// the cascade unlocked. A joined domain.ErrLockContention is returned when
// some dependents could not be processed; the completion itself stands and
// the caller may retry the cascade by re-invoking ProcessCompletion.
func (s *Service) Complete(ctx context.Context, userID, milestoneCode string, output domain.Metadata, qualityScore *float64) (domain.UserMilestoneProgress, []cascade.Unlocked, error) {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return domain.UserMilestoneProgress{}, nil, err
	}
	row, err := s.lifecycle.Complete(ctx, userID, milestone, output, qualityScore)
	if err != nil {
		return row, nil, err
	}

	s.archiveCompletion(ctx, milestone, row)
	s.publish(ctx, notify.Event{
		Type:          notify.TypeCompleted,
		UserID:        userID,
		MilestoneCode: milestone.Code,
		Payload:       domain.Metadata{"quality_score": row.QualityScore},
		OccurredAt:    s.now().UTC(),
	})

	unlocked, cascadeErr := s.cascade.ProcessCompletion(ctx, userID, milestone.ID)
	for _, entry := range unlocked {
		s.publish(ctx, notify.Event{
			Type:          notify.TypeUnlocked,
			UserID:        userID,
			MilestoneCode: entry.MilestoneCode,
			OccurredAt:    s.now().UTC(),
		})
	}
	return row, unlocked, cascadeErr
}

// ProcessCompletion re-runs the unlock cascade for an already-completed
// milestone. Used to retry after lock contention; repeat invocations unlock
// nothing.
func (s *Service) ProcessCompletion(ctx context.Context, userID, milestoneCode string) ([]cascade.Unlocked, error) {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.cascade.ProcessCompletion(ctx, userID, milestone.ID)
	for _, entry := range unlocked {
		s.publish(ctx, notify.Event{
			Type:          notify.TypeUnlocked,
			UserID:        userID,
			MilestoneCode: entry.MilestoneCode,
			OccurredAt:    s.now().UTC(),
		})
	}
	return unlocked, err
}

// Fail marks in-progress work failed; the user may retry through Start.
func (s *Service) Fail(ctx context.Context, userID, milestoneCode, errorDetail string) (domain.UserMilestoneProgress, error) {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	return s.lifecycle.Fail(ctx, userID, milestone, errorDetail)
}

// Skip marks available or in-progress work skipped. Only milestones no other
// milestone strictly requires can be skipped.
func (s *Service) Skip(ctx context.Context, userID, milestoneCode string) (domain.UserMilestoneProgress, error) {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return domain.UserMilestoneProgress{}, err
	}
	dependents, err := s.graph.Dependents(ctx, milestone.ID)
	if err != nil {
		return domain.UserMilestoneProgress{}, fmt.Errorf("dependents of %s: %w", milestone.Code, err)
	}
	for _, edge := range dependents {
		if edge.Blocking() {
			return domain.UserMilestoneProgress{}, fmt.Errorf("%w: milestone %s is required by others and cannot be skipped", domain.ErrInvalidTransition, milestone.Code)
		}
	}
	return s.lifecycle.Skip(ctx, userID, milestone)
}

// EdgeSpec describes a dependency edge on the admin surface.
type EdgeSpec struct {
	Type             domain.DependencyType
	MinCompletionPct float64
	Conditions       []domain.Condition
}

// AddDependency inserts a new edge after cycle, duplicate and self checks.
// Cached dependency checks for the dependent milestone are invalidated.
func (s *Service) AddDependency(ctx context.Context, milestoneCode, prerequisiteCode string, spec EdgeSpec) error {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return err
	}
	prerequisite, err := s.resolve(ctx, prerequisiteCode)
	if err != nil {
		return err
	}
	edge := domain.Dependency{
		ID:                          uuid.NewString(),
		MilestoneID:                 milestone.ID,
		PrerequisiteID:              prerequisite.ID,
		Type:                        spec.Type,
		IsRequired:                  spec.Type == domain.DependencyRequired,
		MinimumCompletionPercentage: spec.MinCompletionPct,
		Conditions:                  spec.Conditions,
		CreatedAt:                   s.now().UTC(),
	}
	if err := s.graph.AddEdge(ctx, edge); err != nil {
		return err
	}
	s.validator.InvalidateMilestone(ctx, milestone.ID)
	s.logger.Info("dependency added", "milestone", milestoneCode, "prerequisite", prerequisiteCode, "type", spec.Type)
	return nil
}

// RemoveDependency deletes an edge and invalidates every user's cached check
// for the dependent milestone. Removing a requirement may newly satisfy the
// dependent: each user's row is re-validated on their next contact (Start),
// where a LOCKED row whose check now passes is unlocked.
func (s *Service) RemoveDependency(ctx context.Context, milestoneCode, prerequisiteCode string) error {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return err
	}
	prerequisite, err := s.resolve(ctx, prerequisiteCode)
	if err != nil {
		return err
	}
	if err := s.graph.RemoveEdge(ctx, milestone.ID, prerequisite.ID); err != nil {
		return err
	}
	s.validator.InvalidateMilestone(ctx, milestone.ID)
	s.logger.Info("dependency removed", "milestone", milestoneCode, "prerequisite", prerequisiteCode)
	return nil
}

// GetDependencyChain reports the prerequisite tree of a milestone, nearest
// edges first. Optional and parallel edges are included only on request.
func (s *Service) GetDependencyChain(ctx context.Context, milestoneCode string, includeOptional bool) ([]domain.DependencyNode, error) {
	milestone, err := s.resolve(ctx, milestoneCode)
	if err != nil {
		return nil, err
	}
	entries, err := s.graph.Chain(ctx, milestone.ID, includeOptional)
	if err != nil {
		return nil, err
	}

	nodes := make([]domain.DependencyNode, 0, len(entries))
	for _, entry := range entries {
		prerequisite, err := s.milestones.Get(ctx, entry.Edge.PrerequisiteID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				s.logger.Warn("chain references missing milestone", "prerequisite_id", entry.Edge.PrerequisiteID)
				continue
			}
			return nil, fmt.Errorf("get milestone %s: %w", entry.Edge.PrerequisiteID, err)
		}
		nodes = append(nodes, domain.DependencyNode{
			MilestoneID:   prerequisite.ID,
			MilestoneCode: prerequisite.Code,
			Title:         prerequisite.Title,
			Depth:         entry.Depth,
			Type:          entry.Edge.Type,
			RequiredPct:   entry.Edge.MinimumCompletionPercentage,
		})
	}
	return nodes, nil
}

// CheckAllCycles audits the whole edge set and returns any cycles as
// milestone-code paths. Healthy graphs return an empty list.
func (s *Service) CheckAllCycles(ctx context.Context) ([][]string, error) {
	cycles, err := s.graph.DetectAllCycles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(cycles))
	for _, cycle := range cycles {
		codes := make([]string, 0, len(cycle))
		for _, id := range cycle {
			milestone, err := s.milestones.Get(ctx, id)
			if err != nil {
				codes = append(codes, id)
				continue
			}
			codes = append(codes, milestone.Code)
		}
		out = append(out, codes)
	}
	return out, nil
}

// GraphSnapshot reports the full graph with node and edge statistics.
func (s *Service) GraphSnapshot(ctx context.Context) (domain.GraphSnapshot, error) {
	return s.graph.Snapshot(ctx)
}

func (s *Service) resolve(ctx context.Context, milestoneCode string) (domain.Milestone, error) {
	milestone, err := s.milestones.GetByCode(ctx, strings.TrimSpace(milestoneCode))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Milestone{}, fmt.Errorf("%w: %s", domain.ErrMilestoneNotFound, milestoneCode)
		}
		return domain.Milestone{}, fmt.Errorf("get milestone %s: %w", milestoneCode, err)
	}
	return milestone, nil
}

// ensureRow makes sure the progress row exists and reflects the current edge
// set: absent rows are created per the user's prerequisites, and a LOCKED row
// whose prerequisites now pass (for instance after a blocking edge was
// removed) is unlocked. The completion cascade only reaches users whose
// prerequisite completes; edge removals unlock lazily here, on next contact.
func (s *Service) ensureRow(ctx context.Context, userID string, milestone domain.Milestone) error {
	result, err := s.validator.Validate(ctx, userID, milestone, true)
	if err != nil {
		return err
	}
	row, err := s.lifecycle.Ensure(ctx, userID, milestone, result.CanStart)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", milestone.Code, err)
	}
	if row.Status != domain.StatusLocked || !result.CanStart {
		return nil
	}
	_, transitioned, err := s.lifecycle.Unlock(ctx, userID, milestone)
	if err != nil {
		return fmt.Errorf("unlock %s: %w", milestone.Code, err)
	}
	if transitioned {
		s.publish(ctx, notify.Event{
			Type:          notify.TypeUnlocked,
			UserID:        userID,
			MilestoneCode: milestone.Code,
			OccurredAt:    s.now().UTC(),
		})
	}
	return nil
}

func (s *Service) archiveCompletion(ctx context.Context, milestone domain.Milestone, row domain.UserMilestoneProgress) {
	if s.archiver == nil {
		return
	}
	completedAt := s.now().UTC()
	if row.CompletedAt != nil {
		completedAt = *row.CompletedAt
	}
	key, err := s.archiver.Store(ctx, archive.Record{
		UserID:        row.UserID,
		MilestoneID:   row.MilestoneID,
		MilestoneCode: milestone.Code,
		QualityScore:  row.QualityScore,
		Output:        row.Output,
		CompletedAt:   completedAt,
	})
	if err != nil {
		// Archiving is best effort: the completion already stands.
		s.logger.Warn("archive completion", "user_id", row.UserID, "milestone_code", milestone.Code, "error", err)
		return
	}
	s.logger.Debug("completion archived", "key", key)
}

func (s *Service) publish(ctx context.Context, event notify.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event", "type", event.Type, "user_id", event.UserID, "error", err)
	}
}
