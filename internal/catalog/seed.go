package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/graph"
	"github.com/pathway-labs/pathway-go/internal/repo"
)

// Seeder applies a parsed catalog to the stores. Edges go through the graph
// store so cycle detection runs on every insertion.
type Seeder struct {
	milestones repo.MilestoneRepository
	graph      *graph.Store
	logger     *slog.Logger
	now        func() time.Time
}

// SeedReport summarises one Apply pass.
type SeedReport struct {
	MilestonesCreated int
	MilestonesKept    int
	EdgesCreated      int
	EdgesKept         int
}

func NewSeeder(milestones repo.MilestoneRepository, graphStore *graph.Store, logger *slog.Logger) *Seeder {
	if milestones == nil || graphStore == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		milestones: milestones,
		graph:      graphStore,
		logger:     logger,
		now:        time.Now,
	}
}

// Apply seeds milestones first, then dependency edges. Existing milestones
// are matched by code and kept as-is. An edge whose insertion would close a
// cycle aborts the pass with domain.ErrWouldCreateCycle.
func (s *Seeder) Apply(ctx context.Context, catalog Catalog) (SeedReport, error) {
	var report SeedReport

	idsByCode := make(map[string]string, len(catalog.Milestones))
	specs := make([]MilestoneSpec, len(catalog.Milestones))
	copy(specs, catalog.Milestones)
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].OrderIndex < specs[j].OrderIndex })

	for _, spec := range specs {
		existing, err := s.milestones.GetByCode(ctx, spec.Code)
		if err == nil {
			idsByCode[spec.Code] = existing.ID
			report.MilestonesKept++
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return report, fmt.Errorf("lookup milestone %s: %w", spec.Code, err)
		}

		milestone := milestoneFromSpec(spec, s.now().UTC())
		if err := s.milestones.Create(ctx, milestone); err != nil {
			return report, fmt.Errorf("create milestone %s: %w", spec.Code, err)
		}
		idsByCode[spec.Code] = milestone.ID
		report.MilestonesCreated++
		s.logger.Info("milestone seeded", "code", milestone.Code, "type", milestone.Type)
	}

	for _, spec := range catalog.Dependencies {
		edge, err := dependencyFromSpec(spec, idsByCode, s.now().UTC())
		if err != nil {
			return report, err
		}
		if err := s.graph.AddEdge(ctx, edge); err != nil {
			if errors.Is(err, domain.ErrDuplicateEdge) {
				report.EdgesKept++
				continue
			}
			return report, fmt.Errorf("add edge %s -> %s: %w", spec.Milestone, spec.Prerequisite, err)
		}
		report.EdgesCreated++
	}
	return report, nil
}

func milestoneFromSpec(spec MilestoneSpec, now time.Time) domain.Milestone {
	autoUnlock := true
	if spec.AutoUnlock != nil {
		autoUnlock = *spec.AutoUnlock
	}
	active := true
	if spec.Active != nil {
		active = *spec.Active
	}
	return domain.Milestone{
		ID:              uuid.NewString(),
		Code:            strings.TrimSpace(spec.Code),
		Title:           spec.Title,
		OrderIndex:      spec.OrderIndex,
		Type:            domain.MilestoneType(strings.ToLower(strings.TrimSpace(spec.Type))),
		RequiresPayment: spec.RequiresPayment,
		AutoUnlock:      autoUnlock,
		TotalSteps:      spec.TotalSteps,
		Active:          active,
		CreatedAt:       now,
	}
}

func dependencyFromSpec(spec DependencySpec, idsByCode map[string]string, now time.Time) (domain.Dependency, error) {
	milestoneID, ok := idsByCode[strings.TrimSpace(spec.Milestone)]
	if !ok {
		return domain.Dependency{}, fmt.Errorf("edge references unknown milestone %q", spec.Milestone)
	}
	prerequisiteID, ok := idsByCode[strings.TrimSpace(spec.Prerequisite)]
	if !ok {
		return domain.Dependency{}, fmt.Errorf("edge references unknown prerequisite %q", spec.Prerequisite)
	}

	dependencyType := domain.DependencyType(strings.ToLower(strings.TrimSpace(spec.Type)))
	conditions := make([]domain.Condition, 0, len(spec.Conditions))
	for _, conditionSpec := range spec.Conditions {
		condition, err := conditionFromSpec(conditionSpec)
		if err != nil {
			return domain.Dependency{}, err
		}
		conditions = append(conditions, condition)
	}
	return domain.Dependency{
		ID:                          uuid.NewString(),
		MilestoneID:                 milestoneID,
		PrerequisiteID:              prerequisiteID,
		Type:                        dependencyType,
		IsRequired:                  dependencyType == domain.DependencyRequired,
		MinimumCompletionPercentage: spec.MinCompletionPct,
		Conditions:                  conditions,
		CreatedAt:                   now,
	}, nil
}

func conditionFromSpec(spec ConditionSpec) (domain.Condition, error) {
	kind := domain.ConditionKind(strings.ToLower(strings.TrimSpace(spec.Kind)))
	condition := domain.Condition{Kind: kind}
	switch kind {
	case domain.ConditionSubscriptionTier:
		condition.Tier = strings.TrimSpace(spec.Tier)
	case domain.ConditionMinQualityScore:
		condition.MilestoneCode = strings.TrimSpace(spec.MilestoneCode)
		condition.MinScore = spec.MinScore
	case domain.ConditionDeadline:
		deadline, err := time.Parse(time.RFC3339, spec.Deadline)
		if err != nil {
			return domain.Condition{}, fmt.Errorf("parse deadline: %w", err)
		}
		condition.Deadline = deadline
	case domain.ConditionFeatureFlag:
		condition.Flag = strings.TrimSpace(spec.Flag)
	default:
		return domain.Condition{}, fmt.Errorf("unknown condition kind %q", spec.Kind)
	}
	return condition, nil
}
