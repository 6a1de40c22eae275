// Package validation decides whether a user's prerequisites for a milestone
// are satisfied. Results are pure functions of the edge set, the user's
// progress rows and the evaluated conditions, and are cached as derived
// values only.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pathway-labs/pathway-go/internal/cache"
	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/graph"
	"github.com/pathway-labs/pathway-go/internal/repo"
)

type Validator struct {
	graph        *graph.Store
	milestones   repo.MilestoneRepository
	progress     repo.ProgressRepository
	entitlements EntitlementSource
	cache        *cache.Tiered
	logger       *slog.Logger
	now          func() time.Time
}

func New(
	graphStore *graph.Store,
	milestones repo.MilestoneRepository,
	progress repo.ProgressRepository,
	entitlements EntitlementSource,
	tiered *cache.Tiered,
	logger *slog.Logger,
) *Validator {
	if graphStore == nil || milestones == nil || progress == nil || entitlements == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		graph:        graphStore,
		milestones:   milestones,
		progress:     progress,
		entitlements: entitlements,
		cache:        tiered,
		logger:       logger,
		now:          time.Now,
	}
}

// Validate evaluates every prerequisite edge of the milestone for the user.
/// The result's CanStart is false iff a blocking edge is unmet: a required
// edge below its completion threshold, or (when evaluateConditions is set) a
// conditional edge whose conditions do not all hold. Optional and parallel
// edges never block; they are surfaced in Missing for ordering unless a
// required failure dominates the report.
//
// On a context deadline the check fails closed and domain.ErrTimeout is
// returned alongside the fail-closed result.
func (v *Validator) Validate(ctx context.Context, userID string, milestone domain.Milestone, evaluateConditions bool) (domain.DependencyCheckResult, error) {
	if v == nil {
		return domain.DependencyCheckResult{}, fmt.Errorf("validator not initialized")
	}

	if evaluateConditions && v.cache != nil {
		if cached, ok := v.cachedResult(ctx, userID, milestone.ID); ok {
			return cached, nil
		}
	}

	edges, err := v.graph.Prerequisites(ctx, milestone.ID)
	if err != nil {
		return v.failClosed(userID, milestone, err)
	}

	result := domain.DependencyCheckResult{
		UserID:        userID,
		MilestoneID:   milestone.ID,
		MilestoneCode: milestone.Code,
		CanStart:      true,
		CheckedAt:     v.now().UTC(),
	}
	if len(edges) == 0 {
		v.storeResult(ctx, evaluateConditions, result)
		return result, nil
	}

	prereqCodes, err := v.prerequisiteCodes(ctx, edges)
	if err != nil {
		return v.failClosed(userID, milestone, err)
	}

	requiredUnmet := false
	missing := make([]domain.UnmetDependency, 0)
	for _, edge := range edges {
		actual, err := v.completionOf(ctx, userID, edge.PrerequisiteID)
		if err != nil {
			return v.failClosed(userID, milestone, err)
		}

		entry := domain.UnmetDependency{
			PrerequisiteID:   edge.PrerequisiteID,
			PrerequisiteCode: prereqCodes[edge.PrerequisiteID],
			Type:             edge.Type,
			RequiredPct:      edge.MinimumCompletionPercentage,
			ActualPct:        actual,
		}

		blocked := false
		if edge.IsRequired && actual < edge.MinimumCompletionPercentage {
			blocked = true
			entry.Reason = fmt.Sprintf("completion %.1f%% below required %.1f%%", actual, edge.MinimumCompletionPercentage)
		}
		if edge.Type == domain.DependencyConditional && evaluateConditions {
			for _, condition := range edge.Conditions {
				ok, reason := v.evaluateCondition(ctx, userID, condition)
				if !ok {
					blocked = true
					entry.Reason = reason
					break
				}
			}
		}

		switch {
		case blocked && edge.Blocking():
			result.CanStart = false
			if edge.IsRequired {
				requiredUnmet = true
			}
			missing = append(missing, entry)
		case !edge.Blocking() && actual < edge.MinimumCompletionPercentage:
			// Non-blocking edges are surfaced for ordering only.
			missing = append(missing, entry)
		}
	}

	if requiredUnmet {
		// Required failures dominate the report.
		filtered := missing[:0]
		for _, entry := range missing {
			if entry.Type != domain.DependencyOptional && entry.Type != domain.DependencyParallel {
				filtered = append(filtered, entry)
			}
		}
		missing = filtered
	}
	result.Missing = missing

	if err := ctx.Err(); err != nil {
		return v.failClosed(userID, milestone, err)
	}

	v.storeResult(ctx, evaluateConditions, result)
	return result, nil
}

// Invalidate drops the cached check result for one (user, milestone) pair.
func (v *Validator) Invalidate(ctx context.Context, userID, milestoneID string) {
	if v.cache == nil {
		return
	}
	v.cache.Invalidate(ctx, cache.CheckKey(userID, milestoneID), cache.TreeKey(userID))
}

// InvalidateMilestone drops every user's cached check result for a
// milestone. Called when the edge set around it changes.
func (v *Validator) InvalidateMilestone(ctx context.Context, milestoneID string) {
	if v.cache == nil {
		return
	}
	v.cache.InvalidatePattern(ctx, cache.MilestoneCheckPattern(milestoneID))
}

func (v *Validator) failClosed(userID string, milestone domain.Milestone, cause error) (domain.DependencyCheckResult, error) {
	result := domain.DependencyCheckResult{
		UserID:        userID,
		MilestoneID:   milestone.ID,
		MilestoneCode: milestone.Code,
		CanStart:      false,
		CheckedAt:     v.now().UTC(),
	}
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		result.Missing = []domain.UnmetDependency{{Reason: "validation timed out"}}
		return result, fmt.Errorf("%w: %v", domain.ErrTimeout, cause)
	}
	return result, fmt.Errorf("validate %s for user %s: %w", milestone.Code, userID, cause)
}

func (v *Validator) completionOf(ctx context.Context, userID, milestoneID string) (float64, error) {
	progress, err := v.progress.Get(ctx, userID, milestoneID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Absent progress means not started.
			return 0, nil
		}
		return 0, err
	}
	return progress.CompletionPercentage, nil
}

func (v *Validator) prerequisiteCodes(ctx context.Context, edges []domain.Dependency) (map[string]string, error) {
	codes := make(map[string]string, len(edges))
	for _, edge := range edges {
		if _, ok := codes[edge.PrerequisiteID]; ok {
			continue
		}
		milestone, err := v.milestones.Get(ctx, edge.PrerequisiteID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", domain.ErrMilestoneNotFound, edge.PrerequisiteID)
			}
			return nil, err
		}
		codes[edge.PrerequisiteID] = milestone.Code
	}
	return codes, nil
}

// Only fully evaluated results (conditions included) are cached: a partial
// result under the same key could wrongly gate a start.
func (v *Validator) cachedResult(ctx context.Context, userID, milestoneID string) (domain.DependencyCheckResult, bool) {
	raw, ok := v.cache.Get(ctx, cache.CheckKey(userID, milestoneID), cache.DependencyCheckTTL)
	if !ok {
		return domain.DependencyCheckResult{}, false
	}
	var result domain.DependencyCheckResult
	if err := json.Unmarshal(raw, &result); err != nil {
		v.logger.Warn("dropping undecodable cached check result", "key", cache.CheckKey(userID, milestoneID), "error", err)
		v.cache.Invalidate(ctx, cache.CheckKey(userID, milestoneID))
		return domain.DependencyCheckResult{}, false
	}
	return result, true
}

func (v *Validator) storeResult(ctx context.Context, evaluatedConditions bool, result domain.DependencyCheckResult) {
	if v.cache == nil || !evaluatedConditions {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	v.cache.Set(ctx, cache.CheckKey(result.UserID, result.MilestoneID), raw, cache.DependencyCheckTTL)
}
