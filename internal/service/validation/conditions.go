package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/repo"
)

// EntitlementSource resolves per-user facts referenced by conditional edges.
// The API layer supplies it; tests use a fixed fake.
type EntitlementSource interface {
	SubscriptionTier(ctx context.Context, userID string) (string, error)
	FeatureEnabled(ctx context.Context, userID, flag string) (bool, error)
}

// evaluateCondition runs one declared condition. It reports whether the
// condition holds and, when it does not, a short reason for the unmet
// report. Evaluation fails closed: lookup errors and unknown kinds count as
// unmet.
func (v *Validator) evaluateCondition(ctx context.Context, userID string, condition domain.Condition) (bool, string) {
	switch condition.Kind {
	case domain.ConditionSubscriptionTier:
		tier, err := v.entitlements.SubscriptionTier(ctx, userID)
		if err != nil {
			return false, fmt.Sprintf("subscription tier lookup failed: %v", err)
		}
		if tier != condition.Tier {
			return false, fmt.Sprintf("subscription tier %q required", condition.Tier)
		}
		return true, ""

	case domain.ConditionMinQualityScore:
		score, ok, err := v.qualityScore(ctx, userID, condition.MilestoneCode)
		if err != nil {
			return false, fmt.Sprintf("quality score lookup failed: %v", err)
		}
		if !ok {
			return false, fmt.Sprintf("no quality score recorded for %q", condition.MilestoneCode)
		}
		if score < condition.MinScore {
			return false, fmt.Sprintf("quality score %.1f below required %.1f on %q", score, condition.MinScore, condition.MilestoneCode)
		}
		return true, ""

	case domain.ConditionDeadline:
		if v.now().After(condition.Deadline) {
			return false, fmt.Sprintf("deadline %s passed", condition.Deadline.UTC().Format(time.RFC3339))
		}
		return true, ""

	case domain.ConditionFeatureFlag:
		enabled, err := v.entitlements.FeatureEnabled(ctx, userID, condition.Flag)
		if err != nil {
			return false, fmt.Sprintf("feature flag lookup failed: %v", err)
		}
		if !enabled {
			return false, fmt.Sprintf("feature flag %q disabled", condition.Flag)
		}
		return true, ""

	default:
		// Fail closed on kinds this build does not know about.
		return false, fmt.Sprintf("unknown condition kind %q", condition.Kind)
	}
}

func (v *Validator) qualityScore(ctx context.Context, userID, milestoneCode string) (float64, bool, error) {
	milestone, err := v.milestones.GetByCode(ctx, milestoneCode)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	progress, err := v.progress.Get(ctx, userID, milestone.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if progress.QualityScore == nil {
		return 0, false, nil
	}
	return *progress.QualityScore, true, nil
}
