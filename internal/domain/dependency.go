package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DependencyType determines how an edge participates in prerequisite
// evaluation.
type DependencyType string

const (
	// DependencyRequired blocks the dependent until the prerequisite reaches
	// the edge's minimum completion percentage.
	DependencyRequired DependencyType = "required"
	// DependencyOptional is advisory and never blocks starting.
	DependencyOptional DependencyType = "optional"
	// DependencyConditional blocks only while its declared conditions do not
	// all hold.
	DependencyConditional DependencyType = "conditional"
	// DependencyParallel marks work intended to run alongside the
	// prerequisite. Surfaced for ordering, never blocking.
	DependencyParallel DependencyType = "parallel"
)

func (t DependencyType) Valid() bool {
	switch t {
	case DependencyRequired, DependencyOptional, DependencyConditional, DependencyParallel:
		return true
	default:
		return false
	}
}

// ConditionKind enumerates the closed set of condition checks a conditional
// edge may declare. Unknown kinds always evaluate as unmet.
type ConditionKind string

const (
	ConditionSubscriptionTier ConditionKind = "subscription_tier"
	ConditionMinQualityScore  ConditionKind = "min_quality_score"
	ConditionDeadline         ConditionKind = "deadline"
	ConditionFeatureFlag      ConditionKind = "feature_flag"
)

// Condition is one declared check on a conditional edge. Exactly the payload
// fields relevant to its kind are set.
type Condition struct {
	Kind ConditionKind

	// ConditionSubscriptionTier: tier the user must match exactly.
	Tier string
	// ConditionMinQualityScore: milestone code whose quality score is
	// compared, and the inclusive minimum.
	MilestoneCode string
	MinScore      float64
	// ConditionDeadline: latest instant at which the edge is satisfiable.
	Deadline time.Time
	// ConditionFeatureFlag: flag that must be enabled for the user.
	Flag string
}

func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionSubscriptionTier:
		if strings.TrimSpace(c.Tier) == "" {
			return errors.New("subscription tier condition requires a tier")
		}
	case ConditionMinQualityScore:
		if strings.TrimSpace(c.MilestoneCode) == "" {
			return errors.New("quality score condition requires a milestone code")
		}
		if c.MinScore < 0 || c.MinScore > 100 {
			return errors.New("quality score condition minimum must be in [0,100]")
		}
	case ConditionDeadline:
		if c.Deadline.IsZero() {
			return errors.New("deadline condition requires a deadline")
		}
	case ConditionFeatureFlag:
		if strings.TrimSpace(c.Flag) == "" {
			return errors.New("feature flag condition requires a flag name")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// Dependency is a directed edge: MilestoneID requires PrerequisiteID.
type Dependency struct {
	ID                          string
	MilestoneID                 string
	PrerequisiteID              string
	Type                        DependencyType
	IsRequired                  bool
	MinimumCompletionPercentage float64
	Conditions                  []Condition
	CreatedAt                   time.Time
}

func (d Dependency) Validate() error {
	if strings.TrimSpace(d.MilestoneID) == "" {
		return errors.New("milestone id is required")
	}
	if strings.TrimSpace(d.PrerequisiteID) == "" {
		return errors.New("prerequisite id is required")
	}
	if d.MilestoneID == d.PrerequisiteID {
		return ErrSelfDependency
	}
	if !d.Type.Valid() {
		return fmt.Errorf("invalid dependency type %q", d.Type)
	}
	if d.MinimumCompletionPercentage < 0 || d.MinimumCompletionPercentage > 100 {
		return errors.New("minimum completion percentage must be in [0,100]")
	}
	for _, condition := range d.Conditions {
		if err := condition.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Blocking reports whether the edge can ever block the dependent from
// starting. Optional and parallel edges are informational only.
func (d Dependency) Blocking() bool {
	switch d.Type {
	case DependencyOptional, DependencyParallel:
		return false
	default:
		return d.IsRequired || d.Type == DependencyConditional
	}
}
