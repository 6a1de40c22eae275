// Package catalog loads a declarative milestone catalog from YAML and seeds
// the milestone and dependency stores from it. Seeding is additive and
// idempotent: milestones already present by code are left untouched, and
// duplicate edges are skipped.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const SchemaV1 = "pathway.catalog.v1"

type Catalog struct {
	Schema       string           `yaml:"schema"`
	Milestones   []MilestoneSpec  `yaml:"milestones"`
	Dependencies []DependencySpec `yaml:"dependencies,omitempty"`
}

type MilestoneSpec struct {
	Code            string `yaml:"code"`
	Title           string `yaml:"title"`
	OrderIndex      int    `yaml:"order_index"`
	Type            string `yaml:"type"`
	RequiresPayment bool   `yaml:"requires_payment,omitempty"`
	AutoUnlock      *bool  `yaml:"auto_unlock,omitempty"`
	TotalSteps      int    `yaml:"total_steps"`
	Active          *bool  `yaml:"active,omitempty"`
}

type DependencySpec struct {
	Milestone        string          `yaml:"milestone"`
	Prerequisite     string          `yaml:"prerequisite"`
	Type             string          `yaml:"type"`
	MinCompletionPct float64         `yaml:"min_completion_pct"`
	Conditions       []ConditionSpec `yaml:"conditions,omitempty"`
}

type ConditionSpec struct {
	Kind          string  `yaml:"kind"`
	Tier          string  `yaml:"tier,omitempty"`
	MilestoneCode string  `yaml:"milestone_code,omitempty"`
	MinScore      float64 `yaml:"min_score,omitempty"`
	Deadline      string  `yaml:"deadline,omitempty"`
	Flag          string  `yaml:"flag,omitempty"`
}

func Parse(input []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(input, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

func (c Catalog) Validate() error {
	if strings.TrimSpace(c.Schema) != SchemaV1 {
		return fmt.Errorf("catalog.schema must be %q", SchemaV1)
	}
	if len(c.Milestones) == 0 {
		return errors.New("catalog.milestones must be non-empty")
	}

	codes := make(map[string]struct{}, len(c.Milestones))
	for i, milestone := range c.Milestones {
		code := strings.TrimSpace(milestone.Code)
		if code == "" {
			return fmt.Errorf("catalog.milestones[%d].code is required", i)
		}
		if _, ok := codes[code]; ok {
			return fmt.Errorf("catalog.milestones[%d].code must be unique (duplicate %q)", i, code)
		}
		codes[code] = struct{}{}
		if !isMilestoneTypeAllowed(milestone.Type) {
			return fmt.Errorf("catalog.milestones[%d].type unsupported: %q", i, milestone.Type)
		}
		if milestone.TotalSteps < 1 {
			return fmt.Errorf("catalog.milestones[%d].total_steps must be >= 1", i)
		}
	}

	seenEdges := make(map[string]struct{}, len(c.Dependencies))
	for i, edge := range c.Dependencies {
		milestone := strings.TrimSpace(edge.Milestone)
		prerequisite := strings.TrimSpace(edge.Prerequisite)
		if milestone == "" || prerequisite == "" {
			return fmt.Errorf("catalog.dependencies[%d] requires milestone and prerequisite", i)
		}
		if milestone == prerequisite {
			return fmt.Errorf("catalog.dependencies[%d] must not depend on itself", i)
		}
		if _, ok := codes[milestone]; !ok {
			return fmt.Errorf("catalog.dependencies[%d].milestone unknown: %q", i, milestone)
		}
		if _, ok := codes[prerequisite]; !ok {
			return fmt.Errorf("catalog.dependencies[%d].prerequisite unknown: %q", i, prerequisite)
		}
		if !isDependencyTypeAllowed(edge.Type) {
			return fmt.Errorf("catalog.dependencies[%d].type unsupported: %q", i, edge.Type)
		}
		if edge.MinCompletionPct < 0 || edge.MinCompletionPct > 100 {
			return fmt.Errorf("catalog.dependencies[%d].min_completion_pct must be in [0,100]", i)
		}
		key := milestone + "->" + prerequisite
		if _, ok := seenEdges[key]; ok {
			return fmt.Errorf("catalog.dependencies[%d] duplicates edge %s", i, key)
		}
		seenEdges[key] = struct{}{}

		for j, condition := range edge.Conditions {
			if err := validateCondition(condition); err != nil {
				return fmt.Errorf("catalog.dependencies[%d].conditions[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func validateCondition(condition ConditionSpec) error {
	switch strings.ToLower(strings.TrimSpace(condition.Kind)) {
	case "subscription_tier":
		if strings.TrimSpace(condition.Tier) == "" {
			return errors.New("tier is required")
		}
	case "min_quality_score":
		if strings.TrimSpace(condition.MilestoneCode) == "" {
			return errors.New("milestone_code is required")
		}
		if condition.MinScore < 0 || condition.MinScore > 100 {
			return errors.New("min_score must be in [0,100]")
		}
	case "deadline":
		if _, err := time.Parse(time.RFC3339, condition.Deadline); err != nil {
			return fmt.Errorf("deadline must be RFC3339: %w", err)
		}
	case "feature_flag":
		if strings.TrimSpace(condition.Flag) == "" {
			return errors.New("flag is required")
		}
	default:
		return fmt.Errorf("kind unsupported: %q", condition.Kind)
	}
	return nil
}

func isMilestoneTypeAllowed(milestoneType string) bool {
	switch strings.ToLower(strings.TrimSpace(milestoneType)) {
	case "free", "paid", "gateway":
		return true
	default:
		return false
	}
}

func isDependencyTypeAllowed(dependencyType string) bool {
	switch strings.ToLower(strings.TrimSpace(dependencyType)) {
	case "required", "optional", "conditional", "parallel":
		return true
	default:
		return false
	}
}
