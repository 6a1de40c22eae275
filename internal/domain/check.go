package domain

import "time"

// UnmetDependency describes one prerequisite edge that currently blocks, or
// is surfaced alongside, a dependency check.
type UnmetDependency struct {
	PrerequisiteID   string         `json:"prerequisite_id"`
	PrerequisiteCode string         `json:"prerequisite_code"`
	Type             DependencyType `json:"type"`
	RequiredPct      float64        `json:"required_pct"`
	ActualPct        float64        `json:"actual_pct"`
	Reason           string         `json:"reason,omitempty"`
}

// DependencyCheckResult is the derived, cacheable outcome of validating a
// user's prerequisites for one milestone. It is never a source of truth and
// must be recomputable from the edge set and progress rows at any time.
type DependencyCheckResult struct {
	UserID        string            `json:"user_id"`
	MilestoneID   string            `json:"milestone_id"`
	MilestoneCode string            `json:"milestone_code"`
	CanStart      bool              `json:"can_start"`
	Missing       []UnmetDependency `json:"missing,omitempty"`
	CheckedAt     time.Time         `json:"checked_at"`
}

// DependencyNode is one entry in an ordered dependency chain report.
type DependencyNode struct {
	MilestoneID   string         `json:"milestone_id"`
	MilestoneCode string         `json:"milestone_code"`
	Title         string         `json:"title"`
	Depth         int            `json:"depth"`
	Type          DependencyType `json:"type"`
	RequiredPct   float64        `json:"required_pct"`
}

// GraphEdge is a flattened edge for snapshot reporting.
type GraphEdge struct {
	MilestoneCode    string         `json:"milestone_code"`
	PrerequisiteCode string         `json:"prerequisite_code"`
	Type             DependencyType `json:"type"`
	RequiredPct      float64        `json:"required_pct"`
}

// GraphSnapshot is an observability view of the whole dependency graph.
type GraphSnapshot struct {
	Nodes       []Milestone `json:"nodes"`
	Edges       []GraphEdge `json:"edges"`
	NodeCount   int         `json:"node_count"`
	EdgeCount   int         `json:"edge_count"`
	RootCount   int         `json:"root_count"`
	MaxOutDeg   int         `json:"max_out_degree"`
	GeneratedAt time.Time   `json:"generated_at"`
}
