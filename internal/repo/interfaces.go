package repo

import (
	"context"
	"errors"
	"time"

	"github.com/pathway-labs/pathway-go/internal/domain"
)

// ErrNotFound is returned by repositories when a requested row does not
// exist.
var ErrNotFound = errors.New("not found")

type MilestoneFilter struct {
	Type   domain.MilestoneType
	Active *bool
	Limit  int
}

type ProgressFilter struct {
	UserID string
	Status domain.ProgressStatus
	Limit  int
}

// MilestoneRepository manages milestone nodes.
type MilestoneRepository interface {
	Create(ctx context.Context, milestone domain.Milestone) error
	Get(ctx context.Context, id string) (domain.Milestone, error)
	GetByCode(ctx context.Context, code string) (domain.Milestone, error)
	List(ctx context.Context, filter MilestoneFilter) ([]domain.Milestone, error)
}

// DependencyRepository manages the directed edge set. Cycle safety is the
// graph store's responsibility; the repository only persists edges.
type DependencyRepository interface {
	Insert(ctx context.Context, edge domain.Dependency) error
	Delete(ctx context.Context, milestoneID, prerequisiteID string) error
	ListAll(ctx context.Context) ([]domain.Dependency, error)
	ListByMilestone(ctx context.Context, milestoneID string) ([]domain.Dependency, error)
	ListByPrerequisite(ctx context.Context, prerequisiteID string) ([]domain.Dependency, error)
}

// ProgressRepository manages per-user milestone progress rows.
type ProgressRepository interface {
	Create(ctx context.Context, progress domain.UserMilestoneProgress) error
	Get(ctx context.Context, userID, milestoneID string) (domain.UserMilestoneProgress, error)
	ListByUser(ctx context.Context, filter ProgressFilter) ([]domain.UserMilestoneProgress, error)
	Update(ctx context.Context, progress domain.UserMilestoneProgress) error
	TouchLastAccessed(ctx context.Context, userID, milestoneID string, at time.Time) error
}

// ProgressLogEntry is one append-only audit record of a progress transition.
type ProgressLogEntry struct {
	ID          string
	UserID      string
	MilestoneID string
	FromStatus  domain.ProgressStatus
	ToStatus    domain.ProgressStatus
	Percentage  float64
	Detail      domain.Metadata
	OccurredAt  time.Time
}

// ProgressLogAppender ensures append-only transition writes.
type ProgressLogAppender interface {
	Append(ctx context.Context, entry ProgressLogEntry) error
}
