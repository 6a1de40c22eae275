package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProgressStatus is the lifecycle state of one user's work on one milestone.
type ProgressStatus string

const (
	StatusLocked     ProgressStatus = "locked"
	StatusAvailable  ProgressStatus = "available"
	StatusInProgress ProgressStatus = "in_progress"
	StatusCompleted  ProgressStatus = "completed"
	StatusSkipped    ProgressStatus = "skipped"
	StatusFailed     ProgressStatus = "failed"
)

func (s ProgressStatus) Valid() bool {
	switch s {
	case StatusLocked, StatusAvailable, StatusInProgress, StatusCompleted, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s ProgressStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

var progressTransitions = map[ProgressStatus][]ProgressStatus{
	StatusLocked:     {StatusAvailable},
	StatusAvailable:  {StatusInProgress, StatusSkipped},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusSkipped},
	StatusFailed:     {StatusInProgress},
	StatusCompleted:  {},
	StatusSkipped:    {},
}

// CanTransition returns true when a progress status transition is allowed.
func CanTransition(from, to ProgressStatus) bool {
	allowed, ok := progressTransitions[from]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition ensures a progress status transition is valid.
func ValidateTransition(from, to ProgressStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: unknown status", ErrInvalidTransition)
	}
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}

// UserMilestoneProgress is the per-(user, milestone) progress row. At most
// one row exists per pair; rows are created lazily and never hard-deleted.
type UserMilestoneProgress struct {
	ID                   string
	UserID               string
	MilestoneID          string
	Status               ProgressStatus
	CompletionPercentage float64
	CurrentStep          int
	TotalSteps           int
	QualityScore         *float64
	Checkpoint           Metadata
	Output               Metadata
	LastError            string
	ProcessingAttempts   int
	StartedAt            *time.Time
	CompletedAt          *time.Time
	LastAccessedAt       *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (p UserMilestoneProgress) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(p.MilestoneID) == "" {
		return errors.New("milestone id is required")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid progress status %q", p.Status)
	}
	if p.CompletionPercentage < 0 || p.CompletionPercentage > 100 {
		return errors.New("completion percentage must be in [0,100]")
	}
	if p.CurrentStep < 0 {
		return errors.New("current step must be >= 0")
	}
	if p.TotalSteps < 1 {
		return errors.New("total steps must be >= 1")
	}
	if p.CurrentStep > p.TotalSteps {
		return errors.New("current step must be <= total steps")
	}
	return nil
}

// StepPercentage computes the completion percentage implied by step position.
func StepPercentage(currentStep, totalSteps int) float64 {
	if totalSteps < 1 {
		return 0
	}
	if currentStep < 0 {
		currentStep = 0
	}
	if currentStep > totalSteps {
		currentStep = totalSteps
	}
	return float64(currentStep) / float64(totalSteps) * 100
}
