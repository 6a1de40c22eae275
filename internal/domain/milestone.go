package domain

import (
	"errors"
	"strings"
	"time"
)

// MilestoneType classifies how a milestone is offered.
type MilestoneType string

const (
	MilestoneTypeFree    MilestoneType = "free"
	MilestoneTypePaid    MilestoneType = "paid"
	MilestoneTypeGateway MilestoneType = "gateway"
)

func (t MilestoneType) Valid() bool {
	switch t {
	case MilestoneTypeFree, MilestoneTypePaid, MilestoneTypeGateway:
		return true
	default:
		return false
	}
}

// Milestone is a node in the progression graph. Identity (ID, Code) is
// immutable once created; a milestone is never deleted while a dependency
// edge references it.
type Milestone struct {
	ID              string
	Code            string
	Title           string
	OrderIndex      int
	Type            MilestoneType
	RequiresPayment bool
	AutoUnlock      bool
	TotalSteps      int
	Active          bool
	CreatedAt       time.Time
}

func (m Milestone) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("milestone id is required")
	}
	if strings.TrimSpace(m.Code) == "" {
		return errors.New("milestone code is required")
	}
	if !m.Type.Valid() {
		return errors.New("milestone type is invalid")
	}
	if m.TotalSteps < 1 {
		return errors.New("total steps must be >= 1")
	}
	return nil
}
