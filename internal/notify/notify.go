// Package notify publishes progression events to a pub/sub sink for
// delivery by the real-time transport. Delivery is best effort; the core
// never fails an operation because an event could not be published.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pathway-labs/pathway-go/internal/domain"
)

// Event types the core emits.
const (
	TypeUnlocked  = "unlocked"
	TypeCompleted = "completed"
	TypeProgress  = "progress"
)

type Event struct {
	Type          string          `json:"type"`
	UserID        string          `json:"user_id"`
	MilestoneCode string          `json:"milestone_code"`
	Payload       domain.Metadata `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func (e Event) Validate() error {
	switch e.Type {
	case TypeUnlocked, TypeCompleted, TypeProgress:
	default:
		return errors.New("unknown event type")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(e.MilestoneCode) == "" {
		return errors.New("milestone code is required")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("occurred at is required")
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher drops events. Used in tests and when no transport is wired.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error {
	return event.Validate()
}
