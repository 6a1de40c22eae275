package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pathway-labs/pathway-go/internal/repo"
)

// ProgressLogStore appends transition records to the append-only progress
// log. Rows are never updated or deleted.
type ProgressLogStore struct {
	db  DB
	now func() time.Time
}

const insertProgressLogQuery = `INSERT INTO user_progress_log (
	log_id,
	user_id,
	milestone_id,
	from_status,
	to_status,
	completion_percentage,
	detail,
	occurred_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

func NewProgressLogStore(db DB) *ProgressLogStore {
	if db == nil {
		return nil
	}
	return &ProgressLogStore{db: db, now: time.Now}
}

func (s *ProgressLogStore) Append(ctx context.Context, entry repo.ProgressLogEntry) error {
	if s == nil || s.db == nil {
		return errors.New("progress log store not initialized")
	}
	if strings.TrimSpace(entry.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(entry.MilestoneID) == "" {
		return errors.New("milestone id is required")
	}
	if strings.TrimSpace(string(entry.ToStatus)) == "" {
		return errors.New("to status is required")
	}

	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}
	detail, err := encodeMetadata(entry.Detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		insertProgressLogQuery,
		id,
		entry.UserID,
		entry.MilestoneID,
		string(entry.FromStatus),
		string(entry.ToStatus),
		entry.Percentage,
		detail,
		occurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append progress log: %w", err)
	}
	return nil
}
