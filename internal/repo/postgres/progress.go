package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/repo"
)

type ProgressStore struct {
	db DB
}

const (
	insertProgressQuery = `INSERT INTO user_milestone_progress (
		progress_id,
		user_id,
		milestone_id,
		status,
		completion_percentage,
		current_step,
		total_steps,
		quality_score,
		checkpoint,
		output,
		last_error,
		processing_attempts,
		started_at,
		completed_at,
		last_accessed_at,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	ON CONFLICT (user_id, milestone_id) DO NOTHING`

	updateProgressQuery = `UPDATE user_milestone_progress SET
		status = $3,
		completion_percentage = $4,
		current_step = $5,
		quality_score = $6,
		checkpoint = $7,
		output = $8,
		last_error = $9,
		processing_attempts = $10,
		started_at = $11,
		completed_at = $12,
		last_accessed_at = $13,
		updated_at = $14
	 WHERE user_id = $1 AND milestone_id = $2`

	touchProgressQuery = `UPDATE user_milestone_progress
	 SET last_accessed_at = $3, updated_at = $3
	 WHERE user_id = $1 AND milestone_id = $2`

	selectProgressColumns = `progress_id, user_id, milestone_id, status, completion_percentage, current_step, total_steps, quality_score, checkpoint, output, last_error, processing_attempts, started_at, completed_at, last_accessed_at, created_at, updated_at`
)

func NewProgressStore(db DB) *ProgressStore {
	if db == nil {
		return nil
	}
	return &ProgressStore{db: db}
}

func (s *ProgressStore) Create(ctx context.Context, progress domain.UserMilestoneProgress) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("progress store not initialized")
	}
	if err := progress.Validate(); err != nil {
		return err
	}

	id := strings.TrimSpace(progress.ID)
	if id == "" {
		id = uuid.NewString()
	}
	checkpoint, err := encodeMetadata(progress.Checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	output, err := encodeMetadata(progress.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	now := normalizeTime(progress.CreatedAt)
	result, err := s.db.ExecContext(
		ctx,
		insertProgressQuery,
		id,
		progress.UserID,
		progress.MilestoneID,
		string(progress.Status),
		progress.CompletionPercentage,
		progress.CurrentStep,
		progress.TotalSteps,
		nullFloat(progress.QualityScore),
		checkpoint,
		output,
		nullIfEmpty(progress.LastError),
		progress.ProcessingAttempts,
		nullTime(progress.StartedAt),
		nullTime(progress.CompletedAt),
		nullTime(progress.LastAccessedAt),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert progress: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert progress: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("progress row already exists for user %s milestone %s", progress.UserID, progress.MilestoneID)
	}
	return nil
}

func (s *ProgressStore) Get(ctx context.Context, userID, milestoneID string) (domain.UserMilestoneProgress, error) {
	if s == nil || s.db == nil {
		return domain.UserMilestoneProgress{}, fmt.Errorf("progress store not initialized")
	}
	userID = strings.TrimSpace(userID)
	milestoneID = strings.TrimSpace(milestoneID)
	if userID == "" || milestoneID == "" {
		return domain.UserMilestoneProgress{}, fmt.Errorf("user id and milestone id are required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+selectProgressColumns+` FROM user_milestone_progress WHERE user_id = $1 AND milestone_id = $2`,
		userID,
		milestoneID,
	)
	return scanProgress(row)
}

func (s *ProgressStore) ListByUser(ctx context.Context, filter repo.ProgressFilter) ([]domain.UserMilestoneProgress, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("progress store not initialized")
	}
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	args := []any{userID}
	query := `SELECT ` + selectProgressColumns + ` FROM user_milestone_progress WHERE user_id = $1`
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at ASC, milestone_id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	records := make([]domain.UserMilestoneProgress, 0)
	for rows.Next() {
		record, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return records, nil
}

func (s *ProgressStore) Update(ctx context.Context, progress domain.UserMilestoneProgress) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("progress store not initialized")
	}
	if err := progress.Validate(); err != nil {
		return err
	}
	checkpoint, err := encodeMetadata(progress.Checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	output, err := encodeMetadata(progress.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	result, err := s.db.ExecContext(
		ctx,
		updateProgressQuery,
		progress.UserID,
		progress.MilestoneID,
		string(progress.Status),
		progress.CompletionPercentage,
		progress.CurrentStep,
		nullFloat(progress.QualityScore),
		checkpoint,
		output,
		nullIfEmpty(progress.LastError),
		progress.ProcessingAttempts,
		nullTime(progress.StartedAt),
		nullTime(progress.CompletedAt),
		nullTime(progress.LastAccessedAt),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *ProgressStore) TouchLastAccessed(ctx context.Context, userID, milestoneID string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("progress store not initialized")
	}
	userID = strings.TrimSpace(userID)
	milestoneID = strings.TrimSpace(milestoneID)
	if userID == "" || milestoneID == "" {
		return fmt.Errorf("user id and milestone id are required")
	}
	_, err := s.db.ExecContext(ctx, touchProgressQuery, userID, milestoneID, normalizeTime(at))
	if err != nil {
		return fmt.Errorf("touch progress: %w", err)
	}
	return nil
}

func scanProgress(scanner rowScanner) (domain.UserMilestoneProgress, error) {
	var record domain.UserMilestoneProgress
	var status string
	var qualityScore sql.NullFloat64
	var checkpoint, output []byte
	var lastError sql.NullString
	var startedAt, completedAt, lastAccessedAt sql.NullTime
	if err := scanner.Scan(
		&record.ID,
		&record.UserID,
		&record.MilestoneID,
		&status,
		&record.CompletionPercentage,
		&record.CurrentStep,
		&record.TotalSteps,
		&qualityScore,
		&checkpoint,
		&output,
		&lastError,
		&record.ProcessingAttempts,
		&startedAt,
		&completedAt,
		&lastAccessedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return domain.UserMilestoneProgress{}, handleNotFound(err)
	}
	record.Status = domain.ProgressStatus(status)
	if qualityScore.Valid {
		score := qualityScore.Float64
		record.QualityScore = &score
	}
	decodedCheckpoint, err := decodeMetadata(checkpoint)
	if err != nil {
		return domain.UserMilestoneProgress{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	record.Checkpoint = decodedCheckpoint
	decodedOutput, err := decodeMetadata(output)
	if err != nil {
		return domain.UserMilestoneProgress{}, fmt.Errorf("decode output: %w", err)
	}
	record.Output = decodedOutput
	record.LastError = strings.TrimSpace(lastError.String)
	record.StartedAt = timePtr(startedAt)
	record.CompletedAt = timePtr(completedAt)
	record.LastAccessedAt = timePtr(lastAccessedAt)
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}
