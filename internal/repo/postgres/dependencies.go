package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pathway-labs/pathway-go/internal/domain"
)

type DependencyStore struct {
	db DB
}

const (
	insertDependencyQuery = `INSERT INTO milestone_dependencies (
		dependency_id,
		milestone_id,
		prerequisite_id,
		dependency_type,
		is_required,
		minimum_completion_percentage,
		conditions,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (milestone_id, prerequisite_id) DO NOTHING`

	selectDependencyColumns = `dependency_id, milestone_id, prerequisite_id, dependency_type, is_required, minimum_completion_percentage, conditions, created_at`

	deleteDependencyQuery = `DELETE FROM milestone_dependencies
	 WHERE milestone_id = $1 AND prerequisite_id = $2`
)

func NewDependencyStore(db DB) *DependencyStore {
	if db == nil {
		return nil
	}
	return &DependencyStore{db: db}
}

func (s *DependencyStore) Insert(ctx context.Context, edge domain.Dependency) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dependency store not initialized")
	}
	if err := edge.Validate(); err != nil {
		return err
	}

	id := strings.TrimSpace(edge.ID)
	if id == "" {
		id = uuid.NewString()
	}
	conditions, err := encodeConditions(edge.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}

	result, err := s.db.ExecContext(
		ctx,
		insertDependencyQuery,
		id,
		edge.MilestoneID,
		edge.PrerequisiteID,
		string(edge.Type),
		edge.IsRequired,
		edge.MinimumCompletionPercentage,
		conditions,
		normalizeTime(edge.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	if affected == 0 {
		return domain.ErrDuplicateEdge
	}
	return nil
}

func (s *DependencyStore) Delete(ctx context.Context, milestoneID, prerequisiteID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dependency store not initialized")
	}
	milestoneID = strings.TrimSpace(milestoneID)
	prerequisiteID = strings.TrimSpace(prerequisiteID)
	if milestoneID == "" || prerequisiteID == "" {
		return fmt.Errorf("milestone id and prerequisite id are required")
	}

	result, err := s.db.ExecContext(ctx, deleteDependencyQuery, milestoneID, prerequisiteID)
	if err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	if affected == 0 {
		return domain.ErrEdgeNotFound
	}
	return nil
}

func (s *DependencyStore) ListAll(ctx context.Context) ([]domain.Dependency, error) {
	return s.list(ctx, `SELECT `+selectDependencyColumns+` FROM milestone_dependencies ORDER BY created_at ASC, dependency_id ASC`)
}

func (s *DependencyStore) ListByMilestone(ctx context.Context, milestoneID string) ([]domain.Dependency, error) {
	milestoneID = strings.TrimSpace(milestoneID)
	if milestoneID == "" {
		return nil, fmt.Errorf("milestone id is required")
	}
	return s.list(
		ctx,
		`SELECT `+selectDependencyColumns+` FROM milestone_dependencies WHERE milestone_id = $1 ORDER BY created_at ASC`,
		milestoneID,
	)
}

func (s *DependencyStore) ListByPrerequisite(ctx context.Context, prerequisiteID string) ([]domain.Dependency, error) {
	prerequisiteID = strings.TrimSpace(prerequisiteID)
	if prerequisiteID == "" {
		return nil, fmt.Errorf("prerequisite id is required")
	}
	return s.list(
		ctx,
		`SELECT `+selectDependencyColumns+` FROM milestone_dependencies WHERE prerequisite_id = $1 ORDER BY created_at ASC`,
		prerequisiteID,
	)
}

func (s *DependencyStore) list(ctx context.Context, query string, args ...any) ([]domain.Dependency, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dependency store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	edges := make([]domain.Dependency, 0)
	for rows.Next() {
		edge, err := scanDependency(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	return edges, nil
}

func scanDependency(scanner rowScanner) (domain.Dependency, error) {
	var edge domain.Dependency
	var edgeType string
	var conditions []byte
	if err := scanner.Scan(
		&edge.ID,
		&edge.MilestoneID,
		&edge.PrerequisiteID,
		&edgeType,
		&edge.IsRequired,
		&edge.MinimumCompletionPercentage,
		&conditions,
		&edge.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Dependency{}, domain.ErrEdgeNotFound
		}
		return domain.Dependency{}, err
	}
	edge.Type = domain.DependencyType(edgeType)
	edge.CreatedAt = edge.CreatedAt.UTC()
	decoded, err := decodeConditions(conditions)
	if err != nil {
		return domain.Dependency{}, fmt.Errorf("decode conditions: %w", err)
	}
	edge.Conditions = decoded
	return edge, nil
}

// conditionRecord is the JSON shape conditions are stored as. Kept separate
// from domain.Condition so the storage encoding can evolve independently.
type conditionRecord struct {
	Kind          string  `json:"kind"`
	Tier          string  `json:"tier,omitempty"`
	MilestoneCode string  `json:"milestone_code,omitempty"`
	MinScore      float64 `json:"min_score,omitempty"`
	Deadline      string  `json:"deadline,omitempty"`
	Flag          string  `json:"flag,omitempty"`
}

func encodeConditions(conditions []domain.Condition) ([]byte, error) {
	records := make([]conditionRecord, 0, len(conditions))
	for _, c := range conditions {
		record := conditionRecord{
			Kind:          string(c.Kind),
			Tier:          c.Tier,
			MilestoneCode: c.MilestoneCode,
			MinScore:      c.MinScore,
			Flag:          c.Flag,
		}
		if !c.Deadline.IsZero() {
			record.Deadline = c.Deadline.UTC().Format(timeFormat)
		}
		records = append(records, record)
	}
	return json.Marshal(records)
}

func decodeConditions(raw []byte) ([]domain.Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []conditionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	conditions := make([]domain.Condition, 0, len(records))
	for _, record := range records {
		condition := domain.Condition{
			Kind:          domain.ConditionKind(record.Kind),
			Tier:          record.Tier,
			MilestoneCode: record.MilestoneCode,
			MinScore:      record.MinScore,
			Flag:          record.Flag,
		}
		if record.Deadline != "" {
			deadline, err := parseTime(record.Deadline)
			if err != nil {
				return nil, err
			}
			condition.Deadline = deadline
		}
		conditions = append(conditions, condition)
	}
	return conditions, nil
}
