package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/repo"
)

type MilestoneStore struct {
	db DB
}

const (
	insertMilestoneQuery = `INSERT INTO milestones (
		milestone_id,
		code,
		title,
		order_index,
		milestone_type,
		requires_payment,
		auto_unlock,
		total_steps,
		active,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	selectMilestoneColumns = `milestone_id, code, title, order_index, milestone_type, requires_payment, auto_unlock, total_steps, active, created_at`
)

func NewMilestoneStore(db DB) *MilestoneStore {
	if db == nil {
		return nil
	}
	return &MilestoneStore{db: db}
}

func (s *MilestoneStore) Create(ctx context.Context, milestone domain.Milestone) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("milestone store not initialized")
	}
	if err := milestone.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertMilestoneQuery,
		milestone.ID,
		milestone.Code,
		milestone.Title,
		milestone.OrderIndex,
		string(milestone.Type),
		milestone.RequiresPayment,
		milestone.AutoUnlock,
		milestone.TotalSteps,
		milestone.Active,
		normalizeTime(milestone.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert milestone: %w", err)
	}
	return nil
}

func (s *MilestoneStore) Get(ctx context.Context, id string) (domain.Milestone, error) {
	if s == nil || s.db == nil {
		return domain.Milestone{}, fmt.Errorf("milestone store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Milestone{}, fmt.Errorf("milestone id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+selectMilestoneColumns+` FROM milestones WHERE milestone_id = $1`,
		id,
	)
	return scanMilestone(row)
}

func (s *MilestoneStore) GetByCode(ctx context.Context, code string) (domain.Milestone, error) {
	if s == nil || s.db == nil {
		return domain.Milestone{}, fmt.Errorf("milestone store not initialized")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Milestone{}, fmt.Errorf("milestone code is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+selectMilestoneColumns+` FROM milestones WHERE code = $1`,
		code,
	)
	return scanMilestone(row)
}

func (s *MilestoneStore) List(ctx context.Context, filter repo.MilestoneFilter) ([]domain.Milestone, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("milestone store not initialized")
	}

	where := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, "milestone_type = $"+strconv.Itoa(len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, "active = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + selectMilestoneColumns + ` FROM milestones`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY order_index ASC, code ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	milestones := make([]domain.Milestone, 0)
	for rows.Next() {
		milestone, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		milestones = append(milestones, milestone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	return milestones, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMilestone(scanner rowScanner) (domain.Milestone, error) {
	var milestone domain.Milestone
	var milestoneType string
	if err := scanner.Scan(
		&milestone.ID,
		&milestone.Code,
		&milestone.Title,
		&milestone.OrderIndex,
		&milestoneType,
		&milestone.RequiresPayment,
		&milestone.AutoUnlock,
		&milestone.TotalSteps,
		&milestone.Active,
		&milestone.CreatedAt,
	); err != nil {
		return domain.Milestone{}, handleNotFound(err)
	}
	milestone.Type = domain.MilestoneType(milestoneType)
	milestone.CreatedAt = milestone.CreatedAt.UTC()
	return milestone, nil
}
