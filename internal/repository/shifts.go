package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

const shiftColumns = `id, date, urgency, shift_type, start_time, end_time, assigned_to, created_at, version`

func shiftDst(s *domain.Shift) []any {
	return []any{&s.ID, &s.Date, &s.Urgency, &s.ShiftType, &s.StartTime, &s.EndTime, &s.AssignedTo, &s.CreatedAt, &s.Version}
}

func (r *Repository) CreateShift(shift *domain.Shift) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `
		INSERT INTO shifts (date, urgency, shift_type, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, version
	`

	args := []any{shift.Date, shift.Urgency, shift.ShiftType, shift.StartTime, shift.EndTime}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&shift.ID, &shift.CreatedAt, &shift.Version); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetShiftByID(id int64) (*domain.Shift, error) {
	query := `SELECT ` + shiftColumns + ` FROM shifts WHERE id = $1`

	ctx, cancel := r.queryContext()
	defer cancel()

	shift := &domain.Shift{}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(shiftDst(shift)...); err != nil {
		return nil, err
	}

	return shift, nil
}

func (r *Repository) GetAllShifts() ([]*domain.Shift, error) {
	return r.queryShifts(`SELECT ` + shiftColumns + ` FROM shifts ORDER BY date, id`)
}

// GetUnassignedShifts 的顺序决定了传给预言机的班次下标，因此必须稳定
func (r *Repository) GetUnassignedShifts() ([]*domain.Shift, error) {
	return r.queryShifts(`SELECT ` + shiftColumns + ` FROM shifts WHERE assigned_to IS NULL ORDER BY id`)
}

func (r *Repository) GetAssignedShifts() ([]*domain.Shift, error) {
	return r.queryShifts(`SELECT ` + shiftColumns + ` FROM shifts WHERE assigned_to IS NOT NULL ORDER BY date, id`)
}

func (r *Repository) GetAssignedShiftsByDate(date string) ([]*domain.Shift, error) {
	return r.queryShifts(`SELECT `+shiftColumns+` FROM shifts WHERE assigned_to IS NOT NULL AND date = $1 ORDER BY id`, date)
}

func (r *Repository) queryShifts(query string, args ...any) ([]*domain.Shift, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]*domain.Shift, 0)
	for rows.Next() {
		shift := &domain.Shift{}
		if err := rows.Scan(shiftDst(shift)...); err != nil {
			return nil, err
		}
		shifts = append(shifts, shift)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return shifts, nil
}

func (r *Repository) CountUnassignedShifts() (int, error) {
	query := `
		SELECT COUNT(*) FROM shifts WHERE assigned_to IS NULL
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	count := 0
	if err := r.dbpool.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// UpdateShiftAssignee 只更新 assigned_to。version 不匹配时返回 ErrEditConflict，
// 防止两个写入者同时修改同一个班次
func (r *Repository) UpdateShiftAssignee(shift *domain.Shift) error {
	query := `
		UPDATE shifts
		SET
			assigned_to = $1,
			version = version + 1
		WHERE id = $2 AND version = $3
		RETURNING version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	if err := r.dbpool.QueryRowContext(ctx, query, shift.AssignedTo, shift.ID, shift.Version).Scan(&shift.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEditConflict
		}
		return err
	}

	return nil
}

// ReleaseShiftsByAssignee 把某个员工的所有班次设为未分配，返回被释放的班次（assigned_to 已为 nil）
func (r *Repository) ReleaseShiftsByAssignee(employeeID int64) ([]*domain.Shift, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	query := `
		UPDATE shifts
		SET
			assigned_to = NULL,
			version = version + 1
		WHERE assigned_to = $1
		RETURNING ` + shiftColumns

	rows, err := r.dbpool.QueryContext(ctx, query, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]*domain.Shift, 0)
	for rows.Next() {
		shift := &domain.Shift{}
		if err := rows.Scan(shiftDst(shift)...); err != nil {
			return nil, err
		}
		shifts = append(shifts, shift)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return shifts, nil
}

func (r *Repository) DeleteShift(id int64) error {
	query := `
		DELETE FROM shifts WHERE id = $1
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	result, err := r.dbpool.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}

	return nil
}
