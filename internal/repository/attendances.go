package repository

import (
	"time"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

// CheckIn 记录签到，同一天重复签到会覆盖之前的签到时间
func (r *Repository) CheckIn(employeeID int64, date string, at time.Time) (*domain.Attendance, error) {
	query := `
		INSERT INTO attendances (employee_id, date, check_in_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (employee_id, date) DO UPDATE SET check_in_at = EXCLUDED.check_in_at
		RETURNING id, employee_id, date, check_in_at, check_out_at, created_at
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	attendance := &domain.Attendance{}
	dst := []any{&attendance.ID, &attendance.EmployeeID, &attendance.Date, &attendance.CheckInAt, &attendance.CheckOutAt, &attendance.CreatedAt}
	if err := r.dbpool.QueryRowContext(ctx, query, employeeID, date, at).Scan(dst...); err != nil {
		return nil, err
	}

	return attendance, nil
}

// CheckOut 记录签退。当天没有签到记录时返回 sql.ErrNoRows
func (r *Repository) CheckOut(employeeID int64, date string, at time.Time) (*domain.Attendance, error) {
	query := `
		UPDATE attendances SET check_out_at = $1
		WHERE employee_id = $2 AND date = $3
		RETURNING id, employee_id, date, check_in_at, check_out_at, created_at
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	attendance := &domain.Attendance{}
	dst := []any{&attendance.ID, &attendance.EmployeeID, &attendance.Date, &attendance.CheckInAt, &attendance.CheckOutAt, &attendance.CreatedAt}
	if err := r.dbpool.QueryRowContext(ctx, query, at, employeeID, date).Scan(dst...); err != nil {
		return nil, err
	}

	return attendance, nil
}

func (r *Repository) GetAttendancesByDate(date string) ([]*domain.Attendance, error) {
	query := `
		SELECT id, employee_id, date, check_in_at, check_out_at, created_at
		FROM attendances WHERE date = $1
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attendances := make([]*domain.Attendance, 0)
	for rows.Next() {
		a := &domain.Attendance{}
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.Date, &a.CheckInAt, &a.CheckOutAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		attendances = append(attendances, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return attendances, nil
}
