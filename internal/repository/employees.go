package repository

import (
	"database/sql"
	"errors"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

const employeeColumns = `id, name, email, skill_match, preference, availability, attendance_score, recent_swaps, preferred_shift, created_at, version`

func employeeDst(e *domain.Employee) []any {
	return []any{&e.ID, &e.Name, &e.Email, &e.SkillMatch, &e.Preference, &e.Availability, &e.AttendanceScore, &e.RecentSwaps, &e.PreferredShift, &e.CreatedAt, &e.Version}
}

func (r *Repository) CreateEmployee(employee *domain.Employee) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `
		INSERT INTO employees (name, email, skill_match, preference, availability, attendance_score, preferred_shift)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, recent_swaps, created_at, version
	`

	args := []any{employee.Name, employee.Email, employee.SkillMatch, employee.Preference, employee.Availability, employee.AttendanceScore, employee.PreferredShift}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&employee.ID, &employee.RecentSwaps, &employee.CreatedAt, &employee.Version); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetEmployeeByID(id int64) (*domain.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1`

	ctx, cancel := r.queryContext()
	defer cancel()

	employee := &domain.Employee{}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(employeeDst(employee)...); err != nil {
		return nil, err
	}

	return employee, nil
}

func (r *Repository) GetAllEmployees() ([]*domain.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees ORDER BY id`
	return r.queryEmployees(query)
}

// GetUnavailableEmployeesWithShifts 返回可用度为 0 但仍持有班次的员工
func (r *Repository) GetUnavailableEmployeesWithShifts() ([]*domain.Employee, error) {
	query := `
		SELECT ` + employeeColumns + ` FROM employees e
		WHERE e.availability = 0 AND EXISTS (SELECT 1 FROM shifts s WHERE s.assigned_to = e.id)
		ORDER BY e.id
	`
	return r.queryEmployees(query)
}

func (r *Repository) queryEmployees(query string, args ...any) ([]*domain.Employee, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	employees := make([]*domain.Employee, 0)
	for rows.Next() {
		employee := &domain.Employee{}
		if err := rows.Scan(employeeDst(employee)...); err != nil {
			return nil, err
		}
		employees = append(employees, employee)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return employees, nil
}

func (r *Repository) UpdateEmployee(employee *domain.Employee) error {
	query := `
		UPDATE employees
		SET
			name = $1,
			email = $2,
			skill_match = $3,
			preference = $4,
			availability = $5,
			attendance_score = $6,
			preferred_shift = $7,
			version = version + 1
		WHERE id = $8 AND version = $9
		RETURNING recent_swaps, created_at, version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{employee.Name, employee.Email, employee.SkillMatch, employee.Preference, employee.Availability, employee.AttendanceScore, employee.PreferredShift, employee.ID, employee.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&employee.RecentSwaps, &employee.CreatedAt, &employee.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEditConflict
		}
		return err
	}

	return nil
}

// AdjustRecentSwaps 原子地修改 recent_swaps，结果限制在 [0, MaxRecentSwaps]
func (r *Repository) AdjustRecentSwaps(employeeID int64, delta int) error {
	query := `
		UPDATE employees
		SET recent_swaps = LEAST(GREATEST(recent_swaps + $1, 0), $2)
		WHERE id = $3
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	result, err := r.dbpool.ExecContext(ctx, query, delta, domain.MaxRecentSwaps, employeeID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) DeleteEmployee(id int64) error {
	query := `
		DELETE FROM employees WHERE id = $1
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
