package repository

import (
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

func (r *Repository) GetAnalytics() (*domain.Analytics, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	analytics := &domain.Analytics{}

	query := `
		SELECT
			(SELECT COUNT(*) FROM employees),
			COUNT(*),
			COUNT(assigned_to),
			COALESCE(AVG(urgency), 0)
		FROM shifts
	`
	dst := []any{&analytics.TotalEmployees, &analytics.TotalShifts, &analytics.AssignedShifts, &analytics.AverageUrgency}
	if err := r.dbpool.QueryRowContext(ctx, query).Scan(dst...); err != nil {
		return nil, err
	}

	query = `
		SELECT e.id, e.name, COUNT(s.id)
		FROM employees e
		LEFT JOIN shifts s ON s.assigned_to = e.id
		GROUP BY e.id, e.name
		ORDER BY COUNT(s.id) DESC, e.id
	`
	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analytics.Distribution = make([]*domain.EmployeeShiftCount, 0)
	for rows.Next() {
		c := &domain.EmployeeShiftCount{}
		if err := rows.Scan(&c.EmployeeID, &c.EmployeeName, &c.Shifts); err != nil {
			return nil, err
		}
		analytics.Distribution = append(analytics.Distribution, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return analytics, nil
}
