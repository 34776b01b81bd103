package repository

import (
	"database/sql"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

func (r *Repository) CreateIssue(issue *domain.Issue) error {
	metadata, err := marshalJSONB(issue.Metadata)
	if err != nil {
		return err
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	query := `
		INSERT INTO issues (type, severity, message, metadata)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id, resolved, created_at
	`

	args := []any{issue.Type, issue.Severity, issue.Message, metadata}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&issue.ID, &issue.Resolved, &issue.CreatedAt); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetUnresolvedIssues() ([]*domain.Issue, error) {
	query := `
		SELECT id, type, severity, message, metadata, resolved, created_at
		FROM issues
		WHERE resolved = FALSE
		ORDER BY created_at DESC, id DESC
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	issues := make([]*domain.Issue, 0)
	for rows.Next() {
		issue := &domain.Issue{}
		var metadata []byte
		if err := rows.Scan(&issue.ID, &issue.Type, &issue.Severity, &issue.Message, &metadata, &issue.Resolved, &issue.CreatedAt); err != nil {
			return nil, err
		}
		if issue.Metadata, err = unmarshalJSONB(metadata); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return issues, nil
}

func (r *Repository) ResolveIssue(id int64) error {
	query := `
		UPDATE issues SET resolved = TRUE WHERE id = $1
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
