package repository

import (
	"encoding/json"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

// marshalJSONB 把 nil 保存为 JSON 的空对象
func marshalJSONB(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSONB(data []byte) (map[string]any, error) {
	m := make(map[string]any)
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) CreateAuditLog(log *domain.AuditLog) error {
	before, err := marshalJSONB(log.Before)
	if err != nil {
		return err
	}
	after, err := marshalJSONB(log.After)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONB(log.Metadata)
	if err != nil {
		return err
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	query := `
		INSERT INTO audit_logs (action, actor, message, before, after, metadata)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb)
		RETURNING id, created_at
	`

	args := []any{log.Action, log.Actor, log.Message, before, after, metadata}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&log.ID, &log.CreatedAt); err != nil {
		return err
	}

	return nil
}

// GetAuditLogs 按时间倒序返回最近的 limit 条审计日志
func (r *Repository) GetAuditLogs(limit int) ([]*domain.AuditLog, error) {
	query := `
		SELECT id, action, actor, message, before, after, metadata, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*domain.AuditLog, 0)
	for rows.Next() {
		log := &domain.AuditLog{}
		var before, after, metadata []byte
		if err := rows.Scan(&log.ID, &log.Action, &log.Actor, &log.Message, &before, &after, &metadata, &log.CreatedAt); err != nil {
			return nil, err
		}
		if log.Before, err = unmarshalJSONB(before); err != nil {
			return nil, err
		}
		if log.After, err = unmarshalJSONB(after); err != nil {
			return nil, err
		}
		if log.Metadata, err = unmarshalJSONB(metadata); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}
