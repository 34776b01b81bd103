package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

// ReleaseEmployeeShifts 释放某个员工持有的所有班次，并为每个班次写入 ai_unassign 审计日志
func (e *Engine) ReleaseEmployeeShifts(employeeID int64) ([]*domain.Shift, error) {
	employee, err := e.store.GetEmployeeByID(employeeID)
	if err != nil {
		return nil, err
	}

	released, err := e.store.ReleaseShiftsByAssignee(employeeID)
	if err != nil {
		return nil, fmt.Errorf("无法释放员工 %d 的班次: %w", employeeID, err)
	}

	for _, shift := range released {
		log := &domain.AuditLog{
			Action:  domain.AuditActionAIUnassign,
			Actor:   domain.ActorAI,
			Message: fmt.Sprintf("%s 不可用，系统释放了班次 %d（%s）", employee.Name, shift.ID, shift.Date),
			Before:  map[string]any{"assignedTo": employee.ID, "employeeName": employee.Name},
			After:   map[string]any{"assignedTo": nil},
			Metadata: map[string]any{
				"shiftDate":    shift.Date,
				"shiftType":    shift.ShiftType,
				"availability": employee.Availability,
			},
		}
		if err := e.store.CreateAuditLog(log); err != nil {
			slog.Error("无法写入审计日志", "shiftID", shift.ID, "error", err)
		}
	}

	e.metrics.AddReleasedShifts(len(released))
	if len(released) > 0 {
		slog.Info("已释放不可用员工的班次", "employeeID", employeeID, slog.Int("count", len(released)))
	}

	return released, nil
}

// ReleaseJob 把 ReleaseEmployeeShifts 包装成排班前执行的任务
func (e *Engine) ReleaseJob(employeeID int64) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := e.ReleaseEmployeeShifts(employeeID)
		return err
	}
}
