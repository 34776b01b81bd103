package engine

import (
	"fmt"
	"log/slog"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/allocator"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

// applier 逐个提交分配决定。班次写入失败时返回错误；
// 审计日志、recent_swaps 与通知失败只记录日志，不影响已经写入的分配
type applier struct {
	engine *Engine
}

func (a *applier) Commit(d allocator.Decision) error {
	e := a.engine
	shift, employee := d.Shift, d.Employee

	previous := shift.AssignedTo
	id := employee.ID
	shift.AssignedTo = &id

	if err := e.store.UpdateShiftAssignee(shift); err != nil {
		shift.AssignedTo = previous
		slog.Error("无法保存班次分配", "shiftID", shift.ID, "employeeID", employee.ID, "error", err)
		return err
	}

	log := &domain.AuditLog{
		Action:  domain.AuditActionAIAssign,
		Actor:   domain.ActorAI,
		Message: fmt.Sprintf("系统将班次 %d（%s）分配给 %s", shift.ID, shift.Date, employee.Name),
		Before:  map[string]any{"assignedTo": previous},
		After:   map[string]any{"assignedTo": employee.ID, "employeeName": employee.Name},
		Metadata: map[string]any{
			"shiftDate":       shift.Date,
			"shiftType":       shift.ShiftType,
			"score":           d.Score,
			"tier":            d.Tier,
			"oracleSuggested": d.OracleSuggested,
			"previousTotal":   d.PreviousTotal,
		},
	}
	if err := e.store.CreateAuditLog(log); err != nil {
		slog.Error("无法写入审计日志", "shiftID", shift.ID, "error", err)
	}

	if employee.RecentSwaps < domain.MaxRecentSwaps {
		if err := e.store.AdjustRecentSwaps(employee.ID, 1); err != nil {
			slog.Error("无法更新员工的 recent_swaps", "employeeID", employee.ID, "error", err)
		} else {
			employee.RecentSwaps++
		}
	}

	e.notifyAssigned(shift, employee)

	return nil
}

func (e *Engine) notifyAssigned(shift *domain.Shift, employee *domain.Employee) {
	if e.notifier == nil {
		return
	}

	if employee.Email != "" {
		e.notifier.Dispatch(&domain.MailMessage{
			Type: domain.MailTypeShiftAssigned,
			To:   employee.Email,
			Data: domain.ShiftAssignedMailData{
				EmployeeName: employee.Name,
				ShiftID:      shift.ID,
				Date:         shift.Date,
				ShiftType:    string(shift.ShiftType),
				Urgency:      shift.Urgency,
			},
		})
	}

	if e.supervisorEmail != "" {
		e.notifier.Dispatch(&domain.MailMessage{
			Type: domain.MailTypeShiftAssignmentUpdated,
			To:   e.supervisorEmail,
			Data: domain.ShiftAssignmentUpdatedMailData{
				EmployeeName: employee.Name,
				ShiftID:      shift.ID,
				Date:         shift.Date,
			},
		})
	}
}
