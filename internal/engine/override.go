package engine

import (
	"fmt"
	"log/slog"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/ledger"
)

// Override 由主管手动指定班次的负责人。
// 超过每天或每周上限时会创建 fairness_cap_exceeded 问题，但仍然执行调整
func (e *Engine) Override(shiftID, employeeID int64, actor string) (*domain.Shift, error) {
	shift, err := e.store.GetShiftByID(shiftID)
	if err != nil {
		return nil, err
	}
	employee, err := e.store.GetEmployeeByID(employeeID)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = domain.ActorSupervisor
	}

	assigned, err := e.store.GetAssignedShifts()
	if err != nil {
		return nil, fmt.Errorf("无法获取已分配的班次: %w", err)
	}
	others := make([]*domain.Shift, 0, len(assigned))
	for _, s := range assigned {
		if s.ID != shift.ID {
			others = append(others, s)
		}
	}
	e.checkCaps(ledger.Build(others), shift, employee)

	previous := shift.AssignedTo
	var previousName any
	if previous != nil {
		if prev, err := e.store.GetEmployeeByID(*previous); err == nil {
			previousName = prev.Name
		}
	}

	id := employee.ID
	shift.AssignedTo = &id
	if err := e.store.UpdateShiftAssignee(shift); err != nil {
		shift.AssignedTo = previous
		return nil, err
	}

	log := &domain.AuditLog{
		Action:  domain.AuditActionSupervisorOverride,
		Actor:   actor,
		Message: fmt.Sprintf("主管将班次 %d（%s）调整给 %s", shift.ID, shift.Date, employee.Name),
		Before:  map[string]any{"assignedTo": previous, "employeeName": previousName},
		After:   map[string]any{"assignedTo": employee.ID, "employeeName": employee.Name},
		Metadata: map[string]any{
			"shiftDate": shift.Date,
			"shiftType": shift.ShiftType,
		},
	}
	if err := e.store.CreateAuditLog(log); err != nil {
		slog.Error("无法写入审计日志", "shiftID", shift.ID, "error", err)
	}

	if e.notifier != nil && employee.Email != "" {
		name, _ := previousName.(string)
		e.notifier.Dispatch(&domain.MailMessage{
			Type: domain.MailTypeShiftReassigned,
			To:   employee.Email,
			Data: domain.ShiftReassignedMailData{
				EmployeeName:         employee.Name,
				PreviousEmployeeName: name,
				ShiftID:              shift.ID,
				Date:                 shift.Date,
				ShiftType:            string(shift.ShiftType),
			},
		})
	}

	return shift, nil
}

func (e *Engine) checkCaps(l *ledger.Ledger, shift *domain.Shift, employee *domain.Employee) {
	d, ok := ledger.ParseDate(shift.Date)
	if !ok {
		return
	}

	date := d.Format(domain.DateLayout)
	dayCount := l.DayCount(employee.ID, date)
	weekCount := l.WeekCount(employee.ID, ledger.WeekKey(d))

	dayExceeded := e.limits.MaxShiftsPerDay > 0 && dayCount >= e.limits.MaxShiftsPerDay
	weekExceeded := e.limits.MaxShiftsPerWeek > 0 && weekCount >= e.limits.MaxShiftsPerWeek
	if !dayExceeded && !weekExceeded {
		return
	}

	issue := &domain.Issue{
		Type:     domain.IssueTypeFairnessCapExceeded,
		Severity: domain.IssueSeverityMedium,
		Message:  fmt.Sprintf("手动调整后 %s 将超过排班上限（当天 %d 个，本周 %d 个）", employee.Name, dayCount+1, weekCount+1),
		Metadata: map[string]any{
			"shiftID":      shift.ID,
			"employeeID":   employee.ID,
			"date":         date,
			"dayCount":     dayCount,
			"weekCount":    weekCount,
			"dayExceeded":  dayExceeded,
			"weekExceeded": weekExceeded,
		},
	}
	if err := e.store.CreateIssue(issue); err != nil {
		slog.Error("无法创建问题", "type", issue.Type, "error", err)
		return
	}
	e.metrics.IncIssue(string(issue.Type))
}
