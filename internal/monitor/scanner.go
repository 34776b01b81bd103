// Package monitor 定期检查排班状态：记录缺人的班次和可能的缺勤，
// 释放不可用员工的班次，并在需要时重新触发排班
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/coordinator"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/engine"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/metrics"
)

type Store interface {
	GetUnassignedShifts() ([]*domain.Shift, error)
	CountUnassignedShifts() (int, error)
	GetAssignedShiftsByDate(date string) ([]*domain.Shift, error)
	GetAttendancesByDate(date string) ([]*domain.Attendance, error)
	GetUnavailableEmployeesWithShifts() ([]*domain.Employee, error)
	CreateIssue(issue *domain.Issue) error
}

type Trigger interface {
	TriggerRun(ctx context.Context, source string, jobs ...coordinator.Job) (*engine.Result, error)
}

type Releaser interface {
	ReleaseJob(employeeID int64) func(ctx context.Context) error
}

type Options struct {
	Interval        time.Duration
	AbsenteeismHour int
	Location        *time.Location
	Metrics         *metrics.Metrics
}

type Scanner struct {
	store    Store
	trigger  Trigger
	releaser Releaser
	metrics  *metrics.Metrics

	interval        time.Duration
	absenteeismHour int
	location        *time.Location
	now             func() time.Time
}

func NewScanner(store Store, trigger Trigger, releaser Releaser, opts Options) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	return &Scanner{
		store:           store,
		trigger:         trigger,
		releaser:        releaser,
		metrics:         opts.Metrics,
		interval:        opts.Interval,
		absenteeismHour: opts.AbsenteeismHour,
		location:        opts.Location,
		now:             time.Now,
	}
}

// SeverityForUrgency 紧急度 >= 0.8 为 high，>= 0.5 为 medium，其余为 low
func SeverityForUrgency(urgency float64) domain.IssueSeverity {
	switch {
	case urgency >= 0.8:
		return domain.IssueSeverityHigh
	case urgency >= 0.5:
		return domain.IssueSeverityMedium
	default:
		return domain.IssueSeverityLow
	}
}

// Run 启动时立即检查一次，之后每隔 interval 检查一次，直到 ctx 结束
func (s *Scanner) Run(ctx context.Context) {
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick 依次执行所有检查步骤，某一步失败不会影响其他步骤
func (s *Scanner) Tick(ctx context.Context) {
	s.step("记录缺人的班次", s.flagUnderstaffedShifts)
	s.step("检查缺勤", s.flagPossibleAbsenteeism)
	s.step("重新排班", func() error { return s.rerunIfUnassigned(ctx) })
	s.step("释放不可用员工的班次", func() error { return s.releaseUnavailable(ctx) })
}

func (s *Scanner) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("巡检步骤发生 panic", "step", name, "panic", r)
		}
	}()

	if err := fn(); err != nil {
		slog.Error("巡检步骤失败", "step", name, "error", err)
	}
}

func (s *Scanner) flagUnderstaffedShifts() error {
	shifts, err := s.store.GetUnassignedShifts()
	if err != nil {
		return err
	}

	for _, shift := range shifts {
		issue := &domain.Issue{
			Type:     domain.IssueTypeUnderstaffedShift,
			Severity: SeverityForUrgency(shift.Urgency),
			Message:  fmt.Sprintf("班次 %d（%s）尚未分配", shift.ID, shift.Date),
			Metadata: map[string]any{
				"shiftID":   shift.ID,
				"date":      shift.Date,
				"shiftType": shift.ShiftType,
				"urgency":   shift.Urgency,
			},
		}
		s.createIssue(issue)
	}

	return nil
}

func (s *Scanner) flagPossibleAbsenteeism() error {
	now := s.now().In(s.location)
	if now.Hour() < s.absenteeismHour {
		return nil
	}
	today := now.Format(domain.DateLayout)

	shifts, err := s.store.GetAssignedShiftsByDate(today)
	if err != nil {
		return err
	}
	if len(shifts) == 0 {
		return nil
	}

	attendances, err := s.store.GetAttendancesByDate(today)
	if err != nil {
		return err
	}
	checkedIn := make(map[int64]bool, len(attendances))
	for _, a := range attendances {
		if a.CheckInAt != nil {
			checkedIn[a.EmployeeID] = true
		}
	}

	for _, shift := range shifts {
		if shift.AssignedTo == nil || checkedIn[*shift.AssignedTo] {
			continue
		}
		issue := &domain.Issue{
			Type:     domain.IssueTypePossibleAbsenteeism,
			Severity: domain.IssueSeverityMedium,
			Message:  fmt.Sprintf("员工 %d 在 %s 有班次但尚未签到", *shift.AssignedTo, today),
			Metadata: map[string]any{
				"shiftID":    shift.ID,
				"employeeID": *shift.AssignedTo,
				"date":       today,
			},
		}
		s.createIssue(issue)
	}

	return nil
}

func (s *Scanner) rerunIfUnassigned(ctx context.Context) error {
	count, err := s.store.CountUnassignedShifts()
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	_, err = s.trigger.TriggerRun(ctx, coordinator.SourceScanner)
	return err
}

func (s *Scanner) releaseUnavailable(ctx context.Context) error {
	employees, err := s.store.GetUnavailableEmployeesWithShifts()
	if err != nil {
		return err
	}
	if len(employees) == 0 {
		return nil
	}

	jobs := make([]coordinator.Job, 0, len(employees))
	for _, e := range employees {
		jobs = append(jobs, s.releaser.ReleaseJob(e.ID))
	}

	_, err = s.trigger.TriggerRun(ctx, coordinator.SourceScanner, jobs...)
	return err
}

// createIssue 每次巡检都会追加新的问题，不做去重
func (s *Scanner) createIssue(issue *domain.Issue) {
	if err := s.store.CreateIssue(issue); err != nil {
		slog.Error("无法创建问题", "type", issue.Type, "error", err)
		return
	}
	s.metrics.IncIssue(string(issue.Type))
}
