// Package engine 串联一次完整的排班：读取数据、构建公平性台账、调用预言机、分配并提交结果
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/allocator"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/ledger"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/oracle"
)

// Store 是排班引擎需要的持久化操作，由 repository.Repository 实现
type Store interface {
	GetAllEmployees() ([]*domain.Employee, error)
	GetEmployeeByID(id int64) (*domain.Employee, error)
	UpdateEmployee(employee *domain.Employee) error
	AdjustRecentSwaps(employeeID int64, delta int) error

	GetUnassignedShifts() ([]*domain.Shift, error)
	GetAssignedShifts() ([]*domain.Shift, error)
	GetShiftByID(id int64) (*domain.Shift, error)
	UpdateShiftAssignee(shift *domain.Shift) error
	ReleaseShiftsByAssignee(employeeID int64) ([]*domain.Shift, error)

	CreateAuditLog(log *domain.AuditLog) error
	CreateIssue(issue *domain.Issue) error
}

type Oracle interface {
	ScoreAndAssign(ctx context.Context, req *oracle.Request) (*oracle.Result, error)
}

// Notifier 发送通知，不能阻塞调用方
type Notifier interface {
	Dispatch(msg *domain.MailMessage)
}

type Engine struct {
	store           Store
	oracle          Oracle
	notifier        Notifier
	metrics         *metrics.Metrics
	limits          allocator.Limits
	supervisorEmail string
}

type Options struct {
	Limits          allocator.Limits
	SupervisorEmail string
	Metrics         *metrics.Metrics
}

func New(store Store, oracle Oracle, notifier Notifier, opts Options) *Engine {
	return &Engine{
		store:           store,
		oracle:          oracle,
		notifier:        notifier,
		metrics:         opts.Metrics,
		limits:          opts.Limits,
		supervisorEmail: opts.SupervisorEmail,
	}
}

type Assignment struct {
	ShiftID         int64   `json:"shiftID"`
	Date            string  `json:"date"`
	ShiftType       string  `json:"shiftType"`
	EmployeeID      int64   `json:"employeeID"`
	EmployeeName    string  `json:"employeeName"`
	Score           float64 `json:"score"`
	Tier            string  `json:"tier"`
	OracleSuggested bool    `json:"oracleSuggested"`
}

type SkippedShift struct {
	ShiftID int64  `json:"shiftID"`
	Reason  string `json:"reason"`
}

type Result struct {
	Message     string         `json:"message"`
	Assignments []Assignment   `json:"assignments"`
	Skipped     []SkippedShift `json:"skipped"`
	RawScores   [][]float64    `json:"rawScores"`
	AIUsed      bool           `json:"aiUsed"`
}

func emptyResult(message string) *Result {
	return &Result{
		Message:     message,
		Assignments: make([]Assignment, 0),
		Skipped:     make([]SkippedShift, 0),
		RawScores:   make([][]float64, 0),
	}
}

// Run 执行一次排班。预言机出错时在任何写入之前返回错误；
// 单个班次提交失败只会让该班次保持未分配，不会让整次排班失败。
// ctx 在提交过程中结束时停止写入，返回已完成部分的结果和 ctx 的错误
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	shifts, err := e.store.GetUnassignedShifts()
	if err != nil {
		return nil, fmt.Errorf("无法获取未分配的班次: %w", err)
	}
	if len(shifts) == 0 {
		return emptyResult("没有需要分配的班次"), nil
	}

	employees, err := e.store.GetAllEmployees()
	if err != nil {
		return nil, fmt.Errorf("无法获取员工列表: %w", err)
	}
	candidates := make([]*domain.Employee, 0, len(employees))
	for _, employee := range employees {
		if employee.IsAvailable() {
			candidates = append(candidates, employee)
		}
	}
	if len(candidates) == 0 {
		return emptyResult("没有可用的员工"), nil
	}

	assigned, err := e.store.GetAssignedShifts()
	if err != nil {
		return nil, fmt.Errorf("无法获取已分配的班次: %w", err)
	}
	snapshot := ledger.Build(assigned)

	req := buildRequest(shifts, candidates, snapshot.Features(employees, candidates))

	slog.Info("开始排班", slog.Int("shifts", len(shifts)), slog.Int("candidates", len(candidates)))

	res, err := e.oracle.ScoreAndAssign(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("评分服务调用失败: %w", err)
	}

	rc := allocator.NewRunContext(snapshot, e.limits)
	outcome := allocator.Allocate(ctx, rc, shifts, candidates, res, &applier{engine: e})

	if outcome.Err == nil && len(outcome.Applied) > 0 {
		e.decayRecentSwaps(candidates, rc)
	}

	result := &Result{
		Message:     fmt.Sprintf("成功分配 %d 个班次，%d 个班次未能分配", len(outcome.Applied), len(outcome.Skipped)),
		Assignments: make([]Assignment, 0, len(outcome.Applied)),
		Skipped:     make([]SkippedShift, 0, len(outcome.Skipped)),
		RawScores:   res.RawScores,
		AIUsed:      true,
	}
	for _, d := range outcome.Applied {
		e.metrics.IncAssignment(string(d.Tier))
		result.Assignments = append(result.Assignments, Assignment{
			ShiftID:         d.Shift.ID,
			Date:            d.Shift.Date,
			ShiftType:       string(d.Shift.ShiftType),
			EmployeeID:      d.Employee.ID,
			EmployeeName:    d.Employee.Name,
			Score:           d.Score,
			Tier:            string(d.Tier),
			OracleSuggested: d.OracleSuggested,
		})
	}
	for _, s := range outcome.Skipped {
		e.metrics.IncSkippedShift(string(s.Reason))
		result.Skipped = append(result.Skipped, SkippedShift{
			ShiftID: s.Shift.ID,
			Reason:  string(s.Reason),
		})
	}

	slog.Info("排班结束",
		slog.Int("assigned", len(outcome.Applied)),
		slog.Int("skipped", len(outcome.Skipped)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if outcome.Err != nil {
		result.Message = fmt.Sprintf("排班被中断，已分配 %d 个班次，%d 个班次未能分配", len(outcome.Applied), len(outcome.Skipped))
		return result, fmt.Errorf("排班被中断，已分配 %d 个班次: %w", len(outcome.Applied), outcome.Err)
	}

	return result, nil
}

func buildRequest(shifts []*domain.Shift, candidates []*domain.Employee, features []ledger.Features) *oracle.Request {
	req := &oracle.Request{
		Shifts:     make([]oracle.ShiftFeatures, len(shifts)),
		Candidates: make([]oracle.CandidateFeatures, len(candidates)),
	}

	for i, shift := range shifts {
		req.Shifts[i] = oracle.ShiftFeatures{Urgency: shift.Urgency}
	}

	for i, c := range candidates {
		f := features[i]
		req.Candidates[i] = oracle.CandidateFeatures{
			SkillMatch:               c.SkillMatch,
			Preference:               c.Preference,
			Availability:             c.Availability,
			AttendanceScore:          c.AttendanceScore,
			RecentSwaps:              c.RecentSwaps,
			ShiftsAlreadyAssigned:    f.ShiftsAlreadyAssigned,
			ShiftsRelativeToAverage:  f.ShiftsRelativeToAverage,
			ShiftsNormalized:         f.ShiftsNormalized,
			FairnessScore:            f.FairnessScore,
			TotalShiftsAssigned:      f.TotalShiftsAssigned,
			AverageShiftsPerEmployee: f.AverageShiftsPerEmployee,
		}
	}

	return req
}

// decayRecentSwaps 让本次排班中没有被分配的候选人 recent_swaps 减一（最低为 0）
func (e *Engine) decayRecentSwaps(candidates []*domain.Employee, rc *allocator.RunContext) {
	for _, c := range candidates {
		if rc.Used(c.ID) || c.RecentSwaps <= 0 {
			continue
		}
		if err := e.store.AdjustRecentSwaps(c.ID, -1); err != nil {
			slog.Error("无法更新员工的 recent_swaps", "employeeID", c.ID, "error", err)
			continue
		}
		c.RecentSwaps--
	}
}
