// Package allocator 根据硬约束、偏好分层和公平性排序，为未分配的班次挑选员工
package allocator

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/ledger"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/oracle"
)

type Tier string

const (
	TierPreferred Tier = "preferred" // 偏好与班次类型完全一致的候选人
	TierFallback  Tier = "fallback"
)

type Decision struct {
	ShiftIndex      int // 在传给预言机的班次数组中的下标
	Shift           *domain.Shift
	CandidateIndex  int // 在传给预言机的候选人数组中的下标
	Employee        *domain.Employee
	Score           float64
	Tier            Tier
	OracleSuggested bool
	PreviousTotal   int // 分配前的历史班次总数
}

type SkipReason string

const (
	SkipNoEligibleCandidate SkipReason = "no_eligible_candidate"
	SkipCommitFailed        SkipReason = "commit_failed"
	SkipCancelled           SkipReason = "cancelled"
)

type Skip struct {
	ShiftIndex int
	Shift      *domain.Shift
	Reason     SkipReason
	Err        error
}

type Outcome struct {
	Applied []Decision
	Skipped []Skip
	// Err 不为 nil 时表示 ctx 在处理过程中结束，剩余的班次都以 SkipCancelled 跳过
	Err error
}

// Committer 负责持久化一个分配决定。返回错误时这个班次被视为未分配，排班继续处理剩余的班次
type Committer interface {
	Commit(d Decision) error
}

type CommitFunc func(d Decision) error

func (f CommitFunc) Commit(d Decision) error {
	return f(d)
}

type shiftInfo struct {
	index     int
	shift     *domain.Shift
	shiftType string
	date      string
	hasDate   bool
	week      string
	month     string
}

func newShiftInfo(index int, shift *domain.Shift) shiftInfo {
	info := shiftInfo{
		index:     index,
		shift:     shift,
		shiftType: normalize(string(shift.ShiftType)),
	}
	if info.shiftType == "" {
		info.shiftType = string(domain.ShiftTypeMorning)
	}

	if d, ok := ledger.ParseDate(shift.Date); ok {
		info.hasDate = true
		info.date = d.Format(domain.DateLayout)
		info.week = ledger.WeekKey(d)
		info.month = ledger.MonthKey(d)
	}

	return info
}

type candidate struct {
	index     int
	employee  *domain.Employee
	total     int
	runCount  int
	onDate    bool
	prefMatch bool
	suggested bool
	score     float64
}

// Allocate 按照约束最紧的班次优先的顺序逐个处理班次。
// shifts 与 candidates 的顺序必须与发送给预言机的请求一致，result 中的下标才有意义。
// 每次提交前都会检查 ctx，ctx 结束后不再提交任何分配
func Allocate(ctx context.Context, rc *RunContext, shifts []*domain.Shift, candidates []*domain.Employee, result *oracle.Result, committer Committer) *Outcome {
	if result == nil {
		result = &oracle.Result{}
	}

	outcome := &Outcome{
		Applied: make([]Decision, 0),
		Skipped: make([]Skip, 0),
	}

	order := processingOrder(rc, shifts, candidates)
	for i, info := range order {
		if err := ctx.Err(); err != nil {
			slog.Warn("排班被中断，剩余的班次不再分配", "remaining", len(order)-i, "error", err)
			for _, rest := range order[i:] {
				outcome.Skipped = append(outcome.Skipped, Skip{
					ShiftIndex: rest.index,
					Shift:      rest.shift,
					Reason:     SkipCancelled,
					Err:        err,
				})
			}
			outcome.Err = err
			break
		}

		best, tier, ok := selectCandidate(rc, info, candidates, result)
		if !ok {
			slog.Info("没有符合条件的候选人，跳过该班次", "shiftID", info.shift.ID, "date", info.shift.Date, "shiftType", info.shiftType)
			outcome.Skipped = append(outcome.Skipped, Skip{
				ShiftIndex: info.index,
				Shift:      info.shift,
				Reason:     SkipNoEligibleCandidate,
			})
			continue
		}

		d := Decision{
			ShiftIndex:      info.index,
			Shift:           info.shift,
			CandidateIndex:  best.index,
			Employee:        best.employee,
			Score:           best.score,
			Tier:            tier,
			OracleSuggested: best.suggested,
			PreviousTotal:   best.total,
		}

		if err := committer.Commit(d); err != nil {
			outcome.Skipped = append(outcome.Skipped, Skip{
				ShiftIndex: info.index,
				Shift:      info.shift,
				Reason:     SkipCommitFailed,
				Err:        err,
			})
			continue
		}

		rc.record(best.employee.ID, info.date)
		outcome.Applied = append(outcome.Applied, d)
	}

	return outcome
}

// processingOrder 按 (可用候选人数量, 当天已有班次的员工数量) 升序排列，
// 先处理最难安排的班次，同时把分配分散到不同的日期
func processingOrder(rc *RunContext, shifts []*domain.Shift, candidates []*domain.Employee) []shiftInfo {
	type entry struct {
		info            shiftInfo
		viable          int
		employeesOnDate int
	}

	entries := make([]entry, 0, len(shifts))
	for i, shift := range shifts {
		if shift == nil || shift.IsAssigned() {
			continue
		}

		info := newShiftInfo(i, shift)
		e := entry{info: info}
		for _, c := range candidates {
			if eligible(rc, c, info) {
				e.viable++
			}
		}
		if info.hasDate {
			e.employeesOnDate = rc.ledger.EmployeesOnDate(info.date)
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].viable != entries[j].viable {
			return entries[i].viable < entries[j].viable
		}
		return entries[i].employeesOnDate < entries[j].employeesOnDate
	})

	order := make([]shiftInfo, len(entries))
	for i, e := range entries {
		order[i] = e.info
	}
	return order
}

// selectCandidate 先在偏好完全一致的候选人中选择，只有这一层为空时才使用其余候选人
func selectCandidate(rc *RunContext, info shiftInfo, candidates []*domain.Employee, result *oracle.Result) (candidate, Tier, bool) {
	suggested, hasSuggestion := result.Suggested(info.index)

	var preferred, fallback []candidate
	for idx, e := range candidates {
		if !eligible(rc, e, info) {
			continue
		}

		c := candidate{
			index:     idx,
			employee:  e,
			total:     rc.ledger.Total(e.ID),
			runCount:  rc.RunCount(e.ID),
			prefMatch: prefers(e, info.shiftType),
			suggested: hasSuggestion && suggested == idx,
			score:     result.Score(info.index, idx),
		}
		if info.hasDate {
			c.onDate = rc.ledger.DayCount(e.ID, info.date) > 0
		}

		if c.prefMatch {
			preferred = append(preferred, c)
		} else {
			fallback = append(fallback, c)
		}
	}

	pool, tier := preferred, TierPreferred
	if len(pool) == 0 {
		pool, tier = fallback, TierFallback
	}
	if len(pool) == 0 {
		return candidate{}, "", false
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return rankLess(pool[i], pool[j])
	})

	return pool[0], tier, true
}

// rankLess 定义同一层内候选人的全序：
// 历史班次总数、本次排班中的分配次数、当天是否已有班次、偏好、预言机建议、可用度、原始评分，最后是下标
func rankLess(a, b candidate) bool {
	if a.total != b.total {
		return a.total < b.total
	}
	if a.runCount != b.runCount {
		return a.runCount < b.runCount
	}
	if a.onDate != b.onDate {
		return !a.onDate
	}
	if a.prefMatch != b.prefMatch {
		return a.prefMatch
	}
	if a.suggested != b.suggested {
		return a.suggested
	}
	if a.employee.Availability != b.employee.Availability {
		return a.employee.Availability > b.employee.Availability
	}
	if a.score != b.score {
		return a.score > b.score
	}
	return a.index < b.index
}

// eligible 检查硬约束：可用、本次排班未被选中、未超过每天/每周/每月的上限
func eligible(rc *RunContext, e *domain.Employee, info shiftInfo) bool {
	if e == nil || !e.IsAvailable() || rc.Used(e.ID) {
		return false
	}

	if !info.hasDate {
		return true
	}

	if exceeds(rc.ledger.DayCount(e.ID, info.date), rc.limits.MaxShiftsPerDay) {
		return false
	}
	if exceeds(rc.ledger.WeekCount(e.ID, info.week), rc.limits.MaxShiftsPerWeek) {
		return false
	}
	if exceeds(rc.ledger.MonthCount(e.ID, info.month), rc.limits.MaxShiftsPerMonth) {
		return false
	}

	return true
}

// 上限小于等于 0 时表示不限制
func exceeds(count, limit int) bool {
	return limit > 0 && count >= limit
}

func prefers(e *domain.Employee, shiftType string) bool {
	pref := normalize(string(e.PreferredShift))
	return pref != "" && pref != string(domain.PreferredShiftNone) && pref == shiftType
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
