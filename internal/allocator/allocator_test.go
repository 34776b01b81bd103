package allocator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/ledger"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/oracle"
)

func employee(id int64, pref domain.PreferredShift) *domain.Employee {
	return &domain.Employee{ID: id, Name: fmt.Sprintf("员工%d", id), Availability: 1, PreferredShift: pref}
}

func shift(id int64, date string, t domain.ShiftType) *domain.Shift {
	return &domain.Shift{ID: id, Date: date, ShiftType: t, Urgency: 0.5}
}

// history 生成 n 个已分配给 employeeID 的历史班次，日期为空，因此只计入总数
func history(employeeID int64, n int) []*domain.Shift {
	shifts := make([]*domain.Shift, n)
	for i := range shifts {
		id := employeeID
		shifts[i] = &domain.Shift{AssignedTo: &id}
	}
	return shifts
}

func dated(employeeID int64, dates ...string) []*domain.Shift {
	shifts := make([]*domain.Shift, len(dates))
	for i, d := range dates {
		id := employeeID
		shifts[i] = &domain.Shift{Date: d, AssignedTo: &id}
	}
	return shifts
}

func emptyResult(shifts, candidates int) *oracle.Result {
	res := &oracle.Result{RawScores: make([][]float64, shifts)}
	for i := range res.RawScores {
		res.RawScores[i] = make([]float64, candidates)
	}
	return res
}

func acceptAll() CommitFunc {
	return func(d Decision) error {
		id := d.Employee.ID
		d.Shift.AssignedTo = &id
		return nil
	}
}

func assigneeIDs(outcome *Outcome) []int64 {
	ids := make([]int64, len(outcome.Applied))
	for i, d := range outcome.Applied {
		ids[i] = d.Employee.ID
	}
	return ids
}

func TestAllocatePreferenceThenFallback(t *testing.T) {
	a := employee(1, domain.PreferredShiftMorning)
	b := employee(2, domain.PreferredShiftEvening)
	c := employee(3, domain.PreferredShiftNone)
	snapshot := ledger.Build(dated(3, "2024-05-06", "2024-05-07", "2024-05-08", "2024-05-09", "2024-05-10"))

	t.Run("second shift falls back to zero-shift employee", func(t *testing.T) {
		shifts := []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeMorning), shift(11, "2024-06-03", domain.ShiftTypeMorning)}
		candidates := []*domain.Employee{a, b, c}

		outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), shifts, candidates, emptyResult(2, 3), acceptAll())

		require.Len(t, outcome.Applied, 2)
		require.Empty(t, outcome.Skipped)
		require.Equal(t, int64(1), outcome.Applied[0].Employee.ID)
		require.Equal(t, TierPreferred, outcome.Applied[0].Tier)
		require.Equal(t, int64(2), outcome.Applied[1].Employee.ID)
		require.Equal(t, TierFallback, outcome.Applied[1].Tier)
		require.NotContains(t, assigneeIDs(outcome), int64(3))
	})

	t.Run("unavailable fallback leaves only the busy employee", func(t *testing.T) {
		unavailableB := employee(2, domain.PreferredShiftEvening)
		unavailableB.Availability = 0

		shifts := []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeMorning), shift(11, "2024-06-03", domain.ShiftTypeMorning)}
		candidates := []*domain.Employee{a, unavailableB, c}

		outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), shifts, candidates, emptyResult(2, 3), acceptAll())

		require.Equal(t, []int64{1, 3}, assigneeIDs(outcome))
		require.Equal(t, 5, outcome.Applied[1].PreviousTotal)
	})
}

func TestAllocateTierStrictness(t *testing.T) {
	// 偏好一致的员工已经有 10 个班次，其他员工都是 0 个，仍然只能选择偏好一致的员工
	busy := employee(1, domain.PreferredShiftEvening)
	fresh := employee(2, domain.PreferredShiftNone)
	other := employee(3, domain.PreferredShiftMorning)
	snapshot := ledger.Build(history(1, 10))

	shifts := []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeEvening)}
	res := emptyResult(1, 3)
	res.Assignments = []oracle.Assignment{{ShiftIndex: 0, CandidateIndex: 1}}
	res.RawScores[0] = []float64{0.1, 0.9, 0.8}

	outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), shifts, []*domain.Employee{busy, fresh, other}, res, acceptAll())

	require.Equal(t, []int64{1}, assigneeIDs(outcome))
	require.Equal(t, TierPreferred, outcome.Applied[0].Tier)
}

func TestAllocatePreferenceIsCaseInsensitive(t *testing.T) {
	e := employee(1, " Morning ")
	other := employee(2, domain.PreferredShiftNone)

	shifts := []*domain.Shift{shift(10, "2024-06-03", "MORNING")}
	outcome := Allocate(context.Background(), NewRunContext(ledger.Build(history(1, 3)), DefaultLimits()), shifts, []*domain.Employee{other, e}, emptyResult(1, 2), acceptAll())

	require.Equal(t, []int64{1}, assigneeIDs(outcome))
}

func TestAllocateCustomShiftUsesFallback(t *testing.T) {
	m := employee(1, domain.PreferredShiftMorning)
	n := employee(2, domain.PreferredShiftNone)
	snapshot := ledger.Build(history(2, 1))

	shifts := []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeCustom)}
	outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), shifts, []*domain.Employee{m, n}, emptyResult(1, 2), acceptAll())

	// 没有人偏好 custom，两人都在备选层，按历史班次数选择
	require.Equal(t, []int64{1}, assigneeIDs(outcome))
	require.Equal(t, TierFallback, outcome.Applied[0].Tier)
}

func TestAllocateDailyCap(t *testing.T) {
	holder := employee(1, domain.PreferredShiftMorning)
	snapshot := ledger.Build(dated(1, "2024-06-03"))

	shifts := []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeMorning)}
	outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), shifts, []*domain.Employee{holder}, emptyResult(1, 1), acceptAll())

	require.Empty(t, outcome.Applied)
	require.Len(t, outcome.Skipped, 1)
	require.Equal(t, SkipNoEligibleCandidate, outcome.Skipped[0].Reason)
}

func TestAllocateWeeklyCap(t *testing.T) {
	holder := employee(1, domain.PreferredShiftMorning)
	snapshot := ledger.Build(dated(1, "2024-06-03", "2024-06-04", "2024-06-05", "2024-06-06", "2024-06-07"))

	shifts := []*domain.Shift{
		shift(10, "2024-06-08", domain.ShiftTypeMorning), // 同一 ISO 周
		shift(11, "2024-06-10", domain.ShiftTypeMorning), // 下一周
	}
	outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), shifts, []*domain.Employee{holder}, emptyResult(2, 1), acceptAll())

	require.Len(t, outcome.Applied, 1)
	require.Equal(t, int64(11), outcome.Applied[0].Shift.ID)
	require.Len(t, outcome.Skipped, 1)
	require.Equal(t, int64(10), outcome.Skipped[0].Shift.ID)
}

func TestAllocateMonthlyCap(t *testing.T) {
	holder := employee(1, domain.PreferredShiftNone)
	snapshot := ledger.Build(dated(1, "2024-06-03", "2024-06-10"))
	limits := Limits{MaxShiftsPerDay: 1, MaxShiftsPerWeek: 5, MaxShiftsPerMonth: 2}

	shifts := []*domain.Shift{
		shift(10, "2024-06-17", domain.ShiftTypeMorning),
		shift(11, "2024-07-01", domain.ShiftTypeMorning),
	}
	outcome := Allocate(context.Background(), NewRunContext(snapshot, limits), shifts, []*domain.Employee{holder}, emptyResult(2, 1), acceptAll())

	require.Len(t, outcome.Applied, 1)
	require.Equal(t, int64(11), outcome.Applied[0].Shift.ID)
}

func TestAllocateNoDoubleAssignmentWithinRun(t *testing.T) {
	candidates := []*domain.Employee{employee(1, domain.PreferredShiftNone), employee(2, domain.PreferredShiftNone)}
	shifts := []*domain.Shift{
		shift(10, "2024-06-03", domain.ShiftTypeMorning),
		shift(11, "2024-06-04", domain.ShiftTypeMorning),
		shift(12, "2024-06-05", domain.ShiftTypeMorning),
		{ID: 13, ShiftType: domain.ShiftTypeMorning}, // 没有日期
	}

	outcome := Allocate(context.Background(), NewRunContext(nil, DefaultLimits()), shifts, candidates, emptyResult(4, 2), acceptAll())

	require.Len(t, outcome.Applied, 2)
	require.Len(t, outcome.Skipped, 2)
	require.ElementsMatch(t, []int64{1, 2}, assigneeIDs(outcome))
}

func TestAllocateMostConstrainedShiftFirst(t *testing.T) {
	e1 := employee(1, domain.PreferredShiftNone)
	e2 := employee(2, domain.PreferredShiftNone)
	snapshot := ledger.Build(dated(1, "2024-06-03"))

	shifts := []*domain.Shift{
		shift(10, "2024-06-04", domain.ShiftTypeMorning), // 两个候选人都可以
		shift(11, "2024-06-03", domain.ShiftTypeMorning), // 只有 e2 可以
	}
	outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), shifts, []*domain.Employee{e1, e2}, emptyResult(2, 2), acceptAll())

	require.Len(t, outcome.Applied, 2)
	require.Equal(t, int64(11), outcome.Applied[0].Shift.ID)
	require.Equal(t, int64(2), outcome.Applied[0].Employee.ID)
	require.Equal(t, int64(10), outcome.Applied[1].Shift.ID)
	require.Equal(t, int64(1), outcome.Applied[1].Employee.ID)
}

func TestAllocateSpreadsAcrossDates(t *testing.T) {
	candidates := []*domain.Employee{employee(1, domain.PreferredShiftNone), employee(2, domain.PreferredShiftNone), employee(3, domain.PreferredShiftNone)}
	snapshot := ledger.Build(dated(3, "2024-06-03"))

	shifts := []*domain.Shift{
		shift(10, "2024-06-03", domain.ShiftTypeMorning),
		shift(11, "2024-06-04", domain.ShiftTypeMorning),
	}
	// 两个班次的可用候选人数量不同：06-03 只有 2 个（员工 3 当天已有班次），06-04 有 3 个
	outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), shifts, candidates, emptyResult(2, 3), acceptAll())
	require.Equal(t, int64(10), outcome.Applied[0].Shift.ID)

	// 可用候选人数量相同时，当天已有班次的员工更少的日期优先
	snapshot = ledger.Build(append(dated(3, "2024-06-03"), dated(2, "2024-06-05")...))
	shifts = []*domain.Shift{
		shift(20, "2024-06-03", domain.ShiftTypeMorning),
		shift(21, "2024-06-05", domain.ShiftTypeMorning),
		shift(22, "2024-06-06", domain.ShiftTypeMorning),
	}
	order := processingOrder(NewRunContext(snapshot, DefaultLimits()), shifts, candidates)
	require.Equal(t, int64(22), order[2].shift.ID)
}

func TestAllocateOracleIsOnlyATiebreak(t *testing.T) {
	candidates := []*domain.Employee{employee(1, domain.PreferredShiftNone), employee(2, domain.PreferredShiftNone), employee(3, domain.PreferredShiftNone)}
	shifts := []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeMorning)}

	t.Run("suggestion breaks ties", func(t *testing.T) {
		res := emptyResult(1, 3)
		res.Assignments = []oracle.Assignment{{ShiftIndex: 0, CandidateIndex: 2}}
		res.RawScores[0] = []float64{0.9, 0.8, 0.1}

		outcome := Allocate(context.Background(), NewRunContext(nil, DefaultLimits()), []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeMorning)}, candidates, res, acceptAll())
		require.Equal(t, []int64{3}, assigneeIDs(outcome))
		require.True(t, outcome.Applied[0].OracleSuggested)
		require.InDelta(t, 0.1, outcome.Applied[0].Score, 1e-9)
	})

	t.Run("raw score is the last criterion", func(t *testing.T) {
		res := emptyResult(1, 3)
		res.RawScores[0] = []float64{0.2, 0.8, 0.5}

		outcome := Allocate(context.Background(), NewRunContext(nil, DefaultLimits()), shifts, candidates, res, acceptAll())
		require.Equal(t, []int64{2}, assigneeIDs(outcome))
	})

	t.Run("fairness beats score and suggestion", func(t *testing.T) {
		res := emptyResult(1, 3)
		res.Assignments = []oracle.Assignment{{ShiftIndex: 0, CandidateIndex: 0}}
		res.RawScores[0] = []float64{0.99, 0.1, 0.1}

		snapshot := ledger.Build(append(history(1, 2), history(2, 1)...))
		outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeMorning)}, candidates, res, acceptAll())
		require.Equal(t, []int64{3}, assigneeIDs(outcome))
	})

	t.Run("higher availability before score", func(t *testing.T) {
		partial := employee(4, domain.PreferredShiftNone)
		partial.Availability = 0.5
		res := emptyResult(1, 2)
		res.RawScores[0] = []float64{0.9, 0.1}

		outcome := Allocate(context.Background(), NewRunContext(nil, DefaultLimits()), []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeMorning)}, []*domain.Employee{partial, candidates[0]}, res, acceptAll())
		require.Equal(t, []int64{1}, assigneeIDs(outcome))
	})
}

func TestAllocateCommitFailureLeavesShiftUnassigned(t *testing.T) {
	e := employee(1, domain.PreferredShiftNone)
	shifts := []*domain.Shift{
		shift(10, "2024-06-03", domain.ShiftTypeMorning),
		shift(11, "2024-06-04", domain.ShiftTypeMorning),
	}

	calls := 0
	commitErr := errors.New("写入失败")
	committer := CommitFunc(func(d Decision) error {
		calls++
		if calls == 1 {
			return commitErr
		}
		return nil
	})

	rc := NewRunContext(nil, DefaultLimits())
	outcome := Allocate(context.Background(), rc, shifts, []*domain.Employee{e}, emptyResult(2, 1), committer)

	require.Len(t, outcome.Skipped, 1)
	require.Equal(t, SkipCommitFailed, outcome.Skipped[0].Reason)
	require.ErrorIs(t, outcome.Skipped[0].Err, commitErr)
	require.Len(t, outcome.Applied, 1)
	require.Equal(t, 1, rc.Ledger().Total(1))
	require.Equal(t, 1, rc.RunCount(1))
}

func TestAllocateStopsWhenContextEnds(t *testing.T) {
	candidates := []*domain.Employee{employee(1, domain.PreferredShiftNone), employee(2, domain.PreferredShiftNone)}
	shifts := []*domain.Shift{
		shift(10, "2024-06-03", domain.ShiftTypeMorning),
		shift(11, "2024-06-04", domain.ShiftTypeMorning),
		shift(12, "2024-06-05", domain.ShiftTypeMorning),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 第一次提交成功后 ctx 结束，后续班次不能再提交
	calls := 0
	committer := CommitFunc(func(d Decision) error {
		calls++
		cancel()
		id := d.Employee.ID
		d.Shift.AssignedTo = &id
		return nil
	})

	rc := NewRunContext(nil, DefaultLimits())
	outcome := Allocate(ctx, rc, shifts, candidates, emptyResult(3, 2), committer)

	require.Equal(t, 1, calls)
	require.Len(t, outcome.Applied, 1)
	require.Len(t, outcome.Skipped, 2)
	for _, s := range outcome.Skipped {
		require.Equal(t, SkipCancelled, s.Reason)
		require.ErrorIs(t, s.Err, context.Canceled)
		require.Nil(t, s.Shift.AssignedTo)
	}
	require.ErrorIs(t, outcome.Err, context.Canceled)
}

func TestAllocateWithExpiredContextCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	shifts := []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeMorning), shift(11, "2024-06-04", domain.ShiftTypeEvening)}
	committer := CommitFunc(func(d Decision) error {
		t.Fatalf("ctx 已结束但仍然提交了班次 %d", d.Shift.ID)
		return nil
	})

	outcome := Allocate(ctx, NewRunContext(nil, DefaultLimits()), shifts, []*domain.Employee{employee(1, domain.PreferredShiftNone)}, emptyResult(2, 1), committer)

	require.Empty(t, outcome.Applied)
	require.Len(t, outcome.Skipped, 2)
	require.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
}

func TestAllocateIgnoresAssignedShiftsAndNilResult(t *testing.T) {
	holder := int64(9)
	shifts := []*domain.Shift{{ID: 10, Date: "2024-06-03", AssignedTo: &holder}}

	outcome := Allocate(context.Background(), NewRunContext(nil, DefaultLimits()), shifts, []*domain.Employee{employee(1, domain.PreferredShiftNone)}, nil, acceptAll())
	require.Empty(t, outcome.Applied)
	require.Empty(t, outcome.Skipped)
}

func TestAllocateDoesNotMutateSnapshot(t *testing.T) {
	snapshot := ledger.New()
	outcome := Allocate(context.Background(), NewRunContext(snapshot, DefaultLimits()), []*domain.Shift{shift(10, "2024-06-03", domain.ShiftTypeMorning)}, []*domain.Employee{employee(1, domain.PreferredShiftNone)}, emptyResult(1, 1), acceptAll())

	require.Len(t, outcome.Applied, 1)
	require.Equal(t, 0, snapshot.Total(1))
}

func TestAllocateIsDeterministic(t *testing.T) {
	build := func() ([]*domain.Shift, []*domain.Employee) {
		shifts := []*domain.Shift{
			shift(10, "2024-06-03", domain.ShiftTypeMorning),
			shift(11, "2024-06-03", domain.ShiftTypeEvening),
			shift(12, "2024-06-04", domain.ShiftTypeMorning),
		}
		candidates := []*domain.Employee{
			employee(1, domain.PreferredShiftNone),
			employee(2, domain.PreferredShiftNone),
			employee(3, domain.PreferredShiftNone),
			employee(4, domain.PreferredShiftNone),
		}
		return shifts, candidates
	}

	var first []int64
	for i := 0; i < 20; i++ {
		shifts, candidates := build()
		outcome := Allocate(context.Background(), NewRunContext(nil, DefaultLimits()), shifts, candidates, emptyResult(3, 4), acceptAll())
		ids := assigneeIDs(outcome)
		if first == nil {
			first = ids
			continue
		}
		require.Equal(t, first, ids)
	}
}

// TestAllocateInvariants 用随机输入检查容量、分层、公平性以及一次排班不重复分配
func TestAllocateInvariants(t *testing.T) {
	prefs := []domain.PreferredShift{domain.PreferredShiftMorning, domain.PreferredShiftEvening, domain.PreferredShiftNone}
	types := []domain.ShiftType{domain.ShiftTypeMorning, domain.ShiftTypeEvening, domain.ShiftTypeCustom}
	dates := []string{"2024-06-03", "2024-06-04", "2024-06-05", "2024-06-06", "2024-06-07", "2024-06-08", "2024-06-10"}

	for seed := int64(1); seed <= 50; seed++ {
		r := rand.New(rand.NewSource(seed))

		var candidates []*domain.Employee
		for i := 0; i < 2+r.Intn(6); i++ {
			e := employee(int64(i+1), prefs[r.Intn(len(prefs))])
			if r.Intn(5) == 0 {
				e.Availability = 0
			}
			candidates = append(candidates, e)
		}

		var past []*domain.Shift
		for _, e := range candidates {
			for i := 0; i < r.Intn(4); i++ {
				past = append(past, dated(e.ID, dates[r.Intn(len(dates))])...)
			}
		}
		snapshot := ledger.Build(past)

		var shifts []*domain.Shift
		for i := 0; i < 1+r.Intn(8); i++ {
			shifts = append(shifts, shift(int64(100+i), dates[r.Intn(len(dates))], types[r.Intn(len(types))]))
		}

		rc := NewRunContext(snapshot, DefaultLimits())
		chosen := map[int64]bool{}

		committer := CommitFunc(func(d Decision) error {
			info := newShiftInfo(d.ShiftIndex, d.Shift)

			require.False(t, chosen[d.Employee.ID], "seed %d: employee assigned twice", seed)
			chosen[d.Employee.ID] = true
			require.True(t, eligible(rc, d.Employee, info), "seed %d", seed)

			anyPreferred := false
			for _, c := range candidates {
				if eligible(rc, c, info) && prefers(c, info.shiftType) {
					anyPreferred = true
				}
			}
			if anyPreferred {
				require.True(t, prefers(d.Employee, info.shiftType), "seed %d: crossed tiers", seed)
			}

			for _, c := range candidates {
				if eligible(rc, c, info) && prefers(c, info.shiftType) == prefers(d.Employee, info.shiftType) {
					require.LessOrEqual(t, rc.Ledger().Total(d.Employee.ID), rc.Ledger().Total(c.ID), "seed %d: fairness order", seed)
				}
			}

			id := d.Employee.ID
			d.Shift.AssignedTo = &id
			return nil
		})

		Allocate(context.Background(), rc, shifts, candidates, emptyResult(len(shifts), len(candidates)), committer)

		all := append(past, shifts...)
		final := ledger.Build(all)
		for _, e := range candidates {
			for _, d := range dates {
				day, _ := ledger.ParseDate(d)
				require.LessOrEqual(t, final.DayCount(e.ID, d)-ledger.Build(past).DayCount(e.ID, d), DefaultMaxShiftsPerDay, "seed %d", seed)
				if ledger.Build(past).WeekCount(e.ID, ledger.WeekKey(day)) <= DefaultMaxShiftsPerWeek {
					require.LessOrEqual(t, final.WeekCount(e.ID, ledger.WeekKey(day)), DefaultMaxShiftsPerWeek, "seed %d", seed)
				}
			}
		}
	}
}
