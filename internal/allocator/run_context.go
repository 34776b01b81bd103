package allocator

import (
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/ledger"
)

const (
	DefaultMaxShiftsPerDay   = 1
	DefaultMaxShiftsPerWeek  = 5
	DefaultMaxShiftsPerMonth = 20 // 软上限，只用于避免极端的不均衡
)

type Limits struct {
	MaxShiftsPerDay   int
	MaxShiftsPerWeek  int
	MaxShiftsPerMonth int
}

func DefaultLimits() Limits {
	return Limits{
		MaxShiftsPerDay:   DefaultMaxShiftsPerDay,
		MaxShiftsPerWeek:  DefaultMaxShiftsPerWeek,
		MaxShiftsPerMonth: DefaultMaxShiftsPerMonth,
	}
}

// RunContext 保存一次排班过程中的所有可变状态。
// 每次排班都必须使用新的 RunContext，不能在多次排班之间共享
type RunContext struct {
	limits    Limits
	ledger    *ledger.Ledger
	used      map[int64]bool // 本次排班中已经被选中的员工
	runCounts map[int64]int  // 本次排班中每个员工被分配的次数
}

// NewRunContext 会拷贝一份 snapshot，排班过程中的修改不会影响传入的 Ledger
func NewRunContext(snapshot *ledger.Ledger, limits Limits) *RunContext {
	if snapshot == nil {
		snapshot = ledger.New()
	}
	return &RunContext{
		limits:    limits,
		ledger:    snapshot.Clone(),
		used:      make(map[int64]bool),
		runCounts: make(map[int64]int),
	}
}

func (rc *RunContext) Ledger() *ledger.Ledger {
	return rc.ledger
}

func (rc *RunContext) Used(employeeID int64) bool {
	return rc.used[employeeID]
}

func (rc *RunContext) RunCount(employeeID int64) int {
	return rc.runCounts[employeeID]
}

// record 在一个分配成功提交后立即更新计数，后续的班次能够看到这次分配的影响
func (rc *RunContext) record(employeeID int64, date string) {
	rc.used[employeeID] = true
	rc.runCounts[employeeID]++
	rc.ledger.Add(employeeID, date)
}
