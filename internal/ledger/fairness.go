package ledger

import (
	"math"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

// Features 为某个员工的公平性特征，会作为预言机的输入
type Features struct {
	ShiftsAlreadyAssigned    int
	ShiftsRelativeToAverage  float64 // 1.0 表示等于平均值
	ShiftsNormalized         float64 // 0~1
	FairnessScore            float64 // 1 - ShiftsNormalized，越高说明越应该被分配
	TotalShiftsAssigned      int
	AverageShiftsPerEmployee float64
}

// Stats 为团队整体的统计数据
type Stats struct {
	TotalShiftsAssigned      int
	AverageShiftsPerEmployee float64
	MaxObservedShifts        int
	MaxPossibleShifts        float64 // max(MaxObservedShifts, 2 * 平均值)
}

// Stats 统计整个团队（包括不可用的员工），总数和平均值使用同一组员工
func (l *Ledger) Stats(team []*domain.Employee) Stats {
	stats := Stats{}
	for _, e := range team {
		total := l.Total(e.ID)
		stats.TotalShiftsAssigned += total
		if total > stats.MaxObservedShifts {
			stats.MaxObservedShifts = total
		}
	}

	if len(team) > 0 {
		stats.AverageShiftsPerEmployee = float64(stats.TotalShiftsAssigned) / float64(len(team))
	}
	stats.MaxPossibleShifts = math.Max(float64(stats.MaxObservedShifts), 2*stats.AverageShiftsPerEmployee)

	return stats
}

// Features 计算 candidates 的公平性特征，顺序与 candidates 一致。团队统计数据来自 team
func (l *Ledger) Features(team, candidates []*domain.Employee) []Features {
	stats := l.Stats(team)

	features := make([]Features, len(candidates))
	for i, e := range candidates {
		assigned := l.Total(e.ID)

		f := Features{
			ShiftsAlreadyAssigned:    assigned,
			TotalShiftsAssigned:      stats.TotalShiftsAssigned,
			AverageShiftsPerEmployee: stats.AverageShiftsPerEmployee,
		}
		if stats.AverageShiftsPerEmployee > 0 {
			f.ShiftsRelativeToAverage = float64(assigned) / stats.AverageShiftsPerEmployee
		}
		if stats.MaxPossibleShifts > 0 {
			f.ShiftsNormalized = math.Min(float64(assigned)/stats.MaxPossibleShifts, 1)
		}
		f.FairnessScore = 1 - f.ShiftsNormalized

		features[i] = f
	}

	return features
}
