package domain

import "time"

type PreferredShift string

const (
	PreferredShiftMorning PreferredShift = "morning"
	PreferredShiftEvening PreferredShift = "evening"
	PreferredShiftNone    PreferredShift = "none"
)

// MaxRecentSwaps 为 recent_swaps 的上限
const MaxRecentSwaps = 5

type Employee struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Email           string         `json:"email"`
	SkillMatch      float64        `json:"skillMatch"`
	Preference      float64        `json:"preference"`
	Availability    float64        `json:"availability"` // 为 0 时表示不可用，不能被分配任何班次
	AttendanceScore float64        `json:"attendanceScore"`
	RecentSwaps     int32          `json:"recentSwaps"`
	PreferredShift  PreferredShift `json:"preferredShift"`
	CreatedAt       time.Time      `json:"createdAt"`
	Version         int32          `json:"-"`
}

func (e *Employee) IsAvailable() bool {
	return e.Availability != 0
}
