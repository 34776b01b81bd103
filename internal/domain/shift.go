package domain

import "time"

type ShiftType string

const (
	ShiftTypeMorning ShiftType = "morning"
	ShiftTypeEvening ShiftType = "evening"
	ShiftTypeCustom  ShiftType = "custom"
)

// DateLayout 为班次日期的格式
const DateLayout = "2006-01-02"

type Shift struct {
	ID         int64     `json:"id"`
	Date       string    `json:"date"` // YYYY-MM-DD，允许为空（表示日期未指定）
	Urgency    float64   `json:"urgency"`
	ShiftType  ShiftType `json:"shiftType"`
	StartTime  string    `json:"startTime"` // HH:MM
	EndTime    string    `json:"endTime"`
	AssignedTo *int64    `json:"assignedTo"` // 为 nil 时表示未分配
	CreatedAt  time.Time `json:"createdAt"`
	Version    int32     `json:"-"`
}

func (s *Shift) IsAssigned() bool {
	return s.AssignedTo != nil
}
