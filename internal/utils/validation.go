package utils

import (
	"errors"
	"time"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

// ValidateShiftTime 检查班次的日期和时间段是否合法，日期允许为空
func ValidateShiftTime(shift *domain.Shift) error {
	if shift.Date != "" {
		if _, err := time.Parse(domain.DateLayout, shift.Date); err != nil {
			return errors.New("班次日期格式错误")
		}
	}

	startTime, err := time.Parse("15:04", shift.StartTime)
	if err != nil {
		return errors.New("班次开始时间格式错误")
	}
	endTime, err := time.Parse("15:04", shift.EndTime)
	if err != nil {
		return errors.New("班次结束时间格式错误")
	}
	if !endTime.After(startTime) {
		return errors.New("班次结束时间必须晚于开始时间")
	}

	return nil
}
