package engine

import (
	"errors"
	"math"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

var ErrInvalidAvailability = errors.New("可用度必须是 0 到 1 之间的数字")

func ValidateAvailability(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		return ErrInvalidAvailability
	}
	return nil
}

// SetAvailability 只负责校验并保存可用度。可用度为 0 时调用方需要再安排一次释放班次的任务
func (e *Engine) SetAvailability(employeeID int64, availability float64) (*domain.Employee, error) {
	if err := ValidateAvailability(availability); err != nil {
		return nil, err
	}

	employee, err := e.store.GetEmployeeByID(employeeID)
	if err != nil {
		return nil, err
	}

	employee.Availability = availability
	if err := e.store.UpdateEmployee(employee); err != nil {
		return nil, err
	}

	return employee, nil
}
