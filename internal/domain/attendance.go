package domain

import "time"

type Attendance struct {
	ID         int64      `json:"id"`
	EmployeeID int64      `json:"employeeID"`
	Date       string     `json:"date"`
	CheckInAt  *time.Time `json:"checkInAt"`
	CheckOutAt *time.Time `json:"checkOutAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}
