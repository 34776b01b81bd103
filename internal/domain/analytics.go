package domain

type EmployeeShiftCount struct {
	EmployeeID   int64  `json:"employeeID"`
	EmployeeName string `json:"employeeName"`
	Shifts       int    `json:"shifts"`
}

type Analytics struct {
	TotalEmployees int                   `json:"totalEmployees"`
	TotalShifts    int                   `json:"totalShifts"`
	AssignedShifts int                   `json:"assignedShifts"`
	AverageUrgency float64               `json:"averageUrgency"`
	Distribution   []*EmployeeShiftCount `json:"distribution"`
}
