package domain

type MailType string

const (
	MailTypeShiftAssigned          MailType = "shift_assigned"
	MailTypeShiftAssignmentUpdated MailType = "shift_assignment_updated"
	MailTypeShiftReassigned        MailType = "shift_reassigned"
)

type MailMessage struct {
	Type MailType `json:"type"`
	To   string   `json:"to"`
	Data any      `json:"data"`
}

// ShiftAssignedMailData 发送给被分配到班次的员工
type ShiftAssignedMailData struct {
	EmployeeName string  `json:"employeeName"`
	ShiftID      int64   `json:"shiftID"`
	Date         string  `json:"date"`
	ShiftType    string  `json:"shiftType"`
	Urgency      float64 `json:"urgency"`
}

// ShiftAssignmentUpdatedMailData 发送给主管
type ShiftAssignmentUpdatedMailData struct {
	EmployeeName string `json:"employeeName"`
	ShiftID      int64  `json:"shiftID"`
	Date         string `json:"date"`
}

// ShiftReassignedMailData 在主管手动调整班次后发送给新的负责人
type ShiftReassignedMailData struct {
	EmployeeName         string `json:"employeeName"`
	PreviousEmployeeName string `json:"previousEmployeeName"`
	ShiftID              int64  `json:"shiftID"`
	Date                 string `json:"date"`
	ShiftType            string `json:"shiftType"`
}
