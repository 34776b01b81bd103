package domain

import "time"

type IssueType string

const (
	IssueTypeUnderstaffedShift   IssueType = "understaffed_shift"
	IssueTypePossibleAbsenteeism IssueType = "possible_absenteeism"
	IssueTypeFairnessCapExceeded IssueType = "fairness_cap_exceeded"
)

type IssueSeverity string

const (
	IssueSeverityLow    IssueSeverity = "low"
	IssueSeverityMedium IssueSeverity = "medium"
	IssueSeverityHigh   IssueSeverity = "high"
)

type Issue struct {
	ID        int64          `json:"id"`
	Type      IssueType      `json:"type"`
	Severity  IssueSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
	Resolved  bool           `json:"resolved"`
	CreatedAt time.Time      `json:"createdAt"`
}
