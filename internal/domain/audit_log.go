package domain

import "time"

type AuditAction string

const (
	AuditActionAIAssign           AuditAction = "ai_assign"
	AuditActionAIUnassign         AuditAction = "ai_unassign"
	AuditActionSupervisorOverride AuditAction = "supervisor_override"
)

const (
	ActorAI         = "ai"
	ActorSupervisor = "supervisor"
)

// AuditLog 只追加，不修改也不删除
type AuditLog struct {
	ID        int64          `json:"id"`
	Action    AuditAction    `json:"action"`
	Actor     string         `json:"actor"`
	Message   string         `json:"message"`
	Before    map[string]any `json:"before"`
	After     map[string]any `json:"after"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}
