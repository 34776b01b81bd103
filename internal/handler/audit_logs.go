package handler

import (
	"errors"
	"net/http"
	"strconv"
)

const (
	defaultAuditLogLimit = 100
	maxAuditLogLimit     = 500
)

func (h *Handler) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLogLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.badRequest(w, r, errors.New("limit 必须是正整数"))
			return
		}
		limit = min(n, maxAuditLogLimit)
	}

	logs, err := h.repository.GetAuditLogs(limit)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取审计日志成功", logs)
}
