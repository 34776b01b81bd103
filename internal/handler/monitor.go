package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// now 返回配置时区下的当前时间，时区无效时退回本地时区
func (h *Handler) now() time.Time {
	now := time.Now()
	if h.config == nil || h.config.Monitor.Timezone == "" {
		return now
	}

	loc, err := time.LoadLocation(h.config.Monitor.Timezone)
	if err != nil {
		slog.Warn("无法加载时区，使用本地时区", "timezone", h.config.Monitor.Timezone, "error", err)
		return now
	}
	return now.In(loc)
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	employeeID, err := h.mySub(r)
	if err != nil {
		h.errorResponse(w, r, err.Error())
		return
	}

	now := h.now()
	attendance, err := h.repository.CheckIn(employeeID, now.Format(time.DateOnly), now)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "签到成功", attendance)
}

func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	employeeID, err := h.mySub(r)
	if err != nil {
		h.errorResponse(w, r, err.Error())
		return
	}

	now := h.now()
	attendance, err := h.repository.CheckOut(employeeID, now.Format(time.DateOnly), now)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, "今天还没有签到")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "签退成功", attendance)
}

func (h *Handler) GetUnresolvedIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.repository.GetUnresolvedIssues()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取待处理问题成功", issues)
}

func (h *Handler) ResolveIssue(w http.ResponseWriter, r *http.Request) {
	id, err := h.readIDParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	if err := h.repository.ResolveIssue(id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, "问题不存在")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "问题已处理", nil)
}
