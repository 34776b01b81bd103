package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/coordinator"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/oracle"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/runlock"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/utils"
)

func (h *Handler) GetAllShifts(w http.ResponseWriter, r *http.Request) {
	shifts, err := h.repository.GetAllShifts()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取班次列表成功", shifts)
}

func (h *Handler) GetAssignedShifts(w http.ResponseWriter, r *http.Request) {
	shifts, err := h.repository.GetAssignedShifts()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取已分配班次成功", shifts)
}

func (h *Handler) CreateShift(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date      string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
		Urgency   *float64 `json:"urgency" validate:"omitempty,min=0,max=1"`
		ShiftType string   `json:"shiftType" validate:"omitempty,oneof=morning evening custom"`
		StartTime string   `json:"startTime" validate:"omitempty,datetime=15:04"`
		EndTime   string   `json:"endTime" validate:"omitempty,datetime=15:04"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	// 未填写的字段使用默认值
	shift := &domain.Shift{
		Date:      req.Date,
		Urgency:   0.5,
		ShiftType: domain.ShiftTypeMorning,
		StartTime: "09:00",
		EndTime:   "17:00",
	}
	if req.Urgency != nil {
		shift.Urgency = *req.Urgency
	}
	if req.ShiftType != "" {
		shift.ShiftType = domain.ShiftType(req.ShiftType)
	}
	if req.StartTime != "" {
		shift.StartTime = req.StartTime
	}
	if req.EndTime != "" {
		shift.EndTime = req.EndTime
	}

	if err := utils.ValidateShiftTime(shift); err != nil {
		h.badRequest(w, r, err)
		return
	}

	if err := h.repository.CreateShift(shift); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	// 新的班次在下一次排班时分配，这里不等待结果
	if err := h.coordinator.Submit(coordinator.SourceShiftCreated); err != nil {
		h.logInternalServerError(r, err)
	}

	h.successResponse(w, r, "创建班次成功", shift)
}

func (h *Handler) DeleteShift(w http.ResponseWriter, r *http.Request) {
	id, err := h.readIDParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	if err := h.repository.DeleteShift(id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, "班次不存在")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "删除班次成功", nil)
}

func (h *Handler) OverrideShift(w http.ResponseWriter, r *http.Request) {
	shiftID, err := h.readIDParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var req struct {
		EmployeeID int64 `json:"employeeID" validate:"required,gt=0"`
	}
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	actor := domain.ActorSupervisor
	if sub, ok := r.Context().Value(SubCtxKey).(string); ok && sub != "" {
		actor = domain.ActorSupervisor + ":" + sub
	}

	// 改派与排班互斥，避免在排班提交过程中修改同一个班次
	var shift *domain.Shift
	err = h.coordinator.Exclusive(r.Context(), func(ctx context.Context) error {
		var overrideErr error
		shift, overrideErr = h.engine.Override(shiftID, req.EmployeeID, actor)
		return overrideErr
	})
	if err != nil {
		switch {
		case errors.Is(err, runlock.ErrLockHeld):
			h.errorResponse(w, r, "其他实例正在排班，请稍后重试")
		case errors.Is(err, context.DeadlineExceeded):
			h.errorResponse(w, r, "等待排班结束超时，请稍后重试")
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, "班次或员工不存在")
		case errors.Is(err, repository.ErrEditConflict):
			h.errorResponse(w, r, "班次已被修改，请刷新后重试")
		default:
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.ConstraintName == "shifts_assigned_to_fkey" {
				h.errorResponse(w, r, "员工不存在")
				return
			}
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "调整班次成功", shift)
}

func (h *Handler) TriggerAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.config != nil && h.config.Server.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.config.Server.WriteTimeout)*time.Second)
		defer cancel()
	}

	result, err := h.coordinator.TriggerRun(ctx, coordinator.SourceManual)
	if err != nil {
		switch {
		case errors.Is(err, oracle.ErrTimeout), errors.Is(err, oracle.ErrBadStatus), errors.Is(err, oracle.ErrMalformedResponse):
			h.logInternalServerError(r, err)
			h.writeJSON(w, r, http.StatusBadGateway, Response{
				Success: false,
				Message: "评分服务不可用，本次排班未做任何修改",
				Data:    nil,
			})
		case errors.Is(err, runlock.ErrLockHeld):
			h.errorResponse(w, r, "其他实例正在排班，请稍后重试")
		case errors.Is(err, context.DeadlineExceeded):
			h.errorResponse(w, r, "排班超时，部分班次可能未分配，请稍后重试")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, result.Message, result)
}
