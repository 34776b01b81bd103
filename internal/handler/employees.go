package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/coordinator"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/engine"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/repository"
)

type availabilityRequest struct {
	Availability *float64 `json:"availability" validate:"required,min=0,max=1"`
}

func (h *Handler) GetAllEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.repository.GetAllEmployees()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取员工列表成功", employees)
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string   `json:"name" validate:"required"`
		Email           string   `json:"email" validate:"required,email"`
		SkillMatch      *float64 `json:"skillMatch" validate:"omitempty,min=0,max=1"`
		Preference      *float64 `json:"preference" validate:"omitempty,min=0,max=1"`
		Availability    *float64 `json:"availability" validate:"omitempty,min=0,max=1"`
		AttendanceScore *float64 `json:"attendanceScore" validate:"omitempty,min=0,max=1"`
		PreferredShift  string   `json:"preferredShift" validate:"omitempty,oneof=morning evening none"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	employee := &domain.Employee{
		Name:            req.Name,
		Email:           req.Email,
		SkillMatch:      0.5,
		Preference:      0.5,
		Availability:    1,
		AttendanceScore: 1,
		PreferredShift:  domain.PreferredShiftNone,
	}
	if req.SkillMatch != nil {
		employee.SkillMatch = *req.SkillMatch
	}
	if req.Preference != nil {
		employee.Preference = *req.Preference
	}
	if req.Availability != nil {
		employee.Availability = *req.Availability
	}
	if req.AttendanceScore != nil {
		employee.AttendanceScore = *req.AttendanceScore
	}
	if req.PreferredShift != "" {
		employee.PreferredShift = domain.PreferredShift(req.PreferredShift)
	}

	if err := h.repository.CreateEmployee(employee); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "employees_email_key" {
			h.errorResponse(w, r, "邮箱已被使用")
			return
		}
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "创建员工成功", employee)
}

func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := h.readIDParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	if err := h.repository.DeleteEmployee(id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, "员工不存在")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "删除员工成功", nil)
}

func (h *Handler) UpdateEmployeeAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := h.readIDParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	h.updateAvailability(w, r, id)
}

func (h *Handler) UpdateMyAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := h.mySub(r)
	if err != nil {
		h.errorResponse(w, r, err.Error())
		return
	}

	h.updateAvailability(w, r, id)
}

// updateAvailability 保存可用度后安排一次排班，可用度为 0 时先释放该员工已有的班次
func (h *Handler) updateAvailability(w http.ResponseWriter, r *http.Request, employeeID int64) {
	var req availabilityRequest
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := engine.ValidateAvailability(*req.Availability); err != nil {
		h.errorResponse(w, r, err.Error())
		return
	}

	employee, err := h.engine.SetAvailability(employeeID, *req.Availability)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidAvailability):
			h.errorResponse(w, r, err.Error())
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, "员工不存在")
		case errors.Is(err, repository.ErrEditConflict):
			h.errorResponse(w, r, "员工信息已被修改，请刷新后重试")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	var jobs []coordinator.Job
	if !employee.IsAvailable() {
		jobs = append(jobs, h.engine.ReleaseJob(employee.ID))
	}
	if err := h.coordinator.Submit(coordinator.SourceAvailabilityChanged, jobs...); err != nil {
		h.logInternalServerError(r, err)
	}

	h.successResponse(w, r, "更新可用度成功", employee)
}

func (h *Handler) UpdateEmployeePreferredShift(w http.ResponseWriter, r *http.Request) {
	employee := r.Context().Value(EmployeeInfoCtx).(*domain.Employee)

	var req struct {
		PreferredShift string `json:"preferredShift" validate:"required,oneof=morning evening none"`
	}
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	employee.PreferredShift = domain.PreferredShift(req.PreferredShift)
	if err := h.repository.UpdateEmployee(employee); err != nil {
		switch {
		case errors.Is(err, repository.ErrEditConflict):
			h.errorResponse(w, r, "员工信息已被修改，请刷新后重试")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "更新偏好班次成功", employee)
}
