package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/coordinator"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/engine"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/repository"
)

const (
	RoleSupervisor = "supervisor"
	RoleEmployee   = "employee"
)

type Handler struct {
	validate    *validator.Validate
	config      *config.Config
	repository  *repository.Repository
	translator  ut.Translator
	engine      *engine.Engine
	coordinator *coordinator.Coordinator
	metrics     http.Handler

	Mux *chi.Mux
}

func NewHandler(cfg *config.Config, repo *repository.Repository, eng *engine.Engine, coord *coordinator.Coordinator, metrics http.Handler) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:    validate,
		config:      cfg,
		repository:  repo,
		translator:  trans,
		engine:      eng,
		coordinator: coord,
		metrics:     metrics,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	if h.metrics != nil {
		h.Mux.Method(http.MethodGet, "/metrics", h.metrics)
	}

	// 以下 API 必须携带有效的令牌
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)

		r.Route("/shifts", func(r chi.Router) {
			r.Get("/", h.GetAllShifts)
			r.Get("/assigned", h.GetAssignedShifts)
			r.With(h.RequiredRole(RoleSupervisor)).Post("/", h.CreateShift)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.RequiredRole(RoleSupervisor))
				r.Delete("/", h.DeleteShift)
				r.Post("/override", h.OverrideShift)
			})
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.GetAllEmployees)
			r.With(h.RequiredRole(RoleSupervisor)).Post("/", h.CreateEmployee)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.RequiredRole(RoleSupervisor))
				r.Delete("/", h.DeleteEmployee)
				r.Patch("/availability", h.UpdateEmployeeAvailability)
				r.With(h.employeeInfo).Patch("/preferred-shift", h.UpdateEmployeePreferredShift)
			})
		})

		r.Patch("/my-availability", h.UpdateMyAvailability)

		r.With(h.RequiredRole(RoleSupervisor)).Post("/assign", h.TriggerAssignment)
		r.With(h.RequiredRole(RoleSupervisor)).Get("/analytics", h.GetAnalytics)
		r.With(h.RequiredRole(RoleSupervisor)).Get("/audit-logs", h.GetAuditLogs)

		r.Route("/monitor", func(r chi.Router) {
			r.Post("/check-in", h.CheckIn)
			r.Post("/check-out", h.CheckOut)
			r.Route("/issues", func(r chi.Router) {
				r.Use(h.RequiredRole(RoleSupervisor))
				r.Get("/", h.GetUnresolvedIssues)
				r.Patch("/{id}/resolve", h.ResolveIssue)
			})
		})
	})
}
