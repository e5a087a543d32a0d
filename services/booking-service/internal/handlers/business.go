package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
)

// Catalog manages the business, service and employee records bookings are made against.
type Catalog interface {
	UpsertBusiness(ctx context.Context, b model.Business) (model.Business, error)
	CreateService(ctx context.Context, svc model.Service) (model.Service, error)
	ListServices(ctx context.Context, businessID string) ([]model.Service, error)
	CreateEmployee(ctx context.Context, emp model.Employee, serviceIDs []string) (model.Employee, error)
	SetEmployeeServices(ctx context.Context, businessID, employeeID string, serviceIDs []string) error
}

// CapabilityCache is told when an employee's services change.
type CapabilityCache interface {
	Invalidate(ctx context.Context, businessID, employeeID string) error
}

type closeDateRequest struct {
	BusinessID string `json:"business_id"`
	Date       string `json:"date"`
	Reason     string `json:"reason"`
}

type closeDateResponse struct {
	Date    string   `json:"date"`
	Flagged []string `json:"flagged_appointment_ids"`
}

// CloseDate closes a business date and sends reschedule links for its appointments.
func (h *BookingHandler) CloseDate(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req closeDateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		businessID = operatorBusiness(r)
	}
	if businessID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "business_id required")
		return
	}
	res, err := h.engine.CloseDate(r.Context(), businessID, strings.TrimSpace(req.Date), strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, h.logger, "business", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, closeDateResponse{Date: res.Date.String(), Flagged: res.Flagged})
}

type CatalogHandler struct {
	catalog Catalog
	caps    CapabilityCache
	logger  *slog.Logger
}

// NewCatalogHandler builds the catalog routes. caps may be nil when no capability cache is in use.
func NewCatalogHandler(catalog Catalog, caps CapabilityCache, logger *slog.Logger) *CatalogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogHandler{catalog: catalog, caps: caps, logger: logger}
}

func (h *CatalogHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/business", h.Business)
	mux.HandleFunc("/api/v1/business/services", h.Services)
	mux.HandleFunc("/api/v1/business/employees", h.Employees)
	mux.HandleFunc("/api/v1/business/employees/services", h.EmployeeServices)
}

type businessRequest struct {
	BusinessID              string `json:"business_id"`
	Name                    string `json:"name"`
	Phone                   string `json:"phone"`
	Timezone                string `json:"timezone"`
	Active                  *bool  `json:"active"`
	AllowOverlap            bool   `json:"allow_overlap"`
	MaxMonthlyCancellations *int   `json:"max_monthly_cancellations"`
	OpensAt                 string `json:"opens_at"`
	ClosesAt                string `json:"closes_at"`
	SlotStepMinutes         int    `json:"slot_step_minutes"`
}

type businessResponse struct {
	BusinessID              string `json:"business_id"`
	Name                    string `json:"name"`
	Phone                   string `json:"phone,omitempty"`
	Timezone                string `json:"timezone"`
	Active                  bool   `json:"active"`
	AllowOverlap            bool   `json:"allow_overlap"`
	MaxMonthlyCancellations *int   `json:"max_monthly_cancellations,omitempty"`
	OpensAt                 string `json:"opens_at"`
	ClosesAt                string `json:"closes_at"`
	SlotStepMinutes         int    `json:"slot_step_minutes"`
}

type serviceRequest struct {
	BusinessID      string `json:"business_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
}

type serviceResponse struct {
	ServiceID       string `json:"service_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Active          bool   `json:"active"`
}

type employeeRequest struct {
	BusinessID string   `json:"business_id"`
	Name       string   `json:"name"`
	ServiceIDs []string `json:"service_ids"`
}

type employeeServicesRequest struct {
	BusinessID string   `json:"business_id"`
	EmployeeID string   `json:"employee_id"`
	ServiceIDs []string `json:"service_ids"`
}

// Business creates or updates a business. Hours default to 09:00-17:00 and the timezone to UTC.
func (h *CatalogHandler) Business(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost, http.MethodPut) {
		return
	}
	var req businessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b := model.Business{
		ID:                      strings.TrimSpace(req.BusinessID),
		Name:                    strings.TrimSpace(req.Name),
		Phone:                   strings.TrimSpace(req.Phone),
		Timezone:                strings.TrimSpace(req.Timezone),
		Active:                  req.Active == nil || *req.Active,
		AllowOverlap:            req.AllowOverlap,
		MaxMonthlyCancellations: req.MaxMonthlyCancellations,
		SlotStepMinutes:         req.SlotStepMinutes,
	}
	if b.Timezone == "" {
		b.Timezone = "UTC"
	}
	if _, err := timeutil.LoadLocation(b.Timezone); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var err error
	if b.OpensAt, err = clockOr(req.OpensAt, "09:00"); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if b.ClosesAt, err = clockOr(req.ClosesAt, "17:00"); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.catalog.UpsertBusiness(r.Context(), b)
	if err != nil {
		writeError(w, h.logger, "business", err)
		return
	}
	status := http.StatusOK
	if b.ID == "" {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, businessResponse{
		BusinessID:              saved.ID,
		Name:                    saved.Name,
		Phone:                   saved.Phone,
		Timezone:                saved.Timezone,
		Active:                  saved.Active,
		AllowOverlap:            saved.AllowOverlap,
		MaxMonthlyCancellations: saved.MaxMonthlyCancellations,
		OpensAt:                 saved.OpensAt.String(),
		ClosesAt:                saved.ClosesAt.String(),
		SlotStepMinutes:         saved.SlotStepMinutes,
	})
}

// Services lists (GET) or creates (POST) a business's services.
func (h *CatalogHandler) Services(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		businessID := operatorBusiness(r)
		if businessID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "business_id required")
			return
		}
		services, err := h.catalog.ListServices(r.Context(), businessID)
		if err != nil {
			writeError(w, h.logger, "business", err)
			return
		}
		out := make([]serviceResponse, 0, len(services))
		for _, svc := range services {
			out = append(out, toServiceResponse(svc))
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
	case http.MethodPost:
		var req serviceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		svc, err := h.catalog.CreateService(r.Context(), model.Service{
			BusinessID:      strings.TrimSpace(req.BusinessID),
			Name:            strings.TrimSpace(req.Name),
			DurationMinutes: req.DurationMinutes,
			PriceCents:      req.PriceCents,
			Active:          true,
		})
		if err != nil {
			writeError(w, h.logger, "business", err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, toServiceResponse(svc))
	default:
		allowMethods(w, r, http.MethodGet, http.MethodPost)
	}
}

// Employees creates an employee together with the services they can perform.
func (h *CatalogHandler) Employees(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req employeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	emp, err := h.catalog.CreateEmployee(r.Context(), model.Employee{
		BusinessID: strings.TrimSpace(req.BusinessID),
		Name:       strings.TrimSpace(req.Name),
		Active:     true,
	}, req.ServiceIDs)
	if err != nil {
		writeError(w, h.logger, "business", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, employeeResponse{EmployeeID: emp.ID, Name: emp.Name})
}

// EmployeeServices replaces the set of services an employee can perform.
func (h *CatalogHandler) EmployeeServices(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPut) {
		return
	}
	var req employeeServicesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		businessID = operatorBusiness(r)
	}
	employeeID := strings.TrimSpace(req.EmployeeID)
	if businessID == "" || employeeID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "business_id and employee_id required")
		return
	}
	if err := h.catalog.SetEmployeeServices(r.Context(), businessID, employeeID, req.ServiceIDs); err != nil {
		writeError(w, h.logger, "business", err)
		return
	}
	if h.caps != nil {
		// A failed delete leaves the old entry until its TTL expires.
		if err := h.caps.Invalidate(r.Context(), businessID, employeeID); err != nil {
			h.logger.Warn("capability cache invalidate failed", "business_id", businessID, "employee_id", employeeID, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func toServiceResponse(svc model.Service) serviceResponse {
	return serviceResponse{
		ServiceID:       svc.ID,
		Name:            svc.Name,
		DurationMinutes: svc.DurationMinutes,
		PriceCents:      svc.PriceCents,
		Active:          svc.Active,
	}
}

func clockOr(raw, fallback string) (timeutil.Clock, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	return timeutil.ParseClock(raw)
}
