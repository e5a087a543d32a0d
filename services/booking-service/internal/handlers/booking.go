package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/compat"
)

// BookingHandler serves the public booking pages and the operator appointment routes.
type BookingHandler struct {
	engine *booking.Engine
	logger *slog.Logger
}

func NewBookingHandler(engine *booking.Engine, logger *slog.Logger) *BookingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingHandler{engine: engine, logger: logger}
}

// Register mounts every booking route on mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/employees", h.Employees)
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Create)
	mux.HandleFunc("/api/v1/public/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/appointments", h.List)
	mux.HandleFunc("/api/v1/appointments/transition", h.Transition)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/business/closures", h.CloseDate)
}

type bookingItemRequest struct {
	ServiceID  string `json:"service_id"`
	EmployeeID string `json:"employee_id"`
}

type createBookingRequest struct {
	BusinessID  string               `json:"business_id"`
	ClientID    string               `json:"client_id"`
	ClientName  string               `json:"client_name"`
	ClientPhone string               `json:"client_phone"`
	ClientEmail string               `json:"client_email"`
	Date        string               `json:"date"`
	StartTime   string               `json:"start_time"`
	Items       []bookingItemRequest `json:"items"`
	Notes       string               `json:"notes"`
}

type employeeResponse struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
}

type employeesResponse struct {
	Employees           []employeeResponse `json:"employees"`
	NoEligibleEmployees bool               `json:"no_eligible_employees"`
	Degraded            bool               `json:"degraded"`
}

type slotResponse struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type slotsResponse struct {
	Date  string         `json:"date"`
	Slots []slotResponse `json:"slots"`
}

// Employees lists the employees able to perform every requested service.
func (h *BookingHandler) Employees(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	if businessID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "business_id required")
		return
	}
	serviceIDs := splitCSV(q.Get("service_ids"))

	res, err := h.engine.ListEligibleEmployees(r.Context(), businessID, serviceIDs)
	if err != nil {
		writeError(w, h.logger, "business", err)
		return
	}
	out := employeesResponse{
		Employees:           make([]employeeResponse, 0, len(res.Employees)),
		NoEligibleEmployees: compat.HasNoEligibleEmployees(serviceIDs, res),
		Degraded:            res.Degraded,
	}
	for _, emp := range res.Employees {
		out.Employees = append(out.Employees, employeeResponse{EmployeeID: emp.ID, Name: emp.Name})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// Slots lists free start times. assignments is a comma separated list of service:employee
// pairs in the order the services are performed.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	date := strings.TrimSpace(q.Get("date"))
	if businessID == "" || date == "" {
		httpx.WriteError(w, http.StatusBadRequest, "business_id and date required")
		return
	}
	items, err := parseAssignments(q.Get("assignments"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	slots, err := h.engine.ListSlots(r.Context(), booking.SlotQuery{
		BusinessID: businessID,
		Date:       date,
		Items:      items,
	})
	if err != nil {
		writeError(w, h.logger, "business", err)
		return
	}
	out := slotsResponse{Date: date, Slots: make([]slotResponse, 0, len(slots))}
	for _, s := range slots {
		out.Slots = append(out.Slots, slotResponse{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// Create books an appointment for a client or a walk-in.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req createBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	items := make([]booking.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, booking.Item{
			ServiceID:  strings.TrimSpace(it.ServiceID),
			EmployeeID: strings.TrimSpace(it.EmployeeID),
		})
	}
	d, err := h.engine.Book(r.Context(), booking.Request{
		BusinessID:  strings.TrimSpace(req.BusinessID),
		ClientID:    strings.TrimSpace(req.ClientID),
		ClientName:  strings.TrimSpace(req.ClientName),
		ClientPhone: strings.TrimSpace(req.ClientPhone),
		ClientEmail: strings.TrimSpace(req.ClientEmail),
		Date:        strings.TrimSpace(req.Date),
		StartTime:   strings.TrimSpace(req.StartTime),
		Items:       items,
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeError(w, h.logger, "business", err)
		return
	}
	writeDecision(w, d, http.StatusCreated)
}

func parseAssignments(raw string) ([]booking.Item, error) {
	pairs := splitCSV(raw)
	if len(pairs) == 0 {
		return nil, errors.New("assignments required")
	}
	items := make([]booking.Item, 0, len(pairs))
	for _, pair := range pairs {
		serviceID, employeeID, ok := strings.Cut(pair, ":")
		serviceID, employeeID = strings.TrimSpace(serviceID), strings.TrimSpace(employeeID)
		if !ok || serviceID == "" || employeeID == "" {
			return nil, fmt.Errorf("assignment %q must be service_id:employee_id", pair)
		}
		items = append(items, booking.Item{ServiceID: serviceID, EmployeeID: employeeID})
	}
	return items, nil
}
