package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type transitionRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Action        string `json:"action"`
	Reason        string `json:"reason"`
}

type cancelBookingRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type listAppointmentsResponse struct {
	Items []appointmentResponse `json:"items"`
}

// List returns the business's appointments, optionally filtered by from/to (RFC3339), status
// and reschedule_required.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	businessID := operatorBusiness(r)
	if businessID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "business_id required")
		return
	}

	q := r.URL.Query()
	filter := booking.ListFilter{Limit: defaultListLimit}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxListLimit {
			filter.Limit = n
		}
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := strings.TrimSpace(q.Get(p.key))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, p.key+" must be RFC3339")
			return
		}
		*p.dst = t
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		filter.Status = model.Status(raw)
		if !filter.Status.Valid() {
			httpx.WriteError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}
	filter.RescheduleRequired = q.Get("reschedule_required") == "true"

	appts, err := h.engine.ListAppointments(r.Context(), businessID, filter)
	if err != nil {
		writeError(w, h.logger, "business", err)
		return
	}
	out := listAppointmentsResponse{Items: make([]appointmentResponse, 0, len(appts))}
	for _, a := range appts {
		out.Items = append(out.Items, toAppointmentResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// Transition applies a status action (confirm, start, complete, cancel, no_show).
func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	action, err := booking.ParseAction(strings.TrimSpace(req.Action))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.apply(w, r, req.BusinessID, req.AppointmentID, action, req.Reason)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req cancelBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.apply(w, r, req.BusinessID, req.AppointmentID, model.ActionCancel, req.Reason)
}

func (h *BookingHandler) apply(w http.ResponseWriter, r *http.Request, businessID, appointmentID string, action model.Action, reason string) {
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		businessID = strings.TrimSpace(r.Header.Get("X-Business-Id"))
	}
	appointmentID = strings.TrimSpace(appointmentID)
	if businessID == "" || appointmentID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "business_id and appointment_id required")
		return
	}
	appt, err := h.engine.Apply(r.Context(), businessID, appointmentID, action, strings.TrimSpace(reason))
	if err != nil {
		writeError(w, h.logger, "appointment", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}
