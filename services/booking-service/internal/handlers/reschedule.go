package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
)

type confirmRescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	Token         string `json:"token"`
	NewDate       string `json:"new_date"`
	NewStartTime  string `json:"new_start_time"`
}

type reschedulePreviewResponse struct {
	Appointment   appointmentResponse `json:"appointment"`
	BusinessName  string              `json:"business_name"`
	BusinessPhone string              `json:"business_phone,omitempty"`
	Timezone      string              `json:"timezone"`
}

// Reschedule shows the appointment behind a reschedule link (GET) or moves it (POST).
// Refused links get the same 404 whatever the reason.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.previewReschedule(w, r)
	case http.MethodPost:
		h.confirmReschedule(w, r)
	default:
		allowMethods(w, r, http.MethodGet, http.MethodPost)
	}
}

func (h *BookingHandler) previewReschedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := h.engine.PreviewReschedule(r.Context(),
		strings.TrimSpace(q.Get("appointment_id")),
		strings.TrimSpace(q.Get("token")),
	)
	if err != nil {
		writeError(w, h.logger, "appointment", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reschedulePreviewResponse{
		Appointment:   toAppointmentResponse(p.Appointment),
		BusinessName:  p.BusinessName,
		BusinessPhone: p.BusinessPhone,
		Timezone:      p.Timezone,
	})
}

func (h *BookingHandler) confirmReschedule(w http.ResponseWriter, r *http.Request) {
	var req confirmRescheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.engine.ConfirmReschedule(r.Context(), booking.RescheduleRequest{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		Token:         strings.TrimSpace(req.Token),
		NewDate:       strings.TrimSpace(req.NewDate),
		NewStartTime:  strings.TrimSpace(req.NewStartTime),
	})
	if err != nil {
		writeError(w, h.logger, "appointment", err)
		return
	}
	writeDecision(w, d, http.StatusOK)
}
