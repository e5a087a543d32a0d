package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
)

type itemResponse struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	EmployeeID  string `json:"employee_id"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	PriceCents  int64  `json:"price_cents"`
}

type appointmentResponse struct {
	AppointmentID      string         `json:"appointment_id"`
	BusinessID         string         `json:"business_id"`
	EmployeeID         string         `json:"employee_id"`
	ClientID           string         `json:"client_id,omitempty"`
	ClientName         string         `json:"client_name,omitempty"`
	Date               string         `json:"date"`
	StartTime          string         `json:"start_time"`
	EndTime            string         `json:"end_time"`
	Status             string         `json:"status"`
	RescheduleRequired bool           `json:"reschedule_required"`
	TotalPriceCents    int64          `json:"total_price_cents"`
	Items              []itemResponse `json:"items"`
	Notes              string         `json:"notes,omitempty"`
	CancelledAt        string         `json:"cancelled_at,omitempty"`
	CancelReason       string         `json:"cancel_reason,omitempty"`
	CreatedAt          string         `json:"created_at,omitempty"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	out := appointmentResponse{
		AppointmentID:      a.ID,
		BusinessID:         a.BusinessID,
		EmployeeID:         a.EmployeeID,
		ClientID:           a.ClientID,
		ClientName:         a.ClientName,
		Date:               a.Date.String(),
		StartTime:          a.StartTime.UTC().Format(time.RFC3339),
		EndTime:            a.EndTime.UTC().Format(time.RFC3339),
		Status:             string(a.Status),
		RescheduleRequired: a.RescheduleRequired,
		TotalPriceCents:    a.TotalPriceCents,
		Items:              make([]itemResponse, 0, len(a.Items)),
		Notes:              a.Notes,
		CancelReason:       a.CancelReason,
	}
	for _, it := range a.Items {
		out.Items = append(out.Items, itemResponse{
			ServiceID:   it.ServiceID,
			ServiceName: it.ServiceName,
			EmployeeID:  it.EmployeeID,
			StartTime:   it.StartTime.UTC().Format(time.RFC3339),
			EndTime:     it.EndTime.UTC().Format(time.RFC3339),
			PriceCents:  it.PriceCents,
		})
	}
	if a.CancelledAt != nil {
		out.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	if !a.CreatedAt.IsZero() {
		out.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

type blockedDetail struct {
	CancellationsThisMonth int    `json:"cancellations_this_month"`
	MaxAllowed             int    `json:"max_allowed"`
	BusinessName           string `json:"business_name"`
	BusinessPhone          string `json:"business_phone,omitempty"`
}

type rejectionDetail struct {
	Outcome                  string         `json:"outcome"`
	ConflictingAppointmentID string         `json:"conflicting_appointment_id,omitempty"`
	ServiceID                string         `json:"service_id,omitempty"`
	EmployeeID               string         `json:"employee_id,omitempty"`
	Blocked                  *blockedDetail `json:"blocked,omitempty"`
}

var outcomeMessages = map[booking.Outcome]string{
	booking.OutcomeBusinessUnavailable: "business is not accepting bookings",
	booking.OutcomeInPast:              "requested time has already started",
	booking.OutcomeDateClosed:          "business is closed on the requested date",
	booking.OutcomeServiceUnavailable:  "service is not available",
	booking.OutcomeEmployeeIneligible:  "employee cannot perform the requested service",
	booking.OutcomeOutsideHours:        "requested time is outside business hours",
	booking.OutcomeClientBlocked:       "monthly cancellation limit reached, please contact the business",
	booking.OutcomeConflict:            "time slot already booked",
}

// writeDecision answers an accepted decision with 201 and a rejection with a status chosen by
// its outcome.
func writeDecision(w http.ResponseWriter, d booking.Decision, accepted int) {
	if d.Accepted() && d.Appointment != nil {
		httpx.WriteJSON(w, accepted, toAppointmentResponse(*d.Appointment))
		return
	}
	status := http.StatusUnprocessableEntity
	switch d.Outcome {
	case booking.OutcomeConflict:
		status = http.StatusConflict
	case booking.OutcomeClientBlocked:
		status = http.StatusForbidden
	case booking.OutcomeBusinessUnavailable:
		status = http.StatusServiceUnavailable
	}
	detail := rejectionDetail{
		Outcome:                  string(d.Outcome),
		ConflictingAppointmentID: d.ConflictingAppointmentID,
		ServiceID:                d.ServiceID,
		EmployeeID:               d.EmployeeID,
	}
	if b := d.Blocked; b != nil {
		detail.Blocked = &blockedDetail{
			CancellationsThisMonth: b.CancellationsThisMonth,
			MaxAllowed:             b.MaxAllowed,
			BusinessName:           b.BusinessName,
			BusinessPhone:          b.BusinessPhone,
		}
	}
	msg, ok := outcomeMessages[d.Outcome]
	if !ok {
		msg = string(d.Outcome)
	}
	httpx.WriteJSON(w, status, httpx.ErrorBody{Error: msg, Detail: detail})
}

// writeError maps engine and store errors to responses. Unexpected errors are logged and
// answered without detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, what string, err error) {
	var parseErr *timeutil.ParseError
	var transitionErr *booking.TransitionError
	switch {
	case errors.As(err, &parseErr), errors.Is(err, booking.ErrInvalidRequest):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrInvalidRescheduleLink):
		httpx.WriteError(w, http.StatusNotFound, booking.ErrInvalidRescheduleLink.Error())
	case errors.Is(err, booking.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, what+" not found")
	case errors.As(err, &transitionErr):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrStaleState), errors.Is(err, booking.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "appointment changed, retry")
	case errors.Is(err, booking.ErrStoreTimeout):
		logger.Warn("store timeout", "what", what, "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		logger.Error("request failed", "what", what, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// operatorBusiness reads the operator's business from X-Business-Id, falling back to the query.
func operatorBusiness(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get("X-Business-Id"))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("business_id"))
	}
	return id
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
