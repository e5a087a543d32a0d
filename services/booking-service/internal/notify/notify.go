// Package notify turns booking changes into outbound events.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

const (
	EventAppointmentBooked      = "booking.appointment.booked.v1"
	EventStatusChanged          = "booking.appointment.status_changed.v1"
	EventRescheduleRequested    = "booking.reschedule.requested.v1"
	EventAppointmentRescheduled = "booking.appointment.rescheduled.v1"

	aggregateAppointment = "appointment"
)

type AppointmentPayload struct {
	AppointmentID      string        `json:"appointment_id"`
	BusinessID         string        `json:"business_id"`
	EmployeeID         string        `json:"employee_id"`
	ClientID           string        `json:"client_id,omitempty"`
	ClientName         string        `json:"client_name,omitempty"`
	ClientEmail        string        `json:"client_email,omitempty"`
	ClientPhone        string        `json:"client_phone,omitempty"`
	Date               string        `json:"date"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	Status             string        `json:"status"`
	PreviousStatus     string        `json:"previous_status,omitempty"`
	PreviousStartTime  *time.Time    `json:"previous_start_time,omitempty"`
	RescheduleRequired bool          `json:"reschedule_required"`
	TotalPriceCents    int64         `json:"total_price_cents"`
	Items              []ItemPayload `json:"items"`
	CancelReason       string        `json:"cancel_reason,omitempty"`
}

type ItemPayload struct {
	ServiceID   string    `json:"service_id"`
	ServiceName string    `json:"service_name"`
	EmployeeID  string    `json:"employee_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	PriceCents  int64     `json:"price_cents"`
}

type RescheduleRequestedPayload struct {
	AppointmentID   string           `json:"appointment_id"`
	BusinessID      string           `json:"business_id"`
	BusinessName    string           `json:"business_name"`
	BusinessPhone   string           `json:"business_phone,omitempty"`
	ClientName      string           `json:"client_name,omitempty"`
	ClientEmail     string           `json:"client_email,omitempty"`
	ClientPhone     string           `json:"client_phone,omitempty"`
	OriginalDate    string           `json:"original_date"`
	OriginalStart   string           `json:"original_start"`
	Services        []ServicePayload `json:"services"`
	TotalPriceCents int64            `json:"total_price_cents"`
	Token           string           `json:"token"`
	Link            string           `json:"link,omitempty"`
}

type ServicePayload struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

func appointmentPayload(a model.Appointment) AppointmentPayload {
	p := AppointmentPayload{
		AppointmentID:      a.ID,
		BusinessID:         a.BusinessID,
		EmployeeID:         a.EmployeeID,
		ClientID:           a.ClientID,
		ClientName:         a.ClientName,
		ClientEmail:        a.ClientEmail,
		ClientPhone:        a.ClientPhone,
		Date:               a.Date.String(),
		StartTime:          a.StartTime.UTC(),
		EndTime:            a.EndTime.UTC(),
		Status:             string(a.Status),
		RescheduleRequired: a.RescheduleRequired,
		TotalPriceCents:    a.TotalPriceCents,
		CancelReason:       a.CancelReason,
		Items:              make([]ItemPayload, 0, len(a.Items)),
	}
	for _, it := range a.Items {
		p.Items = append(p.Items, ItemPayload{
			ServiceID:   it.ServiceID,
			ServiceName: it.ServiceName,
			EmployeeID:  it.EmployeeID,
			StartTime:   it.StartTime.UTC(),
			EndTime:     it.EndTime.UTC(),
			PriceCents:  it.PriceCents,
		})
	}
	return p
}

func rescheduleRequestedPayload(n booking.RescheduleNotice) RescheduleRequestedPayload {
	p := RescheduleRequestedPayload{
		AppointmentID:   n.AppointmentID,
		BusinessID:      n.BusinessID,
		BusinessName:    n.BusinessName,
		BusinessPhone:   n.BusinessPhone,
		ClientName:      n.ClientName,
		ClientEmail:     n.ClientEmail,
		ClientPhone:     n.ClientPhone,
		OriginalDate:    n.OriginalDate,
		OriginalStart:   n.OriginalStart,
		TotalPriceCents: n.TotalPriceCents,
		Token:           n.Token,
		Link:            n.Link,
		Services:        make([]ServicePayload, 0, len(n.Services)),
	}
	for _, s := range n.Services {
		p.Services = append(p.Services, ServicePayload{Name: s.Name, PriceCents: s.PriceCents})
	}
	return p
}

// Enqueuer stores an event for later delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, evt outbox.Event) error
}

// OutboxNotifier records every change as an outbox event.
type OutboxNotifier struct {
	out Enqueuer
}

func NewOutboxNotifier(out Enqueuer) *OutboxNotifier {
	return &OutboxNotifier{out: out}
}

func (n *OutboxNotifier) AppointmentBooked(ctx context.Context, a model.Appointment) error {
	return n.emit(ctx, EventAppointmentBooked, a.ID, appointmentPayload(a))
}

func (n *OutboxNotifier) StatusChanged(ctx context.Context, a model.Appointment, from model.Status) error {
	p := appointmentPayload(a)
	p.PreviousStatus = string(from)
	return n.emit(ctx, EventStatusChanged, a.ID, p)
}

func (n *OutboxNotifier) RescheduleRequested(ctx context.Context, notice booking.RescheduleNotice) error {
	return n.emit(ctx, EventRescheduleRequested, notice.AppointmentID, rescheduleRequestedPayload(notice))
}

func (n *OutboxNotifier) Rescheduled(ctx context.Context, a model.Appointment, previousStart time.Time) error {
	p := appointmentPayload(a)
	prev := previousStart.UTC()
	p.PreviousStartTime = &prev
	return n.emit(ctx, EventAppointmentRescheduled, a.ID, p)
}

func (n *OutboxNotifier) emit(ctx context.Context, eventType, appointmentID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return n.out.Enqueue(ctx, outbox.Event{
		AggregateType: aggregateAppointment,
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       body,
	})
}

// LogNotifier writes events to the log instead of a broker. Used when no database is
// configured. Reschedule tokens are not logged.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) AppointmentBooked(_ context.Context, a model.Appointment) error {
	n.logger.Info("event", "type", EventAppointmentBooked, "appointment_id", a.ID)
	return nil
}

func (n *LogNotifier) StatusChanged(_ context.Context, a model.Appointment, from model.Status) error {
	n.logger.Info("event", "type", EventStatusChanged, "appointment_id", a.ID, "from", string(from), "to", string(a.Status))
	return nil
}

func (n *LogNotifier) RescheduleRequested(_ context.Context, notice booking.RescheduleNotice) error {
	n.logger.Info("event", "type", EventRescheduleRequested, "appointment_id", notice.AppointmentID, "recipient", notice.ClientEmail)
	return nil
}

func (n *LogNotifier) Rescheduled(_ context.Context, a model.Appointment, _ time.Time) error {
	n.logger.Info("event", "type", EventAppointmentRescheduled, "appointment_id", a.ID)
	return nil
}
