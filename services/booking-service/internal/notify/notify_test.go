package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
)

type captureOutbox struct {
	events []outbox.Event
}

func (c *captureOutbox) Enqueue(_ context.Context, evt outbox.Event) error {
	c.events = append(c.events, evt)
	return nil
}

func TestStatusChangedEvent(t *testing.T) {
	out := &captureOutbox{}
	n := NewOutboxNotifier(out)
	start := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	a := model.Appointment{
		ID:         "appt-1",
		BusinessID: "biz-1",
		EmployeeID: "emp-1",
		Date:       timeutil.Date{Year: 2026, Month: time.March, Day: 12},
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     model.StatusCancelled,
		Items:      []model.AppointmentItem{{ServiceID: "svc-1", ServiceName: "Cut", EmployeeID: "emp-1", StartTime: start, EndTime: start.Add(30 * time.Minute), PriceCents: 2500}},
	}
	if err := n.StatusChanged(context.Background(), a, model.StatusConfirmed); err != nil {
		t.Fatalf("StatusChanged failed: %v", err)
	}
	if len(out.events) != 1 {
		t.Fatalf("expected one event, got %d", len(out.events))
	}
	evt := out.events[0]
	if evt.EventType != EventStatusChanged || evt.AggregateID != "appt-1" || evt.AggregateType != "appointment" {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	var p AppointmentPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Status != "cancelled" || p.PreviousStatus != "confirmed" || p.Date != "2026-03-12" || len(p.Items) != 1 {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestRescheduleRequestedEventCarriesNotice(t *testing.T) {
	out := &captureOutbox{}
	n := NewOutboxNotifier(out)
	notice := booking.RescheduleNotice{
		AppointmentID: "appt-1",
		BusinessName:  "Clip Joint",
		ClientEmail:   "casey@example.com",
		OriginalDate:  "2026-03-12",
		OriginalStart: "09:00",
		Services:      []booking.NoticeService{{Name: "Cut", PriceCents: 2500}},
		Token:         "appt-1.abcd",
		Link:          "https://book.example.com/reschedule?appointment_id=appt-1&token=appt-1.abcd",
	}
	if err := n.RescheduleRequested(context.Background(), notice); err != nil {
		t.Fatalf("RescheduleRequested failed: %v", err)
	}
	var p RescheduleRequestedPayload
	if err := json.Unmarshal(out.events[0].Payload, &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Token != notice.Token || p.ClientEmail != notice.ClientEmail || len(p.Services) != 1 || p.Services[0].Name != "Cut" {
		t.Fatalf("unexpected payload %+v", p)
	}
}
