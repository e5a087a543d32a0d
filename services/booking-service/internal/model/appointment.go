package model

import (
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Blocking reports whether an appointment in this status occupies its employees' time.
func (s Status) Blocking() bool {
	return s != StatusCancelled
}

// Action is a requested status change.
type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionNoShow   Action = "no_show"
)

// Appointment is one booking: a contiguous run of services on one business-local date.
// EmployeeID is the employee of the first item; each item carries its own employee.
type Appointment struct {
	ID         string
	BusinessID string
	EmployeeID string
	// ClientID is empty for walk-ins, which are identified by name/phone only.
	ClientID    string
	ClientName  string
	ClientPhone string
	ClientEmail string
	Date        timeutil.Date
	StartTime   time.Time
	EndTime     time.Time
	Items       []AppointmentItem
	Status      Status
	// RescheduleRequired is set when the business closed Date after the appointment was made.
	RescheduleRequired bool
	TotalPriceCents    int64
	Notes              string
	CancelledAt        *time.Time
	CancelReason       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AppointmentItem is one service performed inside an appointment.
type AppointmentItem struct {
	ServiceID   string
	ServiceName string
	EmployeeID  string
	StartTime   time.Time
	EndTime     time.Time
	PriceCents  int64
}

// EmployeeIDs lists the distinct employees working the appointment, in item order.
func (a *Appointment) EmployeeIDs() []string {
	seen := make(map[string]struct{}, len(a.Items))
	var out []string
	for _, it := range a.Items {
		if _, ok := seen[it.EmployeeID]; ok {
			continue
		}
		seen[it.EmployeeID] = struct{}{}
		out = append(out, it.EmployeeID)
	}
	if len(out) == 0 && a.EmployeeID != "" {
		out = append(out, a.EmployeeID)
	}
	return out
}

// ServiceNames joins item service names for notifications.
func (a *Appointment) ServiceNames() []string {
	out := make([]string, 0, len(a.Items))
	for _, it := range a.Items {
		out = append(out, it.ServiceName)
	}
	return out
}
