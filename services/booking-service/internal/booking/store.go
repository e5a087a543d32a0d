package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
)

// Store is the data access the engine needs. Lookups of missing rows return ErrNotFound.
type Store interface {
	GetBusiness(ctx context.Context, businessID string) (model.Business, error)
	ListActiveEmployees(ctx context.Context, businessID string) ([]model.Employee, error)
	ServiceIDsByEmployee(ctx context.Context, businessID string, employeeIDs []string) (map[string][]string, error)
	// GetServices returns the requested services keyed by id; unknown ids are absent.
	GetServices(ctx context.Context, businessID string, serviceIDs []string) (map[string]model.Service, error)
	// CountCancellations counts the client's cancelled appointments with the business whose
	// cancellation time falls in [from, to).
	CountCancellations(ctx context.Context, businessID, clientID string, from, to time.Time) (int, error)
	IsDateClosed(ctx context.Context, businessID string, date timeutil.Date) (bool, error)
	// CloseDate records the closure. Closing an already closed date is not an error. A
	// CreateAppointment that commits after CloseDate returns must see the closure.
	CloseDate(ctx context.Context, businessID string, date timeutil.Date, reason string) error
	// ListBusy returns the items of non-cancelled appointments intersecting [from, to). A nil
	// employeeIDs means every employee of the business.
	ListBusy(ctx context.Context, businessID string, employeeIDs []string, from, to time.Time) ([]availability.Busy, error)

	// CreateAppointment checks for overlapping items and a closure of appt.Date and inserts appt
	// atomically. On overlap it returns an error matching ErrConflict, on a closed date one
	// matching ErrDateClosed. appt.ID and timestamps are filled in.
	CreateAppointment(ctx context.Context, appt *model.Appointment, allowOverlap bool) error
	GetAppointment(ctx context.Context, appointmentID string) (model.Appointment, error)
	ListAppointments(ctx context.Context, businessID string, filter ListFilter) ([]model.Appointment, error)
	// TransitionStatus moves the appointment from one status to another, failing with
	// ErrStaleState when the current status is not from.
	TransitionStatus(ctx context.Context, appointmentID string, from, to model.Status, at time.Time, reason string) (model.Appointment, error)
	// FlagRescheduleRequired flags pending and confirmed appointments on date and returns the
	// ones that were not flagged before.
	FlagRescheduleRequired(ctx context.Context, businessID string, date timeutil.Date) ([]model.Appointment, error)
	// Reschedule moves a reschedule-required appointment to appt's new date, times and items,
	// sets it pending and clears the flag. It fails with ErrStaleState when the flag is no
	// longer set, with ErrDateClosed when the new date is closed and with ErrConflict on overlap.
	Reschedule(ctx context.Context, appt *model.Appointment, allowOverlap bool) error
}

type ListFilter struct {
	From   time.Time
	To     time.Time
	Status model.Status
	// RescheduleRequired limits the list to flagged appointments.
	RescheduleRequired bool
	Limit              int
}

// Notifier is told about committed changes. Delivery failures are logged by the engine and do
// not undo the change.
type Notifier interface {
	AppointmentBooked(ctx context.Context, appt model.Appointment) error
	StatusChanged(ctx context.Context, appt model.Appointment, from model.Status) error
	RescheduleRequested(ctx context.Context, notice RescheduleNotice) error
	Rescheduled(ctx context.Context, appt model.Appointment, previousStart time.Time) error
}

// RescheduleNotice is what the client receives when the business closes their date.
type RescheduleNotice struct {
	AppointmentID   string
	BusinessID      string
	BusinessName    string
	BusinessPhone   string
	ClientName      string
	ClientEmail     string
	ClientPhone     string
	OriginalDate    string
	OriginalStart   string
	Services        []NoticeService
	TotalPriceCents int64
	Token           string
	Link            string
}

type NoticeService struct {
	Name       string
	PriceCents int64
}

type nopNotifier struct{}

func (nopNotifier) AppointmentBooked(context.Context, model.Appointment) error { return nil }
func (nopNotifier) StatusChanged(context.Context, model.Appointment, model.Status) error {
	return nil
}
func (nopNotifier) RescheduleRequested(context.Context, RescheduleNotice) error { return nil }
func (nopNotifier) Rescheduled(context.Context, model.Appointment, time.Time) error {
	return nil
}
