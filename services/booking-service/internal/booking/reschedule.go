package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
)

type CloseResult struct {
	Date timeutil.Date
	// Flagged lists appointments newly marked reschedule-required by this call.
	Flagged []string
}

// CloseDate closes a date for a business. Every pending or confirmed appointment on it is
// flagged reschedule-required and its client is sent a signed reschedule link. Repeating the
// call does not notify the same appointment twice.
func (e *Engine) CloseDate(ctx context.Context, businessID, dateStr, reason string) (CloseResult, error) {
	date, err := timeutil.ParseLocalDate(dateStr)
	if err != nil {
		return CloseResult{}, err
	}
	biz, err := e.business(ctx, businessID)
	if err != nil {
		return CloseResult{}, err
	}
	err = e.bounded(ctx, "close date", func(ctx context.Context) error {
		return e.store.CloseDate(ctx, biz.ID, date, reason)
	})
	if err != nil {
		return CloseResult{}, err
	}

	var flagged []model.Appointment
	err = e.bounded(ctx, "flag reschedule required", func(ctx context.Context) error {
		var err error
		flagged, err = e.store.FlagRescheduleRequired(ctx, biz.ID, date)
		return err
	})
	if err != nil {
		return CloseResult{}, err
	}

	loc, err := timeutil.LoadLocation(biz.Timezone)
	if err != nil {
		loc = time.UTC
	}
	res := CloseResult{Date: date, Flagged: make([]string, 0, len(flagged))}
	for _, appt := range flagged {
		res.Flagged = append(res.Flagged, appt.ID)
		tok, err := e.signer.Issue(appt.ID)
		if err != nil {
			return res, fmt.Errorf("issue reschedule token for %s: %w", appt.ID, err)
		}
		e.report("reschedule requested", e.notifier.RescheduleRequested(ctx, e.notice(biz, appt, tok, loc)))
	}

	e.logger.Info("business date closed",
		"business_id", biz.ID,
		"date", date.String(),
		"flagged", len(res.Flagged),
	)
	return res, nil
}

func (e *Engine) notice(biz model.Business, appt model.Appointment, tok string, loc *time.Location) RescheduleNotice {
	n := RescheduleNotice{
		AppointmentID:   appt.ID,
		BusinessID:      biz.ID,
		BusinessName:    biz.Name,
		BusinessPhone:   biz.Phone,
		ClientName:      appt.ClientName,
		ClientEmail:     appt.ClientEmail,
		ClientPhone:     appt.ClientPhone,
		OriginalDate:    appt.Date.String(),
		OriginalStart:   timeutil.ClockOf(appt.StartTime, loc).String(),
		TotalPriceCents: appt.TotalPriceCents,
		Token:           tok,
		Link:            e.rescheduleLink(appt.ID, tok),
	}
	for _, it := range appt.Items {
		n.Services = append(n.Services, NoticeService{Name: it.ServiceName, PriceCents: it.PriceCents})
	}
	return n
}

type ReschedulePreview struct {
	Appointment   model.Appointment
	BusinessName  string
	BusinessPhone string
	Timezone      string
}

// PreviewReschedule returns the appointment a reschedule link points to. Every refusal is
// ErrInvalidRescheduleLink.
func (e *Engine) PreviewReschedule(ctx context.Context, appointmentID, tok string) (ReschedulePreview, error) {
	appt, err := e.rescheduleTarget(ctx, appointmentID, tok)
	if err != nil {
		return ReschedulePreview{}, err
	}
	biz, err := e.business(ctx, appt.BusinessID)
	if err != nil {
		return ReschedulePreview{}, err
	}
	return ReschedulePreview{
		Appointment:   appt,
		BusinessName:  biz.Name,
		BusinessPhone: biz.Phone,
		Timezone:      biz.Timezone,
	}, nil
}

type RescheduleRequest struct {
	AppointmentID string
	Token         string
	NewDate       string
	// NewStartTime defaults to the original time of day.
	NewStartTime string
}

// ConfirmReschedule moves a reschedule-required appointment to a new date, keeping its
// identity, services and employees. The new slot passes the same checks as a booking.
func (e *Engine) ConfirmReschedule(ctx context.Context, req RescheduleRequest) (Decision, error) {
	appt, err := e.rescheduleTarget(ctx, req.AppointmentID, req.Token)
	if err != nil {
		return Decision{}, err
	}
	biz, err := e.business(ctx, appt.BusinessID)
	if err != nil {
		return Decision{}, err
	}
	if !biz.Active {
		return Decision{Outcome: OutcomeBusinessUnavailable}, nil
	}
	loc, err := timeutil.LoadLocation(biz.Timezone)
	if err != nil {
		return Decision{}, fmt.Errorf("business %s: %w", biz.ID, err)
	}
	date, err := timeutil.ParseLocalDate(req.NewDate)
	if err != nil {
		return Decision{}, err
	}
	clock := timeutil.ClockOf(appt.StartTime, loc)
	if req.NewStartTime != "" {
		if clock, err = timeutil.ParseClock(req.NewStartTime); err != nil {
			return Decision{}, err
		}
	}

	if timeutil.HasStarted(date, clock, loc, e.cfg.Now()) {
		return Decision{Outcome: OutcomeInPast}, nil
	}
	if d, err := e.checkDateOpen(ctx, biz.ID, date); d != nil || err != nil {
		return deref(d), err
	}

	var employees []model.Employee
	err = e.bounded(ctx, "list employees", func(ctx context.Context) error {
		var err error
		employees, err = e.store.ListActiveEmployees(ctx, biz.ID)
		return err
	})
	if err != nil {
		return Decision{}, err
	}
	active := make(map[string]struct{}, len(employees))
	for _, emp := range employees {
		active[emp.ID] = struct{}{}
	}

	assignments := make([]availability.Assignment, 0, len(appt.Items))
	services := make(map[string]model.Service, len(appt.Items))
	for _, it := range appt.Items {
		if _, ok := active[it.EmployeeID]; !ok {
			return Decision{Outcome: OutcomeEmployeeIneligible, ServiceID: it.ServiceID, EmployeeID: it.EmployeeID}, nil
		}
		assignments = append(assignments, availability.Assignment{
			ServiceID:  it.ServiceID,
			EmployeeID: it.EmployeeID,
			Duration:   it.EndTime.Sub(it.StartTime),
			PriceCents: it.PriceCents,
		})
		services[it.ServiceID] = model.Service{ID: it.ServiceID, Name: it.ServiceName}
	}
	windows, err := availability.SequentialWindows(date.At(clock, loc), assignments)
	if err != nil {
		return Decision{}, fmt.Errorf("appointment %s: %w", appt.ID, err)
	}
	if !withinHours(biz, date, loc, windows) {
		return Decision{Outcome: OutcomeOutsideHours}, nil
	}

	previousStart := appt.StartTime
	moved := appt
	span := availability.Span(windows)
	moved.Date = date
	moved.StartTime = span.Start.UTC()
	moved.EndTime = span.End.UTC()
	moved.Items = itemsFromWindows(windows, services)
	moved.Status = model.StatusPending
	moved.RescheduleRequired = false

	err = e.bounded(ctx, "reschedule appointment", func(ctx context.Context) error {
		return e.store.Reschedule(ctx, &moved, biz.AllowOverlap)
	})
	switch {
	case errors.Is(err, ErrConflict):
		return Decision{Outcome: OutcomeConflict, ConflictingAppointmentID: conflictingID(err)}, nil
	case errors.Is(err, ErrDateClosed):
		return Decision{Outcome: OutcomeDateClosed}, nil
	case errors.Is(err, ErrStaleState):
		return Decision{}, ErrInvalidRescheduleLink
	case err != nil:
		return Decision{}, err
	}

	e.logger.Info("appointment rescheduled",
		"business_id", biz.ID,
		"appointment_id", moved.ID,
		"date", date.String(),
	)
	e.report("appointment rescheduled", e.notifier.Rescheduled(ctx, moved, previousStart))
	return Decision{Outcome: OutcomeAccepted, Appointment: &moved}, nil
}

// rescheduleTarget validates the link and loads the appointment it names. The appointment must
// still be flagged and not terminal, which makes a used link worthless.
func (e *Engine) rescheduleTarget(ctx context.Context, appointmentID, tok string) (model.Appointment, error) {
	if appointmentID == "" || !e.signer.Validate(appointmentID, tok) {
		return model.Appointment{}, ErrInvalidRescheduleLink
	}
	appt, err := e.appointment(ctx, appointmentID)
	if errors.Is(err, ErrNotFound) {
		return model.Appointment{}, ErrInvalidRescheduleLink
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.RescheduleRequired || appt.Status.Terminal() {
		return model.Appointment{}, ErrInvalidRescheduleLink
	}
	return appt, nil
}
