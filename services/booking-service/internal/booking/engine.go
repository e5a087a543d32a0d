// Package booking decides whether a booking, status change or reschedule may happen and
// commits it through a Store.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/compat"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/token"
)

const (
	defaultStoreTimeout = 3 * time.Second
	defaultSlotStep     = 15 * time.Minute
)

type Config struct {
	// StoreTimeout bounds every individual store call.
	StoreTimeout time.Duration
	// DefaultMaxMonthlyCancellations applies to businesses without their own limit.
	DefaultMaxMonthlyCancellations int
	DefaultSlotStep                time.Duration
	// RescheduleBaseURL is the page clients land on from the reschedule email.
	RescheduleBaseURL string
	Now               func() time.Time
}

type Engine struct {
	store    Store
	signer   *token.Signer
	resolver *compat.Resolver
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
}

func NewEngine(store Store, signer *token.Signer, resolver *compat.Resolver, notifier Notifier, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if resolver == nil {
		resolver = compat.NewResolver(store, logger)
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.DefaultSlotStep <= 0 {
		cfg.DefaultSlotStep = defaultSlotStep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:    store,
		signer:   signer,
		resolver: resolver,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

type Outcome string

const (
	OutcomeAccepted            Outcome = "accepted"
	OutcomeBusinessUnavailable Outcome = "business_unavailable"
	OutcomeInPast              Outcome = "in_past"
	OutcomeDateClosed          Outcome = "date_closed"
	OutcomeServiceUnavailable  Outcome = "service_unavailable"
	OutcomeEmployeeIneligible  Outcome = "employee_ineligible"
	OutcomeOutsideHours        Outcome = "outside_business_hours"
	OutcomeClientBlocked       Outcome = "client_blocked"
	OutcomeConflict            Outcome = "conflict"
)

// Decision is the result of a booking or reschedule attempt. Rejections by business rules are
// decisions, not errors.
type Decision struct {
	Outcome     Outcome
	Appointment *model.Appointment
	// ConflictingAppointmentID may be empty when the store detected the conflict at commit
	// without identifying the other appointment.
	ConflictingAppointmentID string
	Blocked                  *ClientBlocked
	ServiceID                string
	EmployeeID               string
}

func (d Decision) Accepted() bool { return d.Outcome == OutcomeAccepted }

// ClientBlocked carries what the client needs to contact the business directly.
type ClientBlocked struct {
	CancellationsThisMonth int
	MaxAllowed             int
	BusinessName           string
	BusinessPhone          string
}

type Item struct {
	ServiceID  string
	EmployeeID string
}

type Request struct {
	BusinessID string
	// ClientID is empty for walk-ins; ClientName is then required.
	ClientID    string
	ClientName  string
	ClientPhone string
	ClientEmail string
	Date        string
	StartTime   string
	Items       []Item
	Notes       string
}

func (r Request) validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one service is required", ErrInvalidRequest)
	}
	for _, it := range r.Items {
		if it.ServiceID == "" || it.EmployeeID == "" {
			return fmt.Errorf("%w: every service needs an employee", ErrInvalidRequest)
		}
	}
	if r.ClientID == "" && strings.TrimSpace(r.ClientName) == "" {
		return fmt.Errorf("%w: client_name is required for walk-in bookings", ErrInvalidRequest)
	}
	return nil
}

// Book runs the booking pipeline. The business check comes first and short-circuits the
// rest, including request validation; the slot check happens last, inside the store's write.
func (e *Engine) Book(ctx context.Context, req Request) (Decision, error) {
	if strings.TrimSpace(req.BusinessID) == "" {
		return Decision{}, fmt.Errorf("%w: business_id is required", ErrInvalidRequest)
	}
	biz, err := e.business(ctx, req.BusinessID)
	if err != nil {
		return Decision{}, err
	}
	if !biz.Active {
		return Decision{Outcome: OutcomeBusinessUnavailable}, nil
	}
	if err := req.validate(); err != nil {
		return Decision{}, err
	}
	loc, err := timeutil.LoadLocation(biz.Timezone)
	if err != nil {
		return Decision{}, fmt.Errorf("business %s: %w", biz.ID, err)
	}
	date, err := timeutil.ParseLocalDate(req.Date)
	if err != nil {
		return Decision{}, err
	}
	clock, err := timeutil.ParseClock(req.StartTime)
	if err != nil {
		return Decision{}, err
	}

	now := e.cfg.Now()
	if timeutil.HasStarted(date, clock, loc, now) {
		return Decision{Outcome: OutcomeInPast}, nil
	}
	if d, err := e.checkDateOpen(ctx, biz.ID, date); d != nil || err != nil {
		return deref(d), err
	}

	assignments, services, d, err := e.resolveAssignments(ctx, biz.ID, req.Items)
	if d != nil || err != nil {
		return deref(d), err
	}

	if req.ClientID != "" {
		blocked, err := e.checkCancellations(ctx, biz, req.ClientID, loc, now)
		if err != nil {
			return Decision{}, err
		}
		if blocked != nil {
			return Decision{Outcome: OutcomeClientBlocked, Blocked: blocked}, nil
		}
	}

	windows, err := availability.SequentialWindows(date.At(clock, loc), assignments)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !withinHours(biz, date, loc, windows) {
		return Decision{Outcome: OutcomeOutsideHours}, nil
	}

	appt := newAppointment(biz.ID, req, date, windows, services)
	err = e.bounded(ctx, "create appointment", func(ctx context.Context) error {
		return e.store.CreateAppointment(ctx, &appt, biz.AllowOverlap)
	})
	switch {
	case errors.Is(err, ErrConflict):
		return Decision{Outcome: OutcomeConflict, ConflictingAppointmentID: conflictingID(err)}, nil
	case errors.Is(err, ErrDateClosed):
		return Decision{Outcome: OutcomeDateClosed}, nil
	case err != nil:
		return Decision{}, err
	}

	e.logger.Info("appointment booked",
		"business_id", appt.BusinessID,
		"appointment_id", appt.ID,
		"employee_id", appt.EmployeeID,
		"start_time", appt.StartTime.Format(time.RFC3339),
	)
	e.report("appointment booked", e.notifier.AppointmentBooked(ctx, appt))
	return Decision{Outcome: OutcomeAccepted, Appointment: &appt}, nil
}

// Apply performs a status action on an appointment owned by businessID.
func (e *Engine) Apply(ctx context.Context, businessID, appointmentID string, action model.Action, reason string) (model.Appointment, error) {
	appt, err := e.appointment(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.BusinessID != businessID {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", appointmentID, ErrNotFound)
	}
	to, err := Transition(appt.Status, action)
	if err != nil {
		return model.Appointment{}, err
	}

	var updated model.Appointment
	err = e.bounded(ctx, "transition status", func(ctx context.Context) error {
		var err error
		updated, err = e.store.TransitionStatus(ctx, appt.ID, appt.Status, to, e.cfg.Now(), reason)
		return err
	})
	if err != nil {
		return model.Appointment{}, err
	}

	e.logger.Info("appointment status changed",
		"business_id", businessID,
		"appointment_id", appt.ID,
		"from", string(appt.Status),
		"to", string(to),
	)
	e.report("status changed", e.notifier.StatusChanged(ctx, updated, appt.Status))
	return updated, nil
}

// ListAppointments lists a business's appointments.
func (e *Engine) ListAppointments(ctx context.Context, businessID string, filter ListFilter) ([]model.Appointment, error) {
	var out []model.Appointment
	err := e.bounded(ctx, "list appointments", func(ctx context.Context) error {
		var err error
		out, err = e.store.ListAppointments(ctx, businessID, filter)
		return err
	})
	return out, err
}

// ListEligibleEmployees returns the active employees able to perform every service in
// serviceIDs. A capability lookup failure yields the unfiltered list marked Degraded.
func (e *Engine) ListEligibleEmployees(ctx context.Context, businessID string, serviceIDs []string) (compat.Result, error) {
	if _, err := e.business(ctx, businessID); err != nil {
		return compat.Result{}, err
	}
	var employees []model.Employee
	err := e.bounded(ctx, "list employees", func(ctx context.Context) error {
		var err error
		employees, err = e.store.ListActiveEmployees(ctx, businessID)
		return err
	})
	if err != nil {
		return compat.Result{}, err
	}
	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	return e.resolver.FilterEmployees(lookupCtx, businessID, serviceIDs, employees), nil
}

type SlotQuery struct {
	BusinessID string
	Date       string
	Items      []Item
}

// ListSlots returns the start/end of every free slot on a date for the given sequence of
// services. Closed dates and inactive businesses have no slots.
func (e *Engine) ListSlots(ctx context.Context, q SlotQuery) ([]availability.Interval, error) {
	if len(q.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one service is required", ErrInvalidRequest)
	}
	biz, err := e.business(ctx, q.BusinessID)
	if err != nil {
		return nil, err
	}
	if !biz.Active {
		return nil, nil
	}
	loc, err := timeutil.LoadLocation(biz.Timezone)
	if err != nil {
		return nil, fmt.Errorf("business %s: %w", biz.ID, err)
	}
	date, err := timeutil.ParseLocalDate(q.Date)
	if err != nil {
		return nil, err
	}
	if d, err := e.checkDateOpen(ctx, biz.ID, date); d != nil || err != nil {
		return nil, err
	}
	assignments, _, d, err := e.resolveAssignments(ctx, biz.ID, q.Items)
	if err != nil {
		return nil, err
	}
	if d != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, d.Outcome)
	}

	open, closeAt := businessHours(biz, date, loc)
	var employeeIDs []string
	if biz.AllowOverlap {
		employeeIDs = distinctEmployees(assignments)
	}
	var busy []availability.Busy
	err = e.bounded(ctx, "list busy", func(ctx context.Context) error {
		var err error
		busy, err = e.store.ListBusy(ctx, biz.ID, employeeIDs, open, closeAt)
		return err
	})
	if err != nil {
		return nil, err
	}

	step := e.cfg.DefaultSlotStep
	if biz.SlotStepMinutes > 0 {
		step = time.Duration(biz.SlotStepMinutes) * time.Minute
	}
	var total time.Duration
	for _, a := range assignments {
		total += a.Duration
	}
	starts := availability.AvailableStarts(open, closeAt, assignments, busy, step, biz.AllowOverlap, e.cfg.Now())
	out := make([]availability.Interval, 0, len(starts))
	for _, s := range starts {
		out = append(out, availability.Interval{Start: s, End: s.Add(total)})
	}
	return out, nil
}

func (e *Engine) business(ctx context.Context, businessID string) (model.Business, error) {
	var biz model.Business
	err := e.bounded(ctx, "get business", func(ctx context.Context) error {
		var err error
		biz, err = e.store.GetBusiness(ctx, businessID)
		return err
	})
	return biz, err
}

func (e *Engine) appointment(ctx context.Context, appointmentID string) (model.Appointment, error) {
	var appt model.Appointment
	err := e.bounded(ctx, "get appointment", func(ctx context.Context) error {
		var err error
		appt, err = e.store.GetAppointment(ctx, appointmentID)
		return err
	})
	return appt, err
}

func (e *Engine) checkDateOpen(ctx context.Context, businessID string, date timeutil.Date) (*Decision, error) {
	var closed bool
	err := e.bounded(ctx, "check closed date", func(ctx context.Context) error {
		var err error
		closed, err = e.store.IsDateClosed(ctx, businessID, date)
		return err
	})
	if err != nil {
		return nil, err
	}
	if closed {
		return &Decision{Outcome: OutcomeDateClosed}, nil
	}
	return nil, nil
}

// resolveAssignments loads the requested services and verifies every employee is active and
// capable of the service assigned to them. Capabilities are read from the store directly: a
// failed lookup fails the booking rather than degrading.
func (e *Engine) resolveAssignments(ctx context.Context, businessID string, items []Item) ([]availability.Assignment, map[string]model.Service, *Decision, error) {
	serviceIDs := make([]string, 0, len(items))
	employeeIDs := make([]string, 0, len(items))
	for _, it := range items {
		serviceIDs = append(serviceIDs, it.ServiceID)
		employeeIDs = append(employeeIDs, it.EmployeeID)
	}

	var (
		services  map[string]model.Service
		employees []model.Employee
		caps      map[string][]string
	)
	err := e.bounded(ctx, "get services", func(ctx context.Context) error {
		var err error
		services, err = e.store.GetServices(ctx, businessID, serviceIDs)
		return err
	})
	if err != nil {
		return nil, nil, nil, err
	}
	for _, id := range serviceIDs {
		svc, ok := services[id]
		if !ok || !svc.Active || svc.DurationMinutes <= 0 {
			return nil, nil, &Decision{Outcome: OutcomeServiceUnavailable, ServiceID: id}, nil
		}
	}

	err = e.bounded(ctx, "list employees", func(ctx context.Context) error {
		var err error
		employees, err = e.store.ListActiveEmployees(ctx, businessID)
		return err
	})
	if err != nil {
		return nil, nil, nil, err
	}
	active := make(map[string]struct{}, len(employees))
	for _, emp := range employees {
		active[emp.ID] = struct{}{}
	}

	err = e.bounded(ctx, "load capabilities", func(ctx context.Context) error {
		var err error
		caps, err = e.store.ServiceIDsByEmployee(ctx, businessID, employeeIDs)
		return err
	})
	if err != nil {
		return nil, nil, nil, err
	}

	out := make([]availability.Assignment, 0, len(items))
	for _, it := range items {
		_, isActive := active[it.EmployeeID]
		if !isActive || !compat.CanPerform(caps[it.EmployeeID], it.ServiceID) {
			return nil, nil, &Decision{
				Outcome:    OutcomeEmployeeIneligible,
				ServiceID:  it.ServiceID,
				EmployeeID: it.EmployeeID,
			}, nil
		}
		svc := services[it.ServiceID]
		out = append(out, availability.Assignment{
			ServiceID:  svc.ID,
			EmployeeID: it.EmployeeID,
			Duration:   time.Duration(svc.DurationMinutes) * time.Minute,
			PriceCents: svc.PriceCents,
		})
	}
	return out, services, nil, nil
}

// checkCancellations applies the monthly cancellation limit. A limit of zero or less disables
// blocking. The count is read outside the slot write, so a cancellation committed between the
// two is not seen by this booking.
func (e *Engine) checkCancellations(ctx context.Context, biz model.Business, clientID string, loc *time.Location, now time.Time) (*ClientBlocked, error) {
	limit := e.cfg.DefaultMaxMonthlyCancellations
	if biz.MaxMonthlyCancellations != nil {
		limit = *biz.MaxMonthlyCancellations
	}
	if limit <= 0 {
		return nil, nil
	}
	from, to := timeutil.MonthBounds(now, loc)
	var count int
	err := e.bounded(ctx, "count cancellations", func(ctx context.Context) error {
		var err error
		count, err = e.store.CountCancellations(ctx, biz.ID, clientID, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	if count < limit {
		return nil, nil
	}
	e.logger.Info("client blocked by cancellation limit",
		"business_id", biz.ID,
		"client_id", clientID,
		"cancellations", count,
		"max_allowed", limit,
	)
	return &ClientBlocked{
		CancellationsThisMonth: count,
		MaxAllowed:             limit,
		BusinessName:           biz.Name,
		BusinessPhone:          biz.Phone,
	}, nil
}

// bounded runs one store call under StoreTimeout and names the call in the returned error.
func (e *Engine) bounded(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	err := fn(cctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || (cctx.Err() != nil && ctx.Err() == nil) {
		return fmt.Errorf("%s: %w", op, ErrStoreTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Engine) report(what string, err error) {
	if err != nil {
		e.logger.Warn("notification failed", "event", what, "err", err)
	}
}

func (e *Engine) rescheduleLink(appointmentID, tok string) string {
	if e.cfg.RescheduleBaseURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("appointment_id", appointmentID)
	q.Set("token", tok)
	sep := "?"
	if strings.Contains(e.cfg.RescheduleBaseURL, "?") {
		sep = "&"
	}
	return e.cfg.RescheduleBaseURL + sep + q.Encode()
}

func newAppointment(businessID string, req Request, date timeutil.Date, windows []availability.Window, services map[string]model.Service) model.Appointment {
	span := availability.Span(windows)
	appt := model.Appointment{
		BusinessID:  businessID,
		EmployeeID:  windows[0].EmployeeID,
		ClientID:    req.ClientID,
		ClientName:  strings.TrimSpace(req.ClientName),
		ClientPhone: strings.TrimSpace(req.ClientPhone),
		ClientEmail: strings.TrimSpace(req.ClientEmail),
		Date:        date,
		StartTime:   span.Start.UTC(),
		EndTime:     span.End.UTC(),
		Status:      model.StatusPending,
		Notes:       req.Notes,
	}
	appt.Items = itemsFromWindows(windows, services)
	for _, it := range appt.Items {
		appt.TotalPriceCents += it.PriceCents
	}
	return appt
}

func itemsFromWindows(windows []availability.Window, services map[string]model.Service) []model.AppointmentItem {
	items := make([]model.AppointmentItem, 0, len(windows))
	for _, w := range windows {
		items = append(items, model.AppointmentItem{
			ServiceID:   w.ServiceID,
			ServiceName: services[w.ServiceID].Name,
			EmployeeID:  w.EmployeeID,
			StartTime:   w.Start.UTC(),
			EndTime:     w.End.UTC(),
			PriceCents:  w.PriceCents,
		})
	}
	return items
}

// businessHours returns the bookable range of date. Without configured hours the whole day
// is bookable.
func businessHours(biz model.Business, date timeutil.Date, loc *time.Location) (time.Time, time.Time) {
	if biz.ClosesAt > biz.OpensAt {
		return date.At(biz.OpensAt, loc), date.At(biz.ClosesAt, loc)
	}
	return date.At(0, loc), date.AddDays(1).At(0, loc)
}

func withinHours(biz model.Business, date timeutil.Date, loc *time.Location, windows []availability.Window) bool {
	open, closeAt := businessHours(biz, date, loc)
	span := availability.Span(windows)
	return !span.Start.Before(open) && !span.End.After(closeAt)
}

func distinctEmployees(assignments []availability.Assignment) []string {
	seen := make(map[string]struct{}, len(assignments))
	var out []string
	for _, a := range assignments {
		if _, ok := seen[a.EmployeeID]; ok {
			continue
		}
		seen[a.EmployeeID] = struct{}{}
		out = append(out, a.EmployeeID)
	}
	return out
}

func deref(d *Decision) Decision {
	if d == nil {
		return Decision{}
	}
	return *d
}
