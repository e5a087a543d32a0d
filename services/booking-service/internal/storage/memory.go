package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
)

// MemoryStore keeps everything in process behind one mutex. The slot check and insert happen
// under the same lock, which gives the same single-winner guarantee as the SERIALIZABLE
// transaction in PostgresStore.
type MemoryStore struct {
	mu           sync.Mutex
	businesses   map[string]model.Business
	services     map[string]model.Service
	employees    map[string]model.Employee
	capabilities map[string]map[string]struct{}
	closures     map[string]map[timeutil.Date]string
	appointments map[string]*model.Appointment
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		businesses:   make(map[string]model.Business),
		services:     make(map[string]model.Service),
		employees:    make(map[string]model.Employee),
		capabilities: make(map[string]map[string]struct{}),
		closures:     make(map[string]map[timeutil.Date]string),
		appointments: make(map[string]*model.Appointment),
		now:          time.Now,
	}
}

func (s *MemoryStore) UpsertBusiness(_ context.Context, b model.Business) (model.Business, error) {
	if err := validateBusiness(b); err != nil {
		return model.Business{}, err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.SlotStepMinutes <= 0 {
		b.SlotStepMinutes = 15
	}
	if b.MaxMonthlyCancellations != nil {
		n := *b.MaxMonthlyCancellations
		b.MaxMonthlyCancellations = &n
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.ID] = b
	return b, nil
}

func (s *MemoryStore) CreateService(_ context.Context, svc model.Service) (model.Service, error) {
	if err := validateService(svc); err != nil {
		return model.Service{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.businesses[svc.BusinessID]; !ok {
		return model.Service{}, fmt.Errorf("create service: %w", booking.ErrNotFound)
	}
	svc.ID = uuid.NewString()
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *MemoryStore) ListServices(_ context.Context, businessID string) ([]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Service
	for _, svc := range s.services {
		if svc.BusinessID == businessID {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CreateEmployee(_ context.Context, emp model.Employee, serviceIDs []string) (model.Employee, error) {
	if strings.TrimSpace(emp.Name) == "" {
		return model.Employee{}, fmt.Errorf("%w: employee name is required", booking.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.businesses[emp.BusinessID]; !ok {
		return model.Employee{}, fmt.Errorf("create employee: %w", booking.ErrNotFound)
	}
	caps := make(map[string]struct{}, len(serviceIDs))
	for _, id := range dedupe(serviceIDs) {
		svc, ok := s.services[id]
		if !ok || svc.BusinessID != emp.BusinessID {
			return model.Employee{}, fmt.Errorf("%w: unknown service for this business", booking.ErrInvalidRequest)
		}
		caps[id] = struct{}{}
	}
	emp.ID = uuid.NewString()
	s.employees[emp.ID] = emp
	s.capabilities[emp.ID] = caps
	return emp, nil
}

// SetEmployeeServices replaces the services an employee can perform.
func (s *MemoryStore) SetEmployeeServices(_ context.Context, businessID, employeeID string, serviceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	emp, ok := s.employees[employeeID]
	if !ok || emp.BusinessID != businessID {
		return fmt.Errorf("set employee services: %w", booking.ErrNotFound)
	}
	caps := make(map[string]struct{}, len(serviceIDs))
	for _, id := range dedupe(serviceIDs) {
		svc, ok := s.services[id]
		if !ok || svc.BusinessID != businessID {
			return fmt.Errorf("%w: unknown service for this business", booking.ErrInvalidRequest)
		}
		caps[id] = struct{}{}
	}
	s.capabilities[employeeID] = caps
	return nil
}

func (s *MemoryStore) GetBusiness(_ context.Context, businessID string) (model.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return model.Business{}, fmt.Errorf("get business: %w", booking.ErrNotFound)
	}
	return b, nil
}

func (s *MemoryStore) ListActiveEmployees(_ context.Context, businessID string) ([]model.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Employee
	for _, e := range s.employees {
		if e.BusinessID == businessID && e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ServiceIDsByEmployee(_ context.Context, businessID string, employeeIDs []string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(employeeIDs))
	for _, id := range employeeIDs {
		e, ok := s.employees[id]
		if !ok || e.BusinessID != businessID {
			continue
		}
		caps := make([]string, 0, len(s.capabilities[id]))
		for svc := range s.capabilities[id] {
			caps = append(caps, svc)
		}
		sort.Strings(caps)
		out[id] = caps
	}
	return out, nil
}

func (s *MemoryStore) GetServices(_ context.Context, businessID string, serviceIDs []string) (map[string]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.Service, len(serviceIDs))
	for _, id := range serviceIDs {
		if svc, ok := s.services[id]; ok && svc.BusinessID == businessID {
			out[id] = svc
		}
	}
	return out, nil
}

func (s *MemoryStore) CountCancellations(_ context.Context, businessID, clientID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.appointments {
		if a.BusinessID != businessID || a.ClientID != clientID || a.Status != model.StatusCancelled {
			continue
		}
		if a.CancelledAt == nil || a.CancelledAt.Before(from) || !a.CancelledAt.Before(to) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) IsDateClosed(_ context.Context, businessID string, date timeutil.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, closed := s.closures[businessID][date]
	return closed, nil
}

func (s *MemoryStore) CloseDate(_ context.Context, businessID string, date timeutil.Date, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.businesses[businessID]; !ok {
		return fmt.Errorf("close date: %w", booking.ErrNotFound)
	}
	if s.closures[businessID] == nil {
		s.closures[businessID] = make(map[timeutil.Date]string)
	}
	if _, ok := s.closures[businessID][date]; !ok {
		s.closures[businessID][date] = reason
	}
	return nil
}

func (s *MemoryStore) ListBusy(_ context.Context, businessID string, employeeIDs []string, from, to time.Time) ([]availability.Busy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(employeeIDs))
	for _, id := range employeeIDs {
		wanted[id] = struct{}{}
	}
	window := availability.Interval{Start: from, End: to}
	var out []availability.Busy
	for _, b := range s.busyLocked(businessID, "") {
		if _, ok := wanted[b.EmployeeID]; len(wanted) > 0 && !ok {
			continue
		}
		if availability.Overlaps(b.Interval, window) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *MemoryStore) CreateAppointment(_ context.Context, appt *model.Appointment, allowOverlap bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, closed := s.closures[appt.BusinessID][appt.Date]; closed {
		return fmt.Errorf("create appointment: %w", booking.ErrDateClosed)
	}
	if res := s.checkLocked(appt, allowOverlap); !res.Accepted {
		return &booking.ConflictError{AppointmentID: res.ConflictingAppointmentID}
	}
	now := s.now().UTC()
	appt.ID = uuid.NewString()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	s.appointments[appt.ID] = cloneAppointment(appt)
	return nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, appointmentID string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[appointmentID]
	if !ok {
		return model.Appointment{}, fmt.Errorf("get appointment: %w", booking.ErrNotFound)
	}
	return *cloneAppointment(a), nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, businessID string, filter booking.ListFilter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.BusinessID != businessID {
			continue
		}
		if !filter.From.IsZero() && a.StartTime.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !a.StartTime.Before(filter.To) {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.RescheduleRequired && !a.RescheduleRequired {
			continue
		}
		out = append(out, *cloneAppointment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, appointmentID string, from, to model.Status, at time.Time, reason string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[appointmentID]
	if !ok {
		return model.Appointment{}, fmt.Errorf("transition status: %w", booking.ErrNotFound)
	}
	if a.Status != from {
		return model.Appointment{}, fmt.Errorf("transition status: %w", booking.ErrStaleState)
	}
	a.Status = to
	a.UpdatedAt = at
	if to == model.StatusCancelled {
		cancelledAt := at
		a.CancelledAt = &cancelledAt
		a.CancelReason = reason
	}
	return *cloneAppointment(a), nil
}

func (s *MemoryStore) FlagRescheduleRequired(_ context.Context, businessID string, date timeutil.Date) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.BusinessID != businessID || a.Date != date || a.RescheduleRequired {
			continue
		}
		if a.Status != model.StatusPending && a.Status != model.StatusConfirmed {
			continue
		}
		a.RescheduleRequired = true
		a.UpdatedAt = s.now().UTC()
		out = append(out, *cloneAppointment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *MemoryStore) Reschedule(_ context.Context, appt *model.Appointment, allowOverlap bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.appointments[appt.ID]
	if !ok {
		return fmt.Errorf("reschedule appointment: %w", booking.ErrNotFound)
	}
	if !cur.RescheduleRequired || cur.Status.Terminal() {
		return fmt.Errorf("reschedule appointment: %w", booking.ErrStaleState)
	}
	if _, closed := s.closures[appt.BusinessID][appt.Date]; closed {
		return fmt.Errorf("reschedule appointment: %w", booking.ErrDateClosed)
	}
	if res := s.checkLocked(appt, allowOverlap); !res.Accepted {
		return &booking.ConflictError{AppointmentID: res.ConflictingAppointmentID}
	}
	cur.Date = appt.Date
	cur.StartTime = appt.StartTime
	cur.EndTime = appt.EndTime
	cur.Items = append([]model.AppointmentItem(nil), appt.Items...)
	cur.Status = model.StatusPending
	cur.RescheduleRequired = false
	cur.UpdatedAt = s.now().UTC()
	appt.Status = cur.Status
	appt.RescheduleRequired = false
	appt.UpdatedAt = cur.UpdatedAt
	return nil
}

// Ping satisfies readiness checks.
func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) checkLocked(appt *model.Appointment, allowOverlap bool) availability.SlotResult {
	windows := make([]availability.Window, 0, len(appt.Items))
	for _, it := range appt.Items {
		windows = append(windows, availability.Window{
			Assignment: availability.Assignment{ServiceID: it.ServiceID, EmployeeID: it.EmployeeID},
			Interval:   availability.Interval{Start: it.StartTime, End: it.EndTime},
		})
	}
	return availability.Check(windows, s.busyLocked(appt.BusinessID, appt.ID), allowOverlap)
}

// busyLocked lists the item intervals of the business's non-cancelled appointments, skipping
// excludeID.
func (s *MemoryStore) busyLocked(businessID, excludeID string) []availability.Busy {
	var out []availability.Busy
	for _, a := range s.appointments {
		if a.BusinessID != businessID || a.ID == excludeID || !a.Status.Blocking() {
			continue
		}
		for _, it := range a.Items {
			out = append(out, availability.Busy{
				AppointmentID: a.ID,
				EmployeeID:    it.EmployeeID,
				Interval:      availability.Interval{Start: it.StartTime, End: it.EndTime},
			})
		}
	}
	return out
}

func cloneAppointment(a *model.Appointment) *model.Appointment {
	c := *a
	c.Items = append([]model.AppointmentItem(nil), a.Items...)
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
