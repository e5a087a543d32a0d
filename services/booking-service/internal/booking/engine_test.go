package booking_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/compat"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/token"
)

var fixedNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu          sync.Mutex
	booked      []model.Appointment
	changed     []model.Appointment
	notices     []booking.RescheduleNotice
	rescheduled []model.Appointment
}

func (n *recordingNotifier) AppointmentBooked(_ context.Context, a model.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.booked = append(n.booked, a)
	return nil
}

func (n *recordingNotifier) StatusChanged(_ context.Context, a model.Appointment, _ model.Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, a)
	return nil
}

func (n *recordingNotifier) RescheduleRequested(_ context.Context, notice booking.RescheduleNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) Rescheduled(_ context.Context, a model.Appointment, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rescheduled = append(n.rescheduled, a)
	return nil
}

type fixture struct {
	store    *storage.MemoryStore
	engine   *booking.Engine
	notifier *recordingNotifier
	signer   *token.Signer
	biz      model.Business
	cut      model.Service
	wash     model.Service
	ana      model.Employee
	ben      model.Employee
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, mutate func(*model.Business)) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: storage.NewMemoryStore(), notifier: &recordingNotifier{}}

	biz := model.Business{
		Name:         "Clip Joint",
		Phone:        "+1-555-0100",
		Timezone:     "UTC",
		Active:       true,
		AllowOverlap: true,
		OpensAt:      9 * 60,
		ClosesAt:     17 * 60,
	}
	if mutate != nil {
		mutate(&biz)
	}
	var err error
	if f.biz, err = f.store.UpsertBusiness(ctx, biz); err != nil {
		t.Fatalf("UpsertBusiness failed: %v", err)
	}
	if f.cut, err = f.store.CreateService(ctx, model.Service{BusinessID: f.biz.ID, Name: "Cut", DurationMinutes: 30, PriceCents: 2500, Active: true}); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}
	if f.wash, err = f.store.CreateService(ctx, model.Service{BusinessID: f.biz.ID, Name: "Wash", DurationMinutes: 20, PriceCents: 1000, Active: true}); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}
	if f.ana, err = f.store.CreateEmployee(ctx, model.Employee{BusinessID: f.biz.ID, Name: "Ana", Active: true}, []string{f.cut.ID, f.wash.ID}); err != nil {
		t.Fatalf("CreateEmployee failed: %v", err)
	}
	if f.ben, err = f.store.CreateEmployee(ctx, model.Employee{BusinessID: f.biz.ID, Name: "Ben", Active: true}, []string{f.cut.ID}); err != nil {
		t.Fatalf("CreateEmployee failed: %v", err)
	}

	if f.signer, err = token.NewSigner("test-secret"); err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	f.engine = booking.NewEngine(f.store, f.signer, nil, f.notifier, quietLogger(), booking.Config{
		DefaultMaxMonthlyCancellations: 3,
		RescheduleBaseURL:              "https://book.example.com/reschedule",
		Now:                            func() time.Time { return fixedNow },
	})
	return f
}

func (f *fixture) request(clientID, date, start string, items ...booking.Item) booking.Request {
	return booking.Request{
		BusinessID:  f.biz.ID,
		ClientID:    clientID,
		ClientName:  "Casey",
		ClientEmail: "casey@example.com",
		Date:        date,
		StartTime:   start,
		Items:       items,
	}
}

func (f *fixture) book(t *testing.T, req booking.Request) booking.Decision {
	t.Helper()
	d, err := f.engine.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	return d
}

// cancelAt books a slot for the client and cancels it at the given instant.
func (f *fixture) cancelAt(t *testing.T, clientID, start string, cancelledAt time.Time) {
	t.Helper()
	d := f.book(t, f.request(clientID, "2026-03-20", start, booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ben.ID}))
	if !d.Accepted() {
		t.Fatalf("setup booking rejected: %+v", d)
	}
	if _, err := f.store.TransitionStatus(context.Background(), d.Appointment.ID, model.StatusPending, model.StatusCancelled, cancelledAt, "changed plans"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
}

func TestBookSequentialServices(t *testing.T) {
	f := newFixture(t, nil)
	d := f.book(t, f.request("client-1", "2026-03-12", "09:00",
		booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID},
		booking.Item{ServiceID: f.wash.ID, EmployeeID: f.ana.ID},
	))
	if !d.Accepted() {
		t.Fatalf("expected accepted, got %+v", d)
	}
	a := d.Appointment
	if a.ID == "" || a.Status != model.StatusPending {
		t.Fatalf("unexpected appointment %+v", a)
	}
	if !a.StartTime.Equal(time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)) || !a.EndTime.Equal(time.Date(2026, 3, 12, 9, 50, 0, 0, time.UTC)) {
		t.Fatalf("unexpected span %s - %s", a.StartTime, a.EndTime)
	}
	if len(a.Items) != 2 || !a.Items[0].EndTime.Equal(a.Items[1].StartTime) {
		t.Fatalf("expected two contiguous items, got %+v", a.Items)
	}
	if a.TotalPriceCents != 3500 {
		t.Fatalf("expected total 3500, got %d", a.TotalPriceCents)
	}
	if len(f.notifier.booked) != 1 {
		t.Fatalf("expected a booked notification, got %d", len(f.notifier.booked))
	}
}

func TestBookInactiveBusinessShortCircuits(t *testing.T) {
	f := newFixture(t, func(b *model.Business) { b.Active = false })
	// Past date and an ineligible employee would also reject; the business check comes first.
	d := f.book(t, f.request("client-1", "2020-01-01", "09:00", booking.Item{ServiceID: f.wash.ID, EmployeeID: f.ben.ID}))
	if d.Outcome != booking.OutcomeBusinessUnavailable {
		t.Fatalf("expected business_unavailable, got %s", d.Outcome)
	}

	// Missing services and a nameless walk-in are not reported either.
	d, err := f.engine.Book(context.Background(), booking.Request{BusinessID: f.biz.ID, Date: "not-a-date"})
	if err != nil || d.Outcome != booking.OutcomeBusinessUnavailable {
		t.Fatalf("expected business_unavailable before validation, got %+v (%v)", d, err)
	}
}

func TestBookRejections(t *testing.T) {
	f := newFixture(t, nil)

	d := f.book(t, f.request("", "2026-03-09", "09:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if d.Outcome != booking.OutcomeInPast {
		t.Fatalf("expected in_past, got %s", d.Outcome)
	}
	d = f.book(t, f.request("", "2026-03-12", "09:00", booking.Item{ServiceID: f.wash.ID, EmployeeID: f.ben.ID}))
	if d.Outcome != booking.OutcomeEmployeeIneligible || d.EmployeeID != f.ben.ID {
		t.Fatalf("expected employee_ineligible for Ben, got %+v", d)
	}
	d = f.book(t, f.request("", "2026-03-12", "16:45", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if d.Outcome != booking.OutcomeOutsideHours {
		t.Fatalf("expected outside_business_hours, got %s", d.Outcome)
	}
	d = f.book(t, f.request("", "2026-03-12", "10:00", booking.Item{ServiceID: "nope", EmployeeID: f.ana.ID}))
	if d.Outcome != booking.OutcomeServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %s", d.Outcome)
	}
}

func TestBookInvalidInputIsAnError(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Book(context.Background(), f.request("", "2026-02-30", "09:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	var pe *timeutil.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	_, err = f.engine.Book(context.Background(), f.request("", "2026-03-12", "09:00"))
	if !errors.Is(err, booking.ErrInvalidRequest) {
		t.Fatalf("expected invalid request without services, got %v", err)
	}
	_, err = f.engine.Book(context.Background(), booking.Request{BusinessID: "missing", ClientID: "c", Date: "2026-03-12", StartTime: "09:00", Items: []booking.Item{{ServiceID: "s", EmployeeID: "e"}}})
	if !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected not found business, got %v", err)
	}
}

func TestBookConflictVersusAdjacent(t *testing.T) {
	f := newFixture(t, nil)
	first := f.book(t, f.request("", "2026-03-12", "10:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if !first.Accepted() {
		t.Fatalf("expected first booking accepted, got %+v", first)
	}

	// 10:15-10:45 overlaps 10:00-10:30: Ana cannot do both.
	d := f.book(t, f.request("", "2026-03-12", "10:15", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if d.Outcome != booking.OutcomeConflict || d.ConflictingAppointmentID != first.Appointment.ID {
		t.Fatalf("expected conflict with %s, got %+v", first.Appointment.ID, d)
	}

	d = f.book(t, f.request("", "2026-03-12", "10:30", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if !d.Accepted() {
		t.Fatalf("expected adjacent booking accepted, got %+v", d)
	}

	d = f.book(t, f.request("", "2026-03-12", "10:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ben.ID}))
	if !d.Accepted() {
		t.Fatalf("expected a different employee to be bookable, got %+v", d)
	}
}

func TestCancellationLimitBoundary(t *testing.T) {
	limit := 2
	f := newFixture(t, func(b *model.Business) { b.MaxMonthlyCancellations = &limit })

	f.cancelAt(t, "client-1", "09:00", time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	d := f.book(t, f.request("client-1", "2026-03-12", "11:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if !d.Accepted() {
		t.Fatalf("one below the limit must be allowed, got %+v", d)
	}

	f.cancelAt(t, "client-1", "10:00", time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	d = f.book(t, f.request("client-1", "2026-03-12", "12:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if d.Outcome != booking.OutcomeClientBlocked {
		t.Fatalf("exactly the limit must block, got %+v", d)
	}
	b := d.Blocked
	if b == nil || b.CancellationsThisMonth != 2 || b.MaxAllowed != 2 || b.BusinessName != "Clip Joint" || b.BusinessPhone != "+1-555-0100" {
		t.Fatalf("unexpected blocked detail %+v", b)
	}

	d = f.book(t, f.request("client-2", "2026-03-12", "12:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if !d.Accepted() {
		t.Fatalf("other clients are unaffected, got %+v", d)
	}
	d = f.book(t, f.request("", "2026-03-12", "13:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if !d.Accepted() {
		t.Fatalf("walk-ins skip the cancellation check, got %+v", d)
	}
}

func TestCancellationFromPreviousMonthDoesNotCount(t *testing.T) {
	limit := 1
	f := newFixture(t, func(b *model.Business) { b.MaxMonthlyCancellations = &limit })
	f.cancelAt(t, "client-1", "09:00", time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC))

	d := f.book(t, f.request("client-1", "2026-03-12", "11:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if !d.Accepted() {
		t.Fatalf("February cancellation must not count in March, got %+v", d)
	}
}

func TestCancellationMonthUsesBusinessTimezone(t *testing.T) {
	limit := 1
	f := newFixture(t, func(b *model.Business) {
		b.Timezone = "America/New_York"
		b.MaxMonthlyCancellations = &limit
	})
	// 2026-03-01 03:00 UTC is still February 28 in New York.
	f.cancelAt(t, "client-1", "09:00", time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC))

	d := f.book(t, f.request("client-1", "2026-03-12", "11:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if !d.Accepted() {
		t.Fatalf("local-February cancellation must not count in March, got %+v", d)
	}
}

func TestZeroLimitDisablesBlocking(t *testing.T) {
	zero := 0
	f := newFixture(t, func(b *model.Business) { b.MaxMonthlyCancellations = &zero })
	f.cancelAt(t, "client-1", "09:00", time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	d := f.book(t, f.request("client-1", "2026-03-12", "11:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if !d.Accepted() {
		t.Fatalf("a zero limit must not block, got %+v", d)
	}
}

func TestConcurrentBookingExactlyOneCommits(t *testing.T) {
	f := newFixture(t, nil)
	const attempts = 16

	var wg sync.WaitGroup
	results := make(chan booking.Decision, attempts)
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.engine.Book(context.Background(), f.request("", "2026-03-12", "14:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
			if err != nil {
				errs <- err
				return
			}
			results <- d
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("Book failed: %v", err)
	}
	accepted, conflicts := 0, 0
	for d := range results {
		switch d.Outcome {
		case booking.OutcomeAccepted:
			accepted++
		case booking.OutcomeConflict:
			conflicts++
		default:
			t.Fatalf("unexpected outcome %s", d.Outcome)
		}
	}
	if accepted != 1 || conflicts != attempts-1 {
		t.Fatalf("expected exactly one commit, got %d accepted / %d conflicts", accepted, conflicts)
	}
}

func TestApplyTransitions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	d := f.book(t, f.request("", "2026-03-12", "09:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	id := d.Appointment.ID

	if _, err := f.engine.Apply(ctx, f.biz.ID, id, model.ActionComplete, ""); err == nil {
		t.Fatal("pending appointment cannot complete")
	} else {
		var te *booking.TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransitionError, got %v", err)
		}
	}
	if _, err := f.engine.Apply(ctx, "other-business", id, model.ActionConfirm, ""); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected not found for foreign business, got %v", err)
	}

	a, err := f.engine.Apply(ctx, f.biz.ID, id, model.ActionConfirm, "")
	if err != nil || a.Status != model.StatusConfirmed {
		t.Fatalf("confirm failed: %+v (%v)", a, err)
	}
	a, err = f.engine.Apply(ctx, f.biz.ID, id, model.ActionCancel, "client called")
	if err != nil || a.Status != model.StatusCancelled || a.CancelledAt == nil || !a.CancelledAt.Equal(fixedNow) {
		t.Fatalf("cancel failed: %+v (%v)", a, err)
	}
	if len(f.notifier.changed) != 2 {
		t.Fatalf("expected two status notifications, got %d", len(f.notifier.changed))
	}

	d = f.book(t, f.request("", "2026-03-12", "09:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if !d.Accepted() {
		t.Fatalf("cancelled slot should be free again, got %+v", d)
	}
}

func TestCloseDateAndReschedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	booked := f.book(t, f.request("client-1", "2026-03-12", "09:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	confirmed := f.book(t, f.request("client-2", "2026-03-12", "11:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ben.ID}))
	if _, err := f.engine.Apply(ctx, f.biz.ID, confirmed.Appointment.ID, model.ActionConfirm, ""); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	res, err := f.engine.CloseDate(ctx, f.biz.ID, "2026-03-12", "holiday")
	if err != nil {
		t.Fatalf("CloseDate failed: %v", err)
	}
	if len(res.Flagged) != 2 || len(f.notifier.notices) != 2 {
		t.Fatalf("expected two flagged and notified appointments, got %d/%d", len(res.Flagged), len(f.notifier.notices))
	}
	again, err := f.engine.CloseDate(ctx, f.biz.ID, "2026-03-12", "holiday")
	if err != nil || len(again.Flagged) != 0 || len(f.notifier.notices) != 2 {
		t.Fatalf("closing twice must not notify twice: %+v (%v)", again, err)
	}

	var notice booking.RescheduleNotice
	for _, n := range f.notifier.notices {
		if n.AppointmentID == booked.Appointment.ID {
			notice = n
		}
	}
	if notice.Token == "" || notice.BusinessName != "Clip Joint" || notice.OriginalDate != "2026-03-12" || notice.OriginalStart != "09:00" {
		t.Fatalf("unexpected notice %+v", notice)
	}
	if len(notice.Services) != 1 || notice.Services[0].Name != "Cut" || notice.Services[0].PriceCents != 2500 {
		t.Fatalf("unexpected notice services %+v", notice.Services)
	}
	if notice.Link == "" {
		t.Fatal("expected a reschedule link")
	}

	d := f.book(t, f.request("client-3", "2026-03-12", "15:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if d.Outcome != booking.OutcomeDateClosed {
		t.Fatalf("expected date_closed, got %s", d.Outcome)
	}

	if _, err := f.engine.PreviewReschedule(ctx, booked.Appointment.ID, notice.Token+"0"); !errors.Is(err, booking.ErrInvalidRescheduleLink) {
		t.Fatalf("expected invalid link for tampered token, got %v", err)
	}
	if _, err := f.engine.PreviewReschedule(ctx, confirmed.Appointment.ID, notice.Token); !errors.Is(err, booking.ErrInvalidRescheduleLink) {
		t.Fatalf("expected invalid link for another appointment, got %v", err)
	}
	preview, err := f.engine.PreviewReschedule(ctx, booked.Appointment.ID, notice.Token)
	if err != nil || preview.Appointment.ID != booked.Appointment.ID || !preview.Appointment.RescheduleRequired {
		t.Fatalf("preview failed: %+v (%v)", preview, err)
	}

	d, err = f.engine.ConfirmReschedule(ctx, booking.RescheduleRequest{
		AppointmentID: booked.Appointment.ID,
		Token:         notice.Token,
		NewDate:       "2026-03-12",
	})
	if err != nil || d.Outcome != booking.OutcomeDateClosed {
		t.Fatalf("moving onto the closed date must be refused, got %+v (%v)", d, err)
	}

	d, err = f.engine.ConfirmReschedule(ctx, booking.RescheduleRequest{
		AppointmentID: booked.Appointment.ID,
		Token:         notice.Token,
		NewDate:       "2026-03-13",
	})
	if err != nil || !d.Accepted() {
		t.Fatalf("reschedule failed: %+v (%v)", d, err)
	}
	moved, _ := f.store.GetAppointment(ctx, booked.Appointment.ID)
	if moved.ID != booked.Appointment.ID || moved.Status != model.StatusPending || moved.RescheduleRequired {
		t.Fatalf("unexpected appointment after reschedule %+v", moved)
	}
	if !moved.StartTime.Equal(time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected original time of day on new date, got %s", moved.StartTime)
	}
	if len(f.notifier.rescheduled) != 1 {
		t.Fatalf("expected a rescheduled notification, got %d", len(f.notifier.rescheduled))
	}

	_, err = f.engine.ConfirmReschedule(ctx, booking.RescheduleRequest{
		AppointmentID: booked.Appointment.ID,
		Token:         notice.Token,
		NewDate:       "2026-03-14",
	})
	if !errors.Is(err, booking.ErrInvalidRescheduleLink) {
		t.Fatalf("a used link must be refused, got %v", err)
	}
}

func TestRescheduleConflictKeepsFlag(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	victim := f.book(t, f.request("", "2026-03-12", "09:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	blocker := f.book(t, f.request("", "2026-03-13", "09:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if _, err := f.engine.CloseDate(ctx, f.biz.ID, "2026-03-12", ""); err != nil {
		t.Fatalf("CloseDate failed: %v", err)
	}
	tok, _ := f.signer.Issue(victim.Appointment.ID)

	d, err := f.engine.ConfirmReschedule(ctx, booking.RescheduleRequest{
		AppointmentID: victim.Appointment.ID, Token: tok, NewDate: "2026-03-13", NewStartTime: "09:15",
	})
	if err != nil || d.Outcome != booking.OutcomeConflict || d.ConflictingAppointmentID != blocker.Appointment.ID {
		t.Fatalf("expected conflict with blocker, got %+v (%v)", d, err)
	}
	still, _ := f.store.GetAppointment(ctx, victim.Appointment.ID)
	if !still.RescheduleRequired {
		t.Fatal("a refused reschedule must leave the flag set")
	}
}

// staleClosureStore answers the engine's closed-date check from before a concurrent
// CloseDate, so only the store's write can catch the closure.
type staleClosureStore struct {
	*storage.MemoryStore
}

func (staleClosureStore) IsDateClosed(context.Context, string, timeutil.Date) (bool, error) {
	return false, nil
}

func TestWriteRefusesDateClosedAfterCheck(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	e := booking.NewEngine(staleClosureStore{f.store}, f.signer, nil, f.notifier, quietLogger(), booking.Config{
		Now: func() time.Time { return fixedNow },
	})
	victim := f.book(t, f.request("client-1", "2026-03-12", "09:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))
	if _, err := f.engine.CloseDate(ctx, f.biz.ID, "2026-03-12", "holiday"); err != nil {
		t.Fatalf("CloseDate failed: %v", err)
	}
	if err := f.store.CloseDate(ctx, f.biz.ID, timeutil.Date{Year: 2026, Month: time.March, Day: 13}, "inventory"); err != nil {
		t.Fatalf("CloseDate failed: %v", err)
	}

	d, err := e.Book(ctx, f.request("client-2", "2026-03-12", "14:00", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ben.ID}))
	if err != nil || d.Outcome != booking.OutcomeDateClosed {
		t.Fatalf("expected date_closed from the write, got %+v (%v)", d, err)
	}
	list, _ := f.store.ListAppointments(ctx, f.biz.ID, booking.ListFilter{})
	if len(list) != 1 {
		t.Fatalf("expected no appointment to be added on the closed date, got %d", len(list))
	}

	tok, _ := f.signer.Issue(victim.Appointment.ID)
	d, err = e.ConfirmReschedule(ctx, booking.RescheduleRequest{AppointmentID: victim.Appointment.ID, Token: tok, NewDate: "2026-03-13"})
	if err != nil || d.Outcome != booking.OutcomeDateClosed {
		t.Fatalf("expected date_closed when moving onto a closed date, got %+v (%v)", d, err)
	}
}

type slowStore struct {
	*storage.MemoryStore
}

func (s slowStore) GetBusiness(ctx context.Context, _ string) (model.Business, error) {
	<-ctx.Done()
	return model.Business{}, ctx.Err()
}

func TestStoreCallsAreBounded(t *testing.T) {
	signer, _ := token.NewSigner("s")
	e := booking.NewEngine(slowStore{storage.NewMemoryStore()}, signer, nil, nil, quietLogger(), booking.Config{
		StoreTimeout: 20 * time.Millisecond,
		Now:          func() time.Time { return fixedNow },
	})
	_, err := e.Book(context.Background(), booking.Request{
		BusinessID: "b", ClientID: "c", Date: "2026-03-12", StartTime: "09:00",
		Items: []booking.Item{{ServiceID: "s", EmployeeID: "e"}},
	})
	if !errors.Is(err, booking.ErrStoreTimeout) {
		t.Fatalf("expected ErrStoreTimeout, got %v", err)
	}
}

type failingLookup struct{}

func (failingLookup) ServiceIDsByEmployee(context.Context, string, []string) (map[string][]string, error) {
	return nil, errors.New("capabilities unavailable")
}

func TestListEligibleEmployees(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.engine.ListEligibleEmployees(ctx, f.biz.ID, []string{f.cut.ID, f.wash.ID})
	if err != nil || res.Degraded || len(res.Employees) != 1 || res.Employees[0].ID != f.ana.ID {
		t.Fatalf("expected only Ana, got %+v (%v)", res, err)
	}

	degraded := booking.NewEngine(f.store, f.signer, compat.NewResolver(failingLookup{}, quietLogger()), nil, quietLogger(), booking.Config{})
	res, err = degraded.ListEligibleEmployees(ctx, f.biz.ID, []string{f.cut.ID, f.wash.ID})
	if err != nil || !res.Degraded || len(res.Employees) != 2 {
		t.Fatalf("expected degraded unfiltered list, got %+v (%v)", res, err)
	}
}

func TestListSlots(t *testing.T) {
	f := newFixture(t, func(b *model.Business) {
		b.OpensAt = 9 * 60
		b.ClosesAt = 11 * 60
		b.SlotStepMinutes = 30
	})
	ctx := context.Background()
	f.book(t, f.request("", "2026-03-12", "09:30", booking.Item{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}))

	slots, err := f.engine.ListSlots(ctx, booking.SlotQuery{
		BusinessID: f.biz.ID,
		Date:       "2026-03-12",
		Items:      []booking.Item{{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}},
	})
	if err != nil {
		t.Fatalf("ListSlots failed: %v", err)
	}
	// 09:00, 10:00 and 10:30 are free for a 30 minute cut; 09:30 is taken.
	if len(slots) != 3 || slots[0].Start.Hour() != 9 || slots[1].Start.Hour() != 10 || slots[2].Start.Minute() != 30 {
		t.Fatalf("unexpected slots %+v", slots)
	}
	if slots[0].Duration() != 30*time.Minute {
		t.Fatalf("expected 30m slots, got %s", slots[0].Duration())
	}

	if _, err := f.engine.CloseDate(ctx, f.biz.ID, "2026-03-12", ""); err != nil {
		t.Fatalf("CloseDate failed: %v", err)
	}
	slots, err = f.engine.ListSlots(ctx, booking.SlotQuery{
		BusinessID: f.biz.ID,
		Date:       "2026-03-12",
		Items:      []booking.Item{{ServiceID: f.cut.ID, EmployeeID: f.ana.ID}},
	})
	if err != nil || len(slots) != 0 {
		t.Fatalf("closed date must have no slots, got %v (%v)", slots, err)
	}
}
