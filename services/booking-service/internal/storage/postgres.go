package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"
)

// serializableAttempts bounds retries of a slot write that lost a serialization race. The
// retry re-reads the schedule, so a real overlap is then reported with its appointment id.
const serializableAttempts = 3

type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const appointmentColumns = `
	id::text, business_id::text, employee_id::text, COALESCE(client_id, ''), client_name, client_phone,
	client_email, appointment_date::text, start_time, end_time, status, reschedule_required,
	total_price_cents, notes, cancelled_at, COALESCE(cancellation_reason, ''), created_at, updated_at`

func (s *PostgresStore) GetBusiness(ctx context.Context, businessID string) (model.Business, error) {
	var b model.Business
	var maxCancellations *int32
	var opensAt, closesAt int
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, name, phone, timezone, active, allow_overlap, max_monthly_cancellations,
			opens_at, closes_at, slot_step_minutes
		FROM businesses
		WHERE id = $1
	`, businessID).Scan(
		&b.ID,
		&b.Name,
		&b.Phone,
		&b.Timezone,
		&b.Active,
		&b.AllowOverlap,
		&maxCancellations,
		&opensAt,
		&closesAt,
		&b.SlotStepMinutes,
	)
	if err != nil {
		return model.Business{}, translate("get business", err)
	}
	if maxCancellations != nil {
		n := int(*maxCancellations)
		b.MaxMonthlyCancellations = &n
	}
	b.OpensAt = timeutil.Clock(opensAt)
	b.ClosesAt = timeutil.Clock(closesAt)
	return b, nil
}

func (s *PostgresStore) ListActiveEmployees(ctx context.Context, businessID string) ([]model.Employee, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, active
		FROM employees
		WHERE business_id = $1 AND active
		ORDER BY name, id
	`, businessID)
	if err != nil {
		return nil, translate("list employees", err)
	}
	defer rows.Close()

	var out []model.Employee
	for rows.Next() {
		var e model.Employee
		if err := rows.Scan(&e.ID, &e.BusinessID, &e.Name, &e.Active); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PostgresStore) ServiceIDsByEmployee(ctx context.Context, businessID string, employeeIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(employeeIDs))
	if len(employeeIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT es.employee_id::text, es.service_id::text
		FROM employee_services es
		JOIN employees e ON e.id = es.employee_id
		WHERE e.business_id = $1 AND es.employee_id::text = ANY($2)
		ORDER BY es.employee_id, es.service_id
	`, businessID, employeeIDs)
	if err != nil {
		return nil, translate("load capabilities", err)
	}
	defer rows.Close()

	for rows.Next() {
		var employeeID, serviceID string
		if err := rows.Scan(&employeeID, &serviceID); err != nil {
			return nil, err
		}
		out[employeeID] = append(out[employeeID], serviceID)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PostgresStore) GetServices(ctx context.Context, businessID string, serviceIDs []string) (map[string]model.Service, error) {
	out := make(map[string]model.Service, len(serviceIDs))
	if len(serviceIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price_cents, active
		FROM services
		WHERE business_id = $1 AND id::text = ANY($2)
	`, businessID, serviceIDs)
	if err != nil {
		return nil, translate("get services", err)
	}
	defer rows.Close()

	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.BusinessID, &svc.Name, &svc.DurationMinutes, &svc.PriceCents, &svc.Active); err != nil {
			return nil, err
		}
		out[svc.ID] = svc
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PostgresStore) CountCancellations(ctx context.Context, businessID, clientID string, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE business_id = $1
			AND client_id = $2
			AND status = 'cancelled'
			AND cancelled_at >= $3
			AND cancelled_at < $4
	`, businessID, clientID, from, to).Scan(&n)
	if err != nil {
		return 0, translate("count cancellations", err)
	}
	return n, nil
}

func (s *PostgresStore) IsDateClosed(ctx context.Context, businessID string, date timeutil.Date) (bool, error) {
	var closed bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM business_closures WHERE business_id = $1 AND closed_date = $2::date
		)
	`, businessID, date.String()).Scan(&closed)
	if err != nil {
		return false, translate("check closed date", err)
	}
	return closed, nil
}

// CloseDate updates the business row in the same transaction as the closure insert. Slot
// writes hold that row FOR SHARE, so a booking either commits before the closure (and is then
// flagged) or retries and sees it.
func (s *PostgresStore) CloseDate(ctx context.Context, businessID string, date timeutil.Date, reason string) error {
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE businesses SET updated_at = now() WHERE id = $1`, businessID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO business_closures (business_id, closed_date, reason)
			VALUES ($1, $2::date, $3)
			ON CONFLICT (business_id, closed_date) DO NOTHING
		`, businessID, date.String(), reason)
		return err
	})
	return translate("close date", err)
}

func (s *PostgresStore) ListBusy(ctx context.Context, businessID string, employeeIDs []string, from, to time.Time) ([]availability.Busy, error) {
	if employeeIDs == nil {
		employeeIDs = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT appointment_id::text, employee_id::text, start_time, end_time
		FROM appointment_items
		WHERE business_id = $1
			AND active
			AND start_time < $3
			AND end_time > $2
			AND (cardinality($4::text[]) = 0 OR employee_id::text = ANY($4))
		ORDER BY start_time
	`, businessID, from, to, employeeIDs)
	if err != nil {
		return nil, translate("list busy", err)
	}
	defer rows.Close()

	var out []availability.Busy
	for rows.Next() {
		var b availability.Busy
		if err := rows.Scan(&b.AppointmentID, &b.EmployeeID, &b.Start, &b.End); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CreateAppointment checks the schedule and inserts in one SERIALIZABLE transaction. The
// exclusion constraint on appointment_items backs the same-employee rule independently.
func (s *PostgresStore) CreateAppointment(ctx context.Context, appt *model.Appointment, allowOverlap bool) error {
	now := time.Now().UTC()
	appt.ID = uuid.NewString()
	appt.CreatedAt = now
	appt.UpdatedAt = now

	return s.serializable(ctx, "create appointment", func(tx pgx.Tx) error {
		if err := checkDateOpen(ctx, tx, appt.BusinessID, appt.Date); err != nil {
			return err
		}
		if conflictID, err := s.findOverlap(ctx, tx, appt, allowOverlap); err != nil {
			return err
		} else if conflictID != "" {
			return &booking.ConflictError{AppointmentID: conflictID}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments
				(id, business_id, employee_id, client_id, client_name, client_phone, client_email,
				 appointment_date, start_time, end_time, status, reschedule_required,
				 total_price_cents, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, $10, $11, false, $12, $13, $14, $14)
		`, appt.ID, appt.BusinessID, appt.EmployeeID, nullable(appt.ClientID), appt.ClientName,
			appt.ClientPhone, appt.ClientEmail, appt.Date.String(), appt.StartTime, appt.EndTime,
			string(appt.Status), appt.TotalPriceCents, appt.Notes, now)
		if err != nil {
			return err
		}
		return insertItems(ctx, tx, appt)
	})
}

func (s *PostgresStore) GetAppointment(ctx context.Context, appointmentID string) (model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, appointmentID)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, translate("get appointment", err)
	}
	appts := []model.Appointment{appt}
	if err := s.loadItems(ctx, appts); err != nil {
		return model.Appointment{}, err
	}
	return appts[0], nil
}

func (s *PostgresStore) ListAppointments(ctx context.Context, businessID string, filter booking.ListFilter) ([]model.Appointment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND ($2::timestamptz IS NULL OR start_time >= $2)
			AND ($3::timestamptz IS NULL OR start_time < $3)
			AND ($4 = '' OR status = $4)
			AND (NOT $5 OR reschedule_required)
		ORDER BY start_time ASC
		LIMIT $6
	`, businessID, nullableTime(filter.From), nullableTime(filter.To), string(filter.Status),
		filter.RescheduleRequired, limit)
	if err != nil {
		return nil, translate("list appointments", err)
	}
	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, appts); err != nil {
		return nil, err
	}
	return appts, nil
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, appointmentID string, from, to model.Status, at time.Time, reason string) (model.Appointment, error) {
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET status = $3::text,
				updated_at = $4,
				cancelled_at = CASE WHEN $3::text = 'cancelled' THEN $4 ELSE cancelled_at END,
				cancellation_reason = CASE WHEN $3::text = 'cancelled' THEN $5 ELSE cancellation_reason END
			WHERE id = $1 AND status = $2
		`, appointmentID, string(from), string(to), at, reason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, appointmentID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return pgx.ErrNoRows
			}
			return booking.ErrStaleState
		}
		if to == model.StatusCancelled {
			_, err = tx.Exec(ctx, `UPDATE appointment_items SET active = false WHERE appointment_id = $1`, appointmentID)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, booking.ErrStaleState) {
			return model.Appointment{}, fmt.Errorf("transition status: %w", err)
		}
		return model.Appointment{}, translate("transition status", err)
	}
	return s.GetAppointment(ctx, appointmentID)
}

func (s *PostgresStore) FlagRescheduleRequired(ctx context.Context, businessID string, date timeutil.Date) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE appointments
		SET reschedule_required = true, updated_at = now()
		WHERE business_id = $1
			AND appointment_date = $2::date
			AND status IN ('pending', 'confirmed')
			AND NOT reschedule_required
		RETURNING `+appointmentColumns, businessID, date.String())
	if err != nil {
		return nil, translate("flag reschedule required", err)
	}
	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, appts); err != nil {
		return nil, err
	}
	return appts, nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, appt *model.Appointment, allowOverlap bool) error {
	now := time.Now().UTC()
	return s.serializable(ctx, "reschedule appointment", func(tx pgx.Tx) error {
		var flagged bool
		var status string
		err := tx.QueryRow(ctx, `
			SELECT reschedule_required, status FROM appointments WHERE id = $1 FOR UPDATE
		`, appt.ID).Scan(&flagged, &status)
		if err != nil {
			return err
		}
		if !flagged || model.Status(status).Terminal() {
			return booking.ErrStaleState
		}
		if err := checkDateOpen(ctx, tx, appt.BusinessID, appt.Date); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM appointment_items WHERE appointment_id = $1`, appt.ID); err != nil {
			return err
		}
		if conflictID, err := s.findOverlap(ctx, tx, appt, allowOverlap); err != nil {
			return err
		} else if conflictID != "" {
			return &booking.ConflictError{AppointmentID: conflictID}
		}
		_, err = tx.Exec(ctx, `
			UPDATE appointments
			SET appointment_date = $2::date,
				start_time = $3,
				end_time = $4,
				status = 'pending',
				reschedule_required = false,
				updated_at = $5
			WHERE id = $1
		`, appt.ID, appt.Date.String(), appt.StartTime, appt.EndTime, now)
		if err != nil {
			return err
		}
		appt.Status = model.StatusPending
		appt.RescheduleRequired = false
		appt.UpdatedAt = now
		return insertItems(ctx, tx, appt)
	})
}

// checkDateOpen share-locks the business row, which CloseDate updates, and fails with
// ErrDateClosed when date is closed. Inside a SERIALIZABLE transaction a closure committed
// after the snapshot makes the lock fail with a serialization failure, which is retried.
func checkDateOpen(ctx context.Context, tx pgx.Tx, businessID string, date timeutil.Date) error {
	if _, err := tx.Exec(ctx, `SELECT 1 FROM businesses WHERE id = $1 FOR SHARE`, businessID); err != nil {
		return err
	}
	var closed bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM business_closures WHERE business_id = $1 AND closed_date = $2::date
		)
	`, businessID, date.String()).Scan(&closed)
	if err != nil {
		return err
	}
	if closed {
		return booking.ErrDateClosed
	}
	return nil
}

// findOverlap returns the id of an active appointment colliding with appt, or "".
func (s *PostgresStore) findOverlap(ctx context.Context, tx pgx.Tx, appt *model.Appointment, allowOverlap bool) (string, error) {
	for _, it := range appt.Items {
		employeeFilter := ""
		if allowOverlap {
			employeeFilter = it.EmployeeID
		}
		var id string
		err := tx.QueryRow(ctx, `
			SELECT appointment_id::text
			FROM appointment_items
			WHERE business_id = $1
				AND active
				AND appointment_id <> $2
				AND ($3 = '' OR employee_id::text = $3)
				AND start_time < $5
				AND end_time > $4
			ORDER BY start_time
			LIMIT 1
		`, appt.BusinessID, appt.ID, employeeFilter, it.StartTime, it.EndTime).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", err
		}
		return id, nil
	}
	return "", nil
}

func insertItems(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	batch := &pgx.Batch{}
	for i, it := range appt.Items {
		batch.Queue(`
			INSERT INTO appointment_items
				(appointment_id, position, business_id, service_id, service_name, employee_id,
				 start_time, end_time, price_cents, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true)
		`, appt.ID, i, appt.BusinessID, it.ServiceID, it.ServiceName, it.EmployeeID,
			it.StartTime, it.EndTime, it.PriceCents)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) loadItems(ctx context.Context, appts []model.Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	ids := make([]string, len(appts))
	index := make(map[string]int, len(appts))
	for i, a := range appts {
		ids[i] = a.ID
		index[a.ID] = i
	}
	rows, err := s.pool.Query(ctx, `
		SELECT appointment_id::text, service_id::text, service_name, employee_id::text,
			start_time, end_time, price_cents
		FROM appointment_items
		WHERE appointment_id::text = ANY($1)
		ORDER BY appointment_id, position
	`, ids)
	if err != nil {
		return translate("load appointment items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var apptID string
		var it model.AppointmentItem
		if err := rows.Scan(&apptID, &it.ServiceID, &it.ServiceName, &it.EmployeeID, &it.StartTime, &it.EndTime, &it.PriceCents); err != nil {
			return err
		}
		if i, ok := index[apptID]; ok {
			appts[i].Items = append(appts[i].Items, it)
		}
	}
	return rows.Err()
}

// serializable runs fn in a SERIALIZABLE transaction, retrying serialization failures. When
// retries are exhausted, or the exclusion constraint fires, the write is a conflict.
func (s *PostgresStore) serializable(ctx context.Context, what string, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < serializableAttempts; attempt++ {
		err = s.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
		if !IsSerializationFailure(err) {
			break
		}
	}
	var ce *booking.ConflictError
	if err == nil || errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, booking.ErrStaleState) || errors.Is(err, booking.ErrDateClosed) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return translate(what, err)
}

func (s *PostgresStore) inTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var date, status string
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.EmployeeID,
		&appt.ClientID,
		&appt.ClientName,
		&appt.ClientPhone,
		&appt.ClientEmail,
		&date,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&appt.RescheduleRequired,
		&appt.TotalPriceCents,
		&appt.Notes,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	d, err := timeutil.ParseLocalDate(date)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Date = d
	appt.Status = model.Status(status)
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, translate("scan appointments", rows.Err())
	}
	return appts, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
