package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

func validateBusiness(b model.Business) error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: business name is required", booking.ErrInvalidRequest)
	}
	if b.ClosesAt != 0 && b.ClosesAt <= b.OpensAt {
		return fmt.Errorf("%w: closes_at must be after opens_at", booking.ErrInvalidRequest)
	}
	if b.MaxMonthlyCancellations != nil && *b.MaxMonthlyCancellations < 0 {
		return fmt.Errorf("%w: max_monthly_cancellations cannot be negative", booking.ErrInvalidRequest)
	}
	return nil
}

func validateService(svc model.Service) error {
	if strings.TrimSpace(svc.Name) == "" {
		return fmt.Errorf("%w: service name is required", booking.ErrInvalidRequest)
	}
	if svc.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be positive", booking.ErrInvalidRequest)
	}
	if svc.PriceCents < 0 {
		return fmt.Errorf("%w: price cannot be negative", booking.ErrInvalidRequest)
	}
	return nil
}

// UpsertBusiness creates the business, or replaces its settings when b.ID already exists.
func (s *PostgresStore) UpsertBusiness(ctx context.Context, b model.Business) (model.Business, error) {
	if err := validateBusiness(b); err != nil {
		return model.Business{}, err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.SlotStepMinutes <= 0 {
		b.SlotStepMinutes = 15
	}
	var maxCancellations *int32
	if b.MaxMonthlyCancellations != nil {
		n := int32(*b.MaxMonthlyCancellations)
		maxCancellations = &n
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO businesses
			(id, name, phone, timezone, active, allow_overlap, max_monthly_cancellations,
			 opens_at, closes_at, slot_step_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			timezone = EXCLUDED.timezone,
			active = EXCLUDED.active,
			allow_overlap = EXCLUDED.allow_overlap,
			max_monthly_cancellations = EXCLUDED.max_monthly_cancellations,
			opens_at = EXCLUDED.opens_at,
			closes_at = EXCLUDED.closes_at,
			slot_step_minutes = EXCLUDED.slot_step_minutes,
			updated_at = now()
	`, b.ID, b.Name, b.Phone, b.Timezone, b.Active, b.AllowOverlap, maxCancellations,
		int(b.OpensAt), int(b.ClosesAt), b.SlotStepMinutes)
	if err != nil {
		return model.Business{}, translate("upsert business", err)
	}
	return b, nil
}

func (s *PostgresStore) CreateService(ctx context.Context, svc model.Service) (model.Service, error) {
	if err := validateService(svc); err != nil {
		return model.Service{}, err
	}
	svc.ID = uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (id, business_id, name, duration_minutes, price_cents, active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, svc.ID, svc.BusinessID, svc.Name, svc.DurationMinutes, svc.PriceCents, svc.Active)
	if err != nil {
		return model.Service{}, translate("create service", err)
	}
	return svc, nil
}

func (s *PostgresStore) ListServices(ctx context.Context, businessID string) ([]model.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price_cents, active
		FROM services
		WHERE business_id = $1
		ORDER BY name, id
	`, businessID)
	if err != nil {
		return nil, translate("list services", err)
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.BusinessID, &svc.Name, &svc.DurationMinutes, &svc.PriceCents, &svc.Active); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CreateEmployee inserts the employee with its capable services. Every service must belong to
// the same business.
func (s *PostgresStore) CreateEmployee(ctx context.Context, emp model.Employee, serviceIDs []string) (model.Employee, error) {
	if strings.TrimSpace(emp.Name) == "" {
		return model.Employee{}, fmt.Errorf("%w: employee name is required", booking.ErrInvalidRequest)
	}
	emp.ID = uuid.NewString()
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO employees (id, business_id, name, active)
			VALUES ($1, $2, $3, $4)
		`, emp.ID, emp.BusinessID, emp.Name, emp.Active)
		if err != nil {
			return err
		}
		if len(serviceIDs) == 0 {
			return nil
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO employee_services (employee_id, service_id)
			SELECT $1, id FROM services WHERE business_id = $2 AND id::text = ANY($3)
			ON CONFLICT DO NOTHING
		`, emp.ID, emp.BusinessID, dedupe(serviceIDs))
		if err != nil {
			return err
		}
		if int(tag.RowsAffected()) != len(dedupe(serviceIDs)) {
			return fmt.Errorf("%w: unknown service for this business", booking.ErrInvalidRequest)
		}
		return nil
	})
	if err != nil {
		return model.Employee{}, translate("create employee", err)
	}
	return emp, nil
}

// SetEmployeeServices replaces the employee's capability rows in one transaction.
func (s *PostgresStore) SetEmployeeServices(ctx context.Context, businessID, employeeID string, serviceIDs []string) error {
	ids := dedupe(serviceIDs)
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx, `
			SELECT 1 FROM employees WHERE id = $1 AND business_id = $2 FOR UPDATE
		`, employeeID, businessID).Scan(&one)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM employee_services WHERE employee_id = $1`, employeeID); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO employee_services (employee_id, service_id)
			SELECT $1, id FROM services WHERE business_id = $2 AND id::text = ANY($3)
		`, employeeID, businessID, ids)
		if err != nil {
			return err
		}
		if int(tag.RowsAffected()) != len(ids) {
			return fmt.Errorf("%w: unknown service for this business", booking.ErrInvalidRequest)
		}
		return nil
	})
	if err != nil {
		return translate("set employee services", err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
