// Package compat decides which employees can perform a set of services.
package compat

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// CapabilityLookup returns, per employee id, the ids of the services that employee performs.
// Employees without any capability may be absent from the map.
type CapabilityLookup interface {
	ServiceIDsByEmployee(ctx context.Context, businessID string, employeeIDs []string) (map[string][]string, error)
}

// Filter keeps the employees able to perform every service in serviceIDs, preserving order.
// An empty selection returns employees unchanged.
func Filter(serviceIDs []string, employees []model.Employee, caps map[string][]string) []model.Employee {
	if len(serviceIDs) == 0 {
		return employees
	}
	out := make([]model.Employee, 0, len(employees))
	for _, e := range employees {
		if canPerformAll(caps[e.ID], serviceIDs) {
			out = append(out, e)
		}
	}
	return out
}

// CanPerform reports whether caps covers serviceID.
func CanPerform(caps []string, serviceID string) bool {
	for _, c := range caps {
		if c == serviceID {
			return true
		}
	}
	return false
}

func canPerformAll(caps []string, serviceIDs []string) bool {
	for _, s := range serviceIDs {
		if !CanPerform(caps, s) {
			return false
		}
	}
	return true
}

// Result is the outcome of FilterEmployees. Degraded means capabilities could not be loaded
// and Employees is the unfiltered input.
type Result struct {
	Employees []model.Employee
	Degraded  bool
}

type Resolver struct {
	lookup CapabilityLookup
	logger *slog.Logger
}

func NewResolver(lookup CapabilityLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// FilterEmployees narrows employees to those compatible with serviceIDs. A failing lookup
// does not block the caller: the full list is returned flagged Degraded. Booking re-checks
// compatibility authoritatively, so a degraded list only widens what a client may try.
func (r *Resolver) FilterEmployees(ctx context.Context, businessID string, serviceIDs []string, employees []model.Employee) Result {
	if len(serviceIDs) == 0 || len(employees) == 0 {
		return Result{Employees: employees}
	}
	ids := make([]string, 0, len(employees))
	for _, e := range employees {
		ids = append(ids, e.ID)
	}
	caps, err := r.lookup.ServiceIDsByEmployee(ctx, businessID, ids)
	if err != nil {
		r.logger.Warn("capability lookup failed, returning unfiltered employees",
			"business_id", businessID, "err", err)
		return Result{Employees: employees, Degraded: true}
	}
	return Result{Employees: Filter(serviceIDs, employees, caps)}
}

// HasNoEligibleEmployees distinguishes "nobody can do this combination" from "nothing selected".
func HasNoEligibleEmployees(serviceIDs []string, res Result) bool {
	return len(serviceIDs) > 0 && len(res.Employees) == 0
}
