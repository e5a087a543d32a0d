package model

import "github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeutil"

type Business struct {
	ID       string
	Name     string
	Phone    string
	Timezone string
	Active   bool
	// AllowOverlap lets different employees be booked at the same time. It never allows the
	// same employee to be double-booked.
	AllowOverlap bool
	// MaxMonthlyCancellations overrides the platform default when set. Zero disables blocking.
	MaxMonthlyCancellations *int
	OpensAt                 timeutil.Clock
	ClosesAt                timeutil.Clock
	SlotStepMinutes         int
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	PriceCents      int64
	Active          bool
}

type Employee struct {
	ID         string
	BusinessID string
	Name       string
	Active     bool
}
