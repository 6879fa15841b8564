package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrTherapistNotFound   = errors.New("therapist not found")
	ErrServiceNotFound     = errors.New("service not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the ledger and the
// availability index. The ledger is the only writer of appointment
// state; everything else goes through it.
type Repository interface {
	GetUserByPhone(ctx context.Context, phone string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	CreateUser(ctx context.Context, phone, name string, role Role) (*User, error)

	GetTherapistByID(ctx context.Context, id uuid.UUID) (*Therapist, error)
	GetTherapistByName(ctx context.Context, name string) (*Therapist, error)
	ListActiveTherapists(ctx context.Context) ([]Therapist, error)
	ListServices(ctx context.Context, therapistID uuid.UUID) ([]Service, error)
	ListWorkingHours(ctx context.Context, therapistID uuid.UUID) ([]WorkingHours, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByCode(ctx context.Context, code int64) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]Appointment, error)
	// ListAppointmentsInRange returns appointments whose proposed start
	// falls in [from, to), any status, ordered by start.
	ListAppointmentsInRange(ctx context.Context, from, to time.Time) ([]Appointment, error)

	// CountOverlapping counts non-terminal appointments for the therapist
	// whose [proposed, proposed+duration) interval intersects [start, end),
	// half-open on both sides. exclude is skipped when non-nil so confirm
	// can re-check against everyone but itself.
	CountOverlapping(ctx context.Context, therapistID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (int, error)

	CreatePendingAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-swap: the row only moves
	// when its current status equals from. Moving to confirmed also
	// copies proposed_datetime into confirmed_datetime.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, note string) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
