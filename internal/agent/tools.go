package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/havenmind/therapy-booking/internal/booking"
	"github.com/havenmind/therapy-booking/internal/dateparse"
)

// Ledger is the booking surface the agent writes through.
type Ledger interface {
	CreatePending(ctx context.Context, clientID, therapistID uuid.UUID, serviceName string, start time.Time, notes string) (*booking.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*booking.Appointment, error)
	GetOrCreateUser(ctx context.Context, phone, name string, role booking.Role) (*booking.User, error)
}

// Directory is the read-only people-and-offerings lookup.
type Directory interface {
	GetTherapistByName(ctx context.Context, name string) (*booking.Therapist, error)
	ListActiveTherapists(ctx context.Context) ([]booking.Therapist, error)
	ListServices(ctx context.Context, therapistID uuid.UUID) ([]booking.Service, error)
}

// Scheduler answers slot questions.
type Scheduler interface {
	IsAvailable(ctx context.Context, therapistID uuid.UUID, start time.Time, durationMinutes int) (bool, error)
	FindNextAvailable(ctx context.Context, therapistID uuid.UUID, onOrAfter time.Time, durationMinutes int) (time.Time, error)
}

// Approvals opens the coordinator review for a new booking.
type Approvals interface {
	RequestApproval(ctx context.Context, appointmentID uuid.UUID) error
}

// Toolset is the fixed set of actions an agent may take on behalf of a
// client. Each tool validates its own inputs; the agent only sequences
// them.
type Toolset struct {
	ledger           Ledger
	directory        Directory
	scheduler        Scheduler
	approvals        Approvals
	coordinatorPhone string
	log              zerolog.Logger
}

func NewToolset(ledger Ledger, directory Directory, scheduler Scheduler, approvals Approvals, coordinatorPhone string, log zerolog.Logger) *Toolset {
	return &Toolset{
		ledger:           ledger,
		directory:        directory,
		scheduler:        scheduler,
		approvals:        approvals,
		coordinatorPhone: coordinatorPhone,
		log:              log.With().Str("component", "agent-tools").Logger(),
	}
}

// CoordinatorPhone hands out the human escalation contact.
func (t *Toolset) CoordinatorPhone() string {
	return t.coordinatorPhone
}

// ResolveWhen combines a date phrase and a time phrase into a concrete
// start instant in now's location.
func (t *Toolset) ResolveWhen(datePhrase, timePhrase string, now time.Time) (time.Time, error) {
	day, err := dateparse.Resolve(datePhrase, now)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := dateparse.ResolveTime(timePhrase)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()), nil
}

// PickTherapist resolves a name fragment against the active roster. An
// empty name picks the sole active therapist when there is exactly
// one; with several on staff the caller must name one.
func (t *Toolset) PickTherapist(ctx context.Context, name string) (*booking.Therapist, error) {
	therapists, err := t.directory.ListActiveTherapists(ctx)
	if err != nil {
		return nil, fmt.Errorf("list therapists: %w", err)
	}
	if len(therapists) == 0 {
		return nil, booking.ErrTherapistNotFound
	}

	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		if len(therapists) == 1 {
			return &therapists[0], nil
		}
		return nil, booking.ErrTherapistNotFound
	}

	for i := range therapists {
		if strings.Contains(strings.ToLower(therapists[i].Name), want) {
			return &therapists[i], nil
		}
	}
	return nil, booking.ErrTherapistNotFound
}

// Services lists a therapist's offerings.
func (t *Toolset) Services(ctx context.Context, therapistID uuid.UUID) ([]booking.Service, error) {
	return t.directory.ListServices(ctx, therapistID)
}

// Roster lists the active therapists.
func (t *Toolset) Roster(ctx context.Context) ([]booking.Therapist, error) {
	return t.directory.ListActiveTherapists(ctx)
}

// CheckAvailability reports whether the slot is free and, when it is
// not, the next open alternative (zero time when none within the
// horizon).
func (t *Toolset) CheckAvailability(ctx context.Context, therapistID uuid.UUID, start time.Time, durationMinutes int) (bool, time.Time, error) {
	free, err := t.scheduler.IsAvailable(ctx, therapistID, start, durationMinutes)
	if err != nil {
		return false, time.Time{}, err
	}
	if free {
		return true, time.Time{}, nil
	}

	alt, err := t.scheduler.FindNextAvailable(ctx, therapistID, start, durationMinutes)
	if err != nil {
		if errors.Is(err, booking.ErrNoSlotAvailable) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return false, alt, nil
}

// Book creates the pending appointment and opens its approval request
// in one motion. A failed approval hand-off does not undo the booking;
// the expiry worker will sweep an orphaned request.
func (t *Toolset) Book(ctx context.Context, clientID, therapistID uuid.UUID, serviceName string, start time.Time, notes string) (*booking.Appointment, error) {
	appt, err := t.ledger.CreatePending(ctx, clientID, therapistID, serviceName, start, notes)
	if err != nil {
		return nil, err
	}

	if err := t.approvals.RequestApproval(ctx, appt.ID); err != nil {
		t.log.Error().Err(err).Int64("code", appt.Code).Msg("open approval request")
	}

	return appt, nil
}

// CancelPending cancels the client's own in-flight appointment.
func (t *Toolset) CancelPending(ctx context.Context, appointmentID uuid.UUID) (*booking.Appointment, error) {
	return t.ledger.Cancel(ctx, appointmentID, "cancelled by client")
}
