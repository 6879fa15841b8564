package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/havenmind/therapy-booking/internal/redisclient"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentDeclined  = "APPOINTMENT_DECLINED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

var (
	ErrSlotConflict      = errors.New("slot conflicts with an existing appointment or working hours")
	ErrSlotBeingBooked   = errors.New("slot is currently being booked, please retry")
	ErrAlreadyTerminal   = errors.New("appointment is already in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Ledger is the single source of truth for appointment lifecycle
// state. No other component writes appointment status; they issue
// requests here.
type Ledger struct {
	repo   Repository
	locker redisclient.Locker
	avail  *Availability
	log    zerolog.Logger
}

func NewLedger(repo Repository, locker redisclient.Locker, avail *Availability, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		locker: locker,
		avail:  avail,
		log:    log.With().Str("component", "ledger").Logger(),
	}
}

// CreatePending reserves a slot as a PENDING appointment awaiting
// coordinator approval. The availability check and the insert run
// inside a per-slot lock so two concurrent requests for the same slot
// yield one PENDING row and one ErrSlotConflict, never two rows.
func (l *Ledger) CreatePending(ctx context.Context, clientID, therapistID uuid.UUID, serviceName string, start time.Time, notes string) (*Appointment, error) {
	therapist, err := l.repo.GetTherapistByID(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("load therapist: %w", err)
	}

	svc, err := l.resolveService(ctx, therapist.ID, serviceName)
	if err != nil {
		return nil, err
	}

	var created *Appointment

	err = l.locker.WithLock(ctx, redisclient.SlotLockKey(therapistID, start), func(lockCtx context.Context) error {
		free, err := l.avail.isFree(lockCtx, therapistID, start, svc.DurationMinutes, nil)
		if err != nil {
			return fmt.Errorf("availability check: %w", err)
		}
		if !free {
			return ErrSlotConflict
		}

		appt, err := l.repo.CreatePendingAppointment(lockCtx, &Appointment{
			ID:              uuid.New(),
			ClientID:        clientID,
			TherapistID:     therapistID,
			ServiceName:     svc.Name,
			DurationMinutes: svc.DurationMinutes,
			ProposedAt:      start,
			Status:          StatusPending,
			ClientNotes:     notes,
		})
		if err != nil {
			return fmt.Errorf("create pending appointment: %w", err)
		}

		created = appt
		l.logEvent(lockCtx, appt.ID, EventAppointmentCreated, map[string]any{
			"code":         appt.Code,
			"client_id":    clientID.String(),
			"therapist_id": therapistID.String(),
			"service":      svc.Name,
			"proposed_at":  start,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	l.log.Info().Int64("code", created.Code).Str("appointment_id", created.ID.String()).Msg("pending appointment created")
	return created, nil
}

// Confirm moves a pending appointment to confirmed. The slot is
// re-checked against other non-terminal appointments first, because a
// conflicting booking may have been confirmed while this one waited
// for the coordinator. On conflict the appointment stays PENDING so
// the coordinator can be asked to pick an alternative.
func (l *Ledger) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}
	if !appt.Status.CanTransitionTo(StatusConfirmed) {
		return nil, ErrInvalidTransition
	}

	var updated *Appointment

	err = l.locker.WithLock(ctx, redisclient.SlotLockKey(appt.TherapistID, appt.ProposedAt), func(lockCtx context.Context) error {
		free, err := l.avail.isFree(lockCtx, appt.TherapistID, appt.ProposedAt, appt.DurationMinutes, &appt.ID)
		if err != nil {
			return fmt.Errorf("availability recheck: %w", err)
		}
		if !free {
			return ErrSlotConflict
		}

		updated, err = l.repo.UpdateAppointmentStatus(lockCtx, appt.ID, StatusPending, StatusConfirmed, "")
		if err != nil {
			return fmt.Errorf("confirm appointment: %w", err)
		}

		l.logEvent(lockCtx, updated.ID, EventAppointmentConfirmed, map[string]any{"code": updated.Code})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	l.log.Info().Int64("code", updated.Code).Msg("appointment confirmed")
	return updated, nil
}

// Decline cancels a pending appointment on the coordinator's behalf.
// It owns only the PENDING edge: a confirmed appointment is out of
// decline's reach and comes down through Cancel.
func (l *Ledger) Decline(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	updated, err := l.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled, reason)
	if err != nil {
		return nil, fmt.Errorf("decline appointment: %w", err)
	}

	l.logEvent(ctx, updated.ID, EventAppointmentDeclined, map[string]any{"code": updated.Code, "reason": reason})
	return updated, nil
}

// Complete marks a confirmed appointment as delivered.
func (l *Ledger) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}
	if !appt.Status.CanTransitionTo(StatusCompleted) {
		return nil, ErrInvalidTransition
	}

	updated, err := l.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted, "")
	if err != nil {
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	l.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{"code": updated.Code})
	return updated, nil
}

// Cancel cancels a pending or confirmed appointment (client-initiated
// before approval, or post-confirmation cancellation).
func (l *Ledger) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}
	if !appt.Status.CanTransitionTo(StatusCancelled) {
		return nil, ErrInvalidTransition
	}

	updated, err := l.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	l.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{"code": updated.Code, "reason": reason})
	return updated, nil
}

// GetOrCreateUser looks a user up by phone, creating a fresh record
// with the given role when the number is unknown.
func (l *Ledger) GetOrCreateUser(ctx context.Context, phone, name string, role Role) (*User, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}

	user, err := l.repo.GetUserByPhone(ctx, phone)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if name == "" && len(phone) >= 4 {
		name = fmt.Sprintf("Client %s", phone[len(phone)-4:])
	}

	created, err := l.repo.CreateUser(ctx, phone, name, role)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	l.log.Info().Str("phone", phone).Str("role", string(role)).Msg("user created")
	return created, nil
}

func (l *Ledger) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := l.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

func (l *Ledger) GetAppointmentByCode(ctx context.Context, code int64) (*Appointment, error) {
	return l.repo.GetAppointmentByCode(ctx, code)
}

func (l *Ledger) ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	appointments, err := l.repo.ListAppointmentsByClient(ctx, clientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by client: %w", err)
	}
	return appointments, nil
}

// resolveService matches the requested service name against the
// therapist's catalog, case-insensitively. An empty name picks the
// first offering.
func (l *Ledger) resolveService(ctx context.Context, therapistID uuid.UUID, name string) (*Service, error) {
	services, err := l.repo.ListServices(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	if len(services) == 0 {
		return nil, ErrServiceNotFound
	}
	if strings.TrimSpace(name) == "" {
		return &services[0], nil
	}

	want := strings.ToLower(strings.TrimSpace(name))
	for i := range services {
		if strings.ToLower(services[i].Name) == want {
			return &services[i], nil
		}
	}
	for i := range services {
		if strings.Contains(strings.ToLower(services[i].Name), want) {
			return &services[i], nil
		}
	}
	return nil, ErrServiceNotFound
}

func (l *Ledger) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := l.repo.InsertEvent(ctx, ev); err != nil {
		l.log.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).Msg("insert event log")
	}
}
