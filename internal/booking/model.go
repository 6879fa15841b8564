package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of actor roles. Every write boundary goes
// through ParseRole; there is no fallback value for unknown text.
type Role string

const (
	RoleClient      Role = "client"
	RoleTherapist   Role = "therapist"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleClient, RoleTherapist, RoleCoordinator, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// validTransitions is the appointment lifecycle. PENDING is the only
// entry state; CANCELLED and COMPLETED are absorbing.
var validTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ServiceKind says where a service can be delivered.
type ServiceKind string

const (
	KindInCall  ServiceKind = "in_call"  // client visits the practice
	KindOutCall ServiceKind = "out_call" // therapist visits the client
)

// User is any actor addressed by phone number: clients, therapists,
// the coordinator, admins. Phone is the natural key across the system.
type User struct {
	ID        uuid.UUID
	Phone     string
	Name      string
	Role      Role
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Therapist extends a user identity with offerings and working hours.
// Created by administrative provisioning only.
type Therapist struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Service struct {
	ID              uuid.UUID
	TherapistID     uuid.UUID
	Name            string
	DurationMinutes int
	Kind            ServiceKind
	CreatedAt       time.Time
}

// WorkingHours is one weekday window in a therapist's schedule.
// Start and End use the "HH:MM" wall-clock form.
type WorkingHours struct {
	ID          uuid.UUID
	TherapistID uuid.UUID
	Weekday     time.Weekday
	Start       string
	End         string
	Available   bool
}

// Appointment is the central mutable entity. Code is a short sequence
// number used when talking to humans (the coordinator replies
// "APPROVE 42"); ID stays the stable machine key.
type Appointment struct {
	ID               uuid.UUID
	Code             int64
	ClientID         uuid.UUID
	TherapistID      uuid.UUID
	ServiceName      string
	DurationMinutes  int
	ProposedAt       time.Time
	ConfirmedAt      *time.Time
	Status           AppointmentStatus
	ClientNotes      string
	CoordinatorNotes string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// End returns the exclusive end of the appointment interval.
func (a *Appointment) End() time.Time {
	return a.ProposedAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail hydrates an appointment with its people.
type AppointmentDetail struct {
	Appointment
	Client    *User
	Therapist *Therapist
}
