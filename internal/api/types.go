package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/havenmind/therapy-booking/internal/booking"
)

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	Code            int64      `json:"code"`
	ClientID        uuid.UUID  `json:"client_id"`
	TherapistID     uuid.UUID  `json:"therapist_id"`
	ServiceName     string     `json:"service_name"`
	DurationMinutes int        `json:"duration_minutes"`
	ProposedAt      time.Time  `json:"proposed_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	Status          string     `json:"status"`
	ClientName      string     `json:"client_name,omitempty"`
	TherapistName   string     `json:"therapist_name,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		Code:            a.Code,
		ClientID:        a.ClientID,
		TherapistID:     a.TherapistID,
		ServiceName:     a.ServiceName,
		DurationMinutes: a.DurationMinutes,
		ProposedAt:      a.ProposedAt,
		ConfirmedAt:     a.ConfirmedAt,
		Status:          string(a.Status),
	}
}

func toAppointmentDetailResponse(d *booking.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(&d.Appointment)
	if d.Client != nil {
		resp.ClientName = d.Client.Name
	}
	if d.Therapist != nil {
		resp.TherapistName = d.Therapist.Name
	}
	return resp
}

type TherapistResponse struct {
	ID       uuid.UUID         `json:"id"`
	Name     string            `json:"name"`
	Services []ServiceResponse `json:"services,omitempty"`
}

type ServiceResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	Kind            string    `json:"kind"`
}

type AvailabilityResponse struct {
	Available     bool       `json:"available"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// WebhookResponse is always delivered with HTTP 200: the transport
// treats any non-200 as a delivery failure and retries, and a retry of
// an already-recorded event can only be a duplicate.
type WebhookResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
