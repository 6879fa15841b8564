package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/havenmind/therapy-booking/internal/booking"
	"github.com/havenmind/therapy-booking/internal/gateway"
	"github.com/havenmind/therapy-booking/internal/redisclient"
)

const maxWebhookBody = 64 << 10

// webhookHandler is the inbound chat entry point. It always answers
// 200: dedup has already recorded the event, so asking the transport
// to redeliver can never help.
func webhookHandler(ingestor Ingestor, chat InboundHandler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(w, http.StatusOK, WebhookResponse{Status: "error"})
			return
		}

		msg, err := ingestor.Ingest(r.Context(), raw)
		if err != nil {
			switch {
			case errors.Is(err, gateway.ErrDuplicate):
				writeJSON(w, http.StatusOK, WebhookResponse{Status: "duplicate"})
			case errors.Is(err, gateway.ErrIgnored):
				writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
			case errors.Is(err, gateway.ErrMalformed):
				writeJSON(w, http.StatusOK, WebhookResponse{Status: "invalid"})
			default:
				log.Error().Err(err).Msg("webhook ingest")
				writeJSON(w, http.StatusOK, WebhookResponse{Status: "error"})
			}
			return
		}

		if err := chat.HandleInbound(r.Context(), msg); err != nil {
			log.Error().Err(err).Str("external_id", msg.ExternalID).Msg("handle inbound message")
			writeJSON(w, http.StatusOK, WebhookResponse{Status: "error"})
			return
		}

		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ok"})
	}
}

func getAppointmentHandler(svc *booking.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentDetailResponse(detail))
	}
}

func getAppointmentByCodeHandler(svc *booking.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.ParseInt(chi.URLParam(r, "code"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_code", "code must be an integer")
			return
		}

		appt, err := svc.GetAppointmentByCode(r.Context(), code)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *booking.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, err := uuid.Parse(r.URL.Query().Get("client_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a valid UUID")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appointments, err := svc.ListAppointmentsByClient(r.Context(), clientID, limit, offset)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appointments))
		for i := range appointments {
			out = append(out, toAppointmentResponse(&appointments[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// transitionHandler covers confirm and complete, the transitions that
// take no body.
func transitionHandler(op func(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := op(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// cancelStyleHandler covers decline and cancel, which carry an
// optional reason.
func cancelStyleHandler(op func(ctx context.Context, id uuid.UUID, reason string) (*booking.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		appt, err := op(r.Context(), id, req.Reason)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listTherapistsHandler(repo booking.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapists, err := repo.ListActiveTherapists(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]TherapistResponse, 0, len(therapists))
		for _, t := range therapists {
			resp := TherapistResponse{ID: t.ID, Name: t.Name}
			services, err := repo.ListServices(r.Context(), t.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
				return
			}
			for _, s := range services {
				resp.Services = append(resp.Services, ServiceResponse{
					ID:              s.ID,
					Name:            s.Name,
					DurationMinutes: s.DurationMinutes,
					Kind:            string(s.Kind),
				})
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func availabilityHandler(avail *booking.Availability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_therapist_id", "id must be a valid UUID")
			return
		}

		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC3339")
			return
		}

		duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
		if err != nil || duration <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive number of minutes")
			return
		}

		free, err := avail.IsAvailable(r.Context(), therapistID, start, duration)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		resp := AvailabilityResponse{Available: free}
		if !free {
			next, err := avail.FindNextAvailable(r.Context(), therapistID, start, duration)
			if err == nil {
				resp.NextAvailable = &next
			} else if !errors.Is(err, booking.ErrNoSlotAvailable) {
				handleBookingError(w, err)
				return
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, booking.ErrTherapistNotFound):
		writeError(w, http.StatusNotFound, "therapist_not_found", err.Error())
	case errors.Is(err, booking.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, booking.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "appointment_closed", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
