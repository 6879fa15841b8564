package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/havenmind/therapy-booking/internal/booking"
	"github.com/havenmind/therapy-booking/internal/notify"
)

// Ledger is the slice of the booking ledger the protocol drives.
type Ledger interface {
	Confirm(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	Decline(ctx context.Context, id uuid.UUID, reason string) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.AppointmentDetail, error)
}

// SlotFinder suggests the next open slot after a decline.
type SlotFinder interface {
	FindNextAvailable(ctx context.Context, therapistID uuid.UUID, onOrAfter time.Time, durationMinutes int) (time.Time, error)
}

type Protocol struct {
	store            Store
	ledger           Ledger
	finder           SlotFinder
	messenger        notify.Messenger
	coordinatorPhone string
	timeout          time.Duration
	log              zerolog.Logger
}

func NewProtocol(store Store, ledger Ledger, finder SlotFinder, messenger notify.Messenger, coordinatorPhone string, timeout time.Duration, log zerolog.Logger) *Protocol {
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &Protocol{
		store:            store,
		ledger:           ledger,
		finder:           finder,
		messenger:        messenger,
		coordinatorPhone: coordinatorPhone,
		timeout:          timeout,
		log:              log.With().Str("component", "approval").Logger(),
	}
}

// RequestApproval opens a request for a freshly created pending
// appointment and puts the decision card in front of the coordinator.
func (p *Protocol) RequestApproval(ctx context.Context, appointmentID uuid.UUID) error {
	detail, err := p.ledger.GetAppointment(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("load appointment for approval: %w", err)
	}

	req := &Request{
		AppointmentID:   detail.ID,
		AppointmentCode: detail.Code,
	}
	if err := p.store.Create(ctx, req); err != nil {
		return err
	}

	if err := p.messenger.SendText(ctx, p.coordinatorPhone, notify.ApprovalCard(detail)); err != nil {
		// The request row exists either way; the worker's reminder on
		// expiry is the safety net for a lost card.
		p.log.Error().Err(err).Int64("code", detail.Code).Msg("send approval card")
	}

	p.log.Info().Int64("code", detail.Code).Str("appointment_id", detail.ID.String()).Msg("approval requested")
	return nil
}

// HandleReply processes one coordinator message and returns the text
// to answer the coordinator with. ErrNotDecision means the message is
// not a verdict at all and should fall through to normal handling.
func (p *Protocol) HandleReply(ctx context.Context, body string) (string, error) {
	verdict, code, err := ParseDecision(body)
	if err != nil {
		return "", err
	}

	req, reply, err := p.findTarget(ctx, code)
	if err != nil {
		return "", err
	}
	if req == nil {
		return reply, nil
	}

	switch verdict {
	case VerdictApprove:
		return p.approve(ctx, req)
	default:
		return p.decline(ctx, req)
	}
}

// findTarget picks which awaiting request a reply refers to. An
// explicit code wins; otherwise the reply only binds when exactly one
// request is open. With several open, the returned reply asks the
// coordinator to disambiguate rather than guessing.
func (p *Protocol) findTarget(ctx context.Context, code int64) (*Request, string, error) {
	if code > 0 {
		req, err := p.store.GetAwaitingByCode(ctx, code)
		if err != nil {
			if errors.Is(err, ErrRequestNotFound) {
				return nil, fmt.Sprintf("There is no pending request #%d.", code), nil
			}
			return nil, "", err
		}
		return req, "", nil
	}

	awaiting, err := p.store.ListAwaiting(ctx)
	if err != nil {
		return nil, "", err
	}

	switch len(awaiting) {
	case 0:
		return nil, "There are no booking requests waiting for a decision.", nil
	case 1:
		return &awaiting[0], "", nil
	default:
		codes := make([]string, len(awaiting))
		for i, r := range awaiting {
			codes[i] = fmt.Sprintf("#%d", r.AppointmentCode)
		}
		return nil, fmt.Sprintf(
			"Several requests are waiting (%s). Please include the number, e.g. APPROVE %d.",
			strings.Join(codes, ", "), awaiting[0].AppointmentCode), nil
	}
}

func (p *Protocol) approve(ctx context.Context, req *Request) (string, error) {
	appt, err := p.ledger.Confirm(ctx, req.AppointmentID)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrSlotConflict):
			// The slot was taken while the request waited. The request
			// stays open so the coordinator can still decline it.
			return notify.CoordinatorConflict(req.AppointmentCode), nil
		case errors.Is(err, booking.ErrAlreadyTerminal):
			if _, rerr := p.store.Resolve(ctx, req.ID, StatusExpired); rerr != nil && !errors.Is(rerr, ErrRequestNotFound) {
				return "", rerr
			}
			return fmt.Sprintf("Request #%d is no longer active.", req.AppointmentCode), nil
		default:
			return "", fmt.Errorf("approve request #%d: %w", req.AppointmentCode, err)
		}
	}

	if _, err := p.store.Resolve(ctx, req.ID, StatusApproved); err != nil && !errors.Is(err, ErrRequestNotFound) {
		return "", err
	}

	p.notifyClient(ctx, appt.ID, func(detail *booking.AppointmentDetail) string {
		return notify.ClientConfirmed(appt, detail.Therapist.Name)
	})

	p.log.Info().Int64("code", req.AppointmentCode).Msg("request approved")
	return fmt.Sprintf("Request #%d approved and the client has been notified.", req.AppointmentCode), nil
}

func (p *Protocol) decline(ctx context.Context, req *Request) (string, error) {
	appt, err := p.ledger.Decline(ctx, req.AppointmentID, "declined by coordinator")
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrAlreadyTerminal):
			// Already closed; just resolve the request below.
		case errors.Is(err, booking.ErrInvalidTransition):
			// Confirmed in the meantime, e.g. through the API. The
			// appointment stands; the request only catches up.
			if _, rerr := p.store.Resolve(ctx, req.ID, StatusApproved); rerr != nil && !errors.Is(rerr, ErrRequestNotFound) {
				return "", rerr
			}
			return fmt.Sprintf("Request #%d can't be declined: the appointment is already confirmed.", req.AppointmentCode), nil
		default:
			return "", fmt.Errorf("decline request #%d: %w", req.AppointmentCode, err)
		}
	}

	if _, err := p.store.Resolve(ctx, req.ID, StatusDeclined); err != nil && !errors.Is(err, ErrRequestNotFound) {
		return "", err
	}

	if appt != nil {
		alternative := p.suggestAlternative(ctx, appt)
		p.notifyClient(ctx, appt.ID, func(*booking.AppointmentDetail) string {
			return notify.ClientDeclined(appt, alternative)
		})
	}

	p.log.Info().Int64("code", req.AppointmentCode).Msg("request declined")
	return fmt.Sprintf("Request #%d declined and the client has been notified.", req.AppointmentCode), nil
}

// PendingSummary renders the open requests for the coordinator's
// "pending" command.
func (p *Protocol) PendingSummary(ctx context.Context) (string, error) {
	awaiting, err := p.store.ListAwaiting(ctx)
	if err != nil {
		return "", err
	}
	if len(awaiting) == 0 {
		return "No booking requests are waiting for a decision.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d request(s) waiting:\n", len(awaiting))
	for _, req := range awaiting {
		detail, err := p.ledger.GetAppointment(ctx, req.AppointmentID)
		if err != nil {
			p.log.Error().Err(err).Int64("code", req.AppointmentCode).Msg("load appointment for summary")
			fmt.Fprintf(&b, "- #%d\n", req.AppointmentCode)
			continue
		}
		fmt.Fprintf(&b, "- #%d %s with %s, %s\n",
			req.AppointmentCode, detail.Client.Name, detail.Therapist.Name,
			detail.ProposedAt.Format("Mon 2 Jan 15:04"))
	}
	b.WriteString("Reply APPROVE <number> or DECLINE <number>.")
	return b.String(), nil
}

// ExpireStale auto-declines requests the coordinator never answered
// within the timeout window. An appointment that was decided out of
// band (e.g. confirmed through the API) is left alone; only its
// request row catches up. Returns how many were expired.
func (p *Protocol) ExpireStale(ctx context.Context) (int, error) {
	stale, err := p.store.ListAwaitingOlderThan(ctx, time.Now().Add(-p.timeout))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range stale {
		detail, err := p.ledger.GetAppointment(ctx, req.AppointmentID)
		if err != nil {
			p.log.Error().Err(err).Int64("code", req.AppointmentCode).Msg("load appointment for expiry")
			continue
		}
		if detail.Status != booking.StatusPending {
			to := StatusExpired
			if detail.Status == booking.StatusConfirmed {
				to = StatusApproved
			}
			if _, err := p.store.Resolve(ctx, req.ID, to); err != nil && !errors.Is(err, ErrRequestNotFound) {
				return expired, err
			}
			continue
		}

		if _, err := p.store.Resolve(ctx, req.ID, StatusExpired); err != nil {
			if errors.Is(err, ErrRequestNotFound) {
				continue // resolved by a late reply in the meantime
			}
			return expired, err
		}

		appt, err := p.ledger.Decline(ctx, req.AppointmentID, "approval timed out")
		if err != nil {
			// A concurrent confirm can still win between the status read
			// and the decline; the CAS protects the appointment either way.
			if !errors.Is(err, booking.ErrAlreadyTerminal) && !errors.Is(err, booking.ErrInvalidTransition) {
				p.log.Error().Err(err).Int64("code", req.AppointmentCode).Msg("decline expired request")
			}
			expired++
			continue
		}

		p.notifyClient(ctx, appt.ID, func(*booking.AppointmentDetail) string {
			return notify.ClientExpired(appt)
		})

		p.log.Info().Int64("code", req.AppointmentCode).Msg("request expired")
		expired++
	}

	return expired, nil
}

func (p *Protocol) suggestAlternative(ctx context.Context, appt *booking.Appointment) *time.Time {
	if p.finder == nil {
		return nil
	}
	alt, err := p.finder.FindNextAvailable(ctx, appt.TherapistID, appt.ProposedAt, appt.DurationMinutes)
	if err != nil {
		if !errors.Is(err, booking.ErrNoSlotAvailable) {
			p.log.Warn().Err(err).Int64("code", appt.Code).Msg("find alternative slot")
		}
		return nil
	}
	return &alt
}

func (p *Protocol) notifyClient(ctx context.Context, appointmentID uuid.UUID, render func(*booking.AppointmentDetail) string) {
	detail, err := p.ledger.GetAppointment(ctx, appointmentID)
	if err != nil {
		p.log.Error().Err(err).Str("appointment_id", appointmentID.String()).Msg("load appointment for client notice")
		return
	}
	if err := p.messenger.SendText(ctx, detail.Client.Phone, render(detail)); err != nil {
		p.log.Error().Err(err).Str("to", detail.Client.Phone).Msg("send client notice")
	}
}
