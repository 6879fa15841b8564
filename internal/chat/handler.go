// Package chat routes normalized inbound messages to the right brain:
// coordinator messages go through the approval protocol and admin
// commands, client messages go to the booking agent. Per-phone
// serialization happens here, so two rapid-fire messages from one
// number are processed in arrival order.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenmind/therapy-booking/internal/agent"
	"github.com/havenmind/therapy-booking/internal/approval"
	"github.com/havenmind/therapy-booking/internal/booking"
	"github.com/havenmind/therapy-booking/internal/gateway"
	"github.com/havenmind/therapy-booking/internal/notify"
	"github.com/havenmind/therapy-booking/internal/redisclient"
	"github.com/havenmind/therapy-booking/internal/session"
)

// Coordinator is the approval protocol surface the handler drives.
type Coordinator interface {
	HandleReply(ctx context.Context, body string) (string, error)
	PendingSummary(ctx context.Context) (string, error)
}

// ScheduleReader backs the coordinator's "today" command.
type ScheduleReader interface {
	ListAppointmentsInRange(ctx context.Context, from, to time.Time) ([]booking.Appointment, error)
}

type Handler struct {
	sessions         *session.Store
	locker           redisclient.Locker
	agent            agent.Agent
	coordinator      Coordinator
	schedule         ScheduleReader
	messenger        notify.Messenger
	history          History
	coordinatorPhone string
	log              zerolog.Logger
}

func NewHandler(
	sessions *session.Store,
	locker redisclient.Locker,
	ag agent.Agent,
	coordinator Coordinator,
	schedule ScheduleReader,
	messenger notify.Messenger,
	history History,
	coordinatorPhone string,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		sessions:         sessions,
		locker:           locker,
		agent:            ag,
		coordinator:      coordinator,
		schedule:         schedule,
		messenger:        messenger,
		history:          history,
		coordinatorPhone: coordinatorPhone,
		log:              log.With().Str("component", "chat").Logger(),
	}
}

// HandleInbound processes one deduplicated message end to end:
// transcript, routing, reply.
func (h *Handler) HandleInbound(ctx context.Context, msg *gateway.NormalizedMessage) error {
	h.recordHistory(ctx, msg.From, DirectionIn, msg.Body)

	var (
		reply string
		err   error
	)
	if msg.From == h.coordinatorPhone {
		reply, err = h.handleCoordinator(ctx, msg)
	} else {
		reply, err = h.handleClient(ctx, msg)
	}
	if err != nil {
		return err
	}
	if reply == "" {
		return nil
	}

	if err := h.messenger.SendText(ctx, msg.From, reply); err != nil {
		return fmt.Errorf("send reply to %s: %w", msg.From, err)
	}
	h.recordHistory(ctx, msg.From, DirectionOut, reply)
	return nil
}

func (h *Handler) handleCoordinator(ctx context.Context, msg *gateway.NormalizedMessage) (string, error) {
	switch command(msg.Body) {
	case "pending":
		return h.coordinator.PendingSummary(ctx)
	case "today":
		return h.todaySummary(ctx, time.Now())
	case "help":
		return coordinatorHelp, nil
	}

	reply, err := h.coordinator.HandleReply(ctx, msg.Body)
	if err != nil {
		if errors.Is(err, approval.ErrNotDecision) {
			return coordinatorHelp, nil
		}
		return "", err
	}
	return reply, nil
}

// handleClient runs the agent under the per-phone lock. WithLockWait
// queues behind an in-flight message from the same number instead of
// failing, so order is preserved without dropping anything.
func (h *Handler) handleClient(ctx context.Context, msg *gateway.NormalizedMessage) (string, error) {
	var reply string

	err := h.locker.WithLockWait(ctx, redisclient.PhoneLockKey(msg.From), func(lockCtx context.Context) error {
		sess, err := h.sessions.Get(lockCtx, msg.From)
		if err != nil {
			return err
		}

		reply, err = h.agent.Reply(lockCtx, agent.Inbound{
			Phone: msg.From,
			Name:  msg.SenderName,
			Body:  msg.Body,
			Now:   time.Now(),
		}, sess)
		if err != nil {
			return err
		}

		_, err = h.sessions.Update(lockCtx, msg.From, func(s *session.Session) {
			*s = *sess
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

const coordinatorHelp = `Commands:
- APPROVE <number> / DECLINE <number> — decide a booking request
- pending — list requests waiting for a decision
- today — today's schedule
- help — this message`

func (h *Handler) todaySummary(ctx context.Context, now time.Time) (string, error) {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 0, 1)

	appointments, err := h.schedule.ListAppointmentsInRange(ctx, from, to)
	if err != nil {
		return "", err
	}
	if len(appointments) == 0 {
		return "Nothing scheduled for today.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Today's schedule (%d):\n", len(appointments))
	for _, a := range appointments {
		fmt.Fprintf(&b, "- #%d %s at %s [%s]\n", a.Code, a.ServiceName, a.ProposedAt.Format("15:04"), a.Status)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) recordHistory(ctx context.Context, phone, direction, body string) {
	if h.history == nil {
		return
	}
	if err := h.history.Record(ctx, phone, direction, body); err != nil {
		h.log.Error().Err(err).Str("phone", phone).Msg("record conversation message")
	}
}

func command(body string) string {
	return strings.ToLower(strings.TrimSpace(body))
}
