// Package agent turns client chat into booking actions. The default
// implementation is a deterministic slot-filler: it extracts the
// therapist, service, date and time from each message, keeps the
// partial draft in the caller's session, and asks for exactly the
// piece that is still missing. The Agent interface leaves room for an
// NLU-backed implementation driving the same Toolset.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenmind/therapy-booking/internal/booking"
	"github.com/havenmind/therapy-booking/internal/notify"
	"github.com/havenmind/therapy-booking/internal/session"
)

// Inbound is one client message with its conversational identity.
type Inbound struct {
	Phone string
	Name  string
	Body  string
	Now   time.Time
}

// Agent produces the reply to one client message. Implementations may
// mutate sess; the caller persists it afterwards.
type Agent interface {
	Reply(ctx context.Context, msg Inbound, sess *session.Session) (string, error)
}

type SlotFillingAgent struct {
	tools *Toolset
	log   zerolog.Logger
}

func NewSlotFillingAgent(tools *Toolset, log zerolog.Logger) *SlotFillingAgent {
	return &SlotFillingAgent{
		tools: tools,
		log:   log.With().Str("component", "agent").Logger(),
	}
}

const (
	dateLayout  = "2006-01-02"
	humanLayout = "Monday, 2 January at 15:04"
)

func (a *SlotFillingAgent) Reply(ctx context.Context, msg Inbound, sess *session.Session) (string, error) {
	body := strings.ToLower(strings.TrimSpace(msg.Body))
	if msg.Name != "" {
		sess.ClientName = msg.Name
	}

	if wantsCancel(body) {
		return a.cancel(ctx, sess)
	}

	a.fillSlots(ctx, body, msg.Now, sess)

	if isGreetingOnly(body) && sess.Date == "" && sess.Time == "" {
		return a.welcome(ctx)
	}
	if strings.Contains(body, "service") || strings.Contains(body, "price") {
		return a.listServices(ctx, sess)
	}

	therapist, err := a.tools.PickTherapist(ctx, sess.TherapistName)
	if err != nil {
		if errors.Is(err, booking.ErrTherapistNotFound) {
			return a.askForTherapist(ctx)
		}
		return "", err
	}
	sess.TherapistName = therapist.Name

	if sess.Date == "" {
		return "What day would you like to come in? You can say things like \"tomorrow\", \"Friday\" or \"2025-03-04\".", nil
	}
	if sess.Time == "" {
		return "And what time works for you? For example \"14:00\" or \"2 pm\".", nil
	}

	start, err := a.draftStart(sess, msg.Now)
	if err != nil {
		sess.Date, sess.Time = "", ""
		return "I couldn't make sense of that date and time. Could you send them again?", nil
	}
	if !start.After(msg.Now) {
		sess.Time = ""
		return "That time has already passed. What time would suit you instead?", nil
	}

	return a.book(ctx, msg, sess, therapist, start)
}

// fillSlots updates the draft with whatever the message mentions.
// Already-filled slots are overwritten so the client can correct
// themselves ("actually make it Friday").
func (a *SlotFillingAgent) fillSlots(ctx context.Context, body string, now time.Time, sess *session.Session) {
	if day, ok := extractDate(body, now); ok {
		sess.Date = day.Format(dateLayout)
	}
	if hour, minute, ok := extractTime(body); ok {
		sess.Time = fmt.Sprintf("%02d:%02d", hour, minute)
	}

	if roster, err := a.tools.Roster(ctx); err == nil {
		for i := range roster {
			if nameMentioned(body, roster[i].Name) {
				sess.TherapistName = roster[i].Name
				break
			}
		}
	}

	if therapist, err := a.tools.PickTherapist(ctx, sess.TherapistName); err == nil {
		if services, err := a.tools.Services(ctx, therapist.ID); err == nil {
			if name := matchService(services, body); name != "" {
				sess.ServiceName = name
			}
		}
	}
}

func (a *SlotFillingAgent) book(ctx context.Context, msg Inbound, sess *session.Session, therapist *booking.Therapist, start time.Time) (string, error) {
	client, err := a.tools.ledger.GetOrCreateUser(ctx, msg.Phone, sess.ClientName, booking.RoleClient)
	if err != nil {
		return "", err
	}

	duration, err := a.serviceDuration(ctx, therapist, sess.ServiceName)
	if err != nil {
		return "", err
	}

	free, alt, err := a.tools.CheckAvailability(ctx, therapist.ID, start, duration)
	if err != nil {
		return "", err
	}
	if !free {
		sess.Time = ""
		if alt.IsZero() {
			return fmt.Sprintf("%s isn't available at %s, and I couldn't find another opening soon. Could you try a different day?",
				therapist.Name, start.Format(humanLayout)), nil
		}
		return fmt.Sprintf("%s isn't available at %s. The closest opening is %s — shall we book that instead?",
			therapist.Name, start.Format(humanLayout), alt.Format(humanLayout)), nil
	}

	appt, err := a.tools.Book(ctx, client.ID, therapist.ID, sess.ServiceName, start, "")
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrSlotConflict):
			sess.Time = ""
			return "Sorry, that slot was just taken. Could you pick another time?", nil
		case errors.Is(err, booking.ErrSlotBeingBooked):
			return "That slot is being booked right now. Please try again in a moment.", nil
		case errors.Is(err, booking.ErrServiceNotFound):
			sess.ServiceName = ""
			return a.listServices(ctx, sess)
		default:
			return "", err
		}
	}

	sess.PendingAppointmentID = &appt.ID
	sess.ServiceName = appt.ServiceName

	a.log.Info().Int64("code", appt.Code).Str("phone", msg.Phone).Msg("booking drafted")
	return notify.ClientPendingNotice(appt, therapist.Name), nil
}

func (a *SlotFillingAgent) cancel(ctx context.Context, sess *session.Session) (string, error) {
	if sess.PendingAppointmentID == nil {
		return "You don't have an appointment in progress to cancel. Is there something else I can help with?", nil
	}

	appt, err := a.tools.CancelPending(ctx, *sess.PendingAppointmentID)
	if err != nil {
		if errors.Is(err, booking.ErrAlreadyTerminal) {
			sess.PendingAppointmentID = nil
			return "That appointment was already closed.", nil
		}
		return "", err
	}

	sess.PendingAppointmentID = nil
	sess.Date, sess.Time = "", ""
	return fmt.Sprintf("Your appointment request #%d has been cancelled. Message me any time to book again.", appt.Code), nil
}

func (a *SlotFillingAgent) welcome(ctx context.Context) (string, error) {
	roster, err := a.tools.Roster(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Hi! I can help you book a therapy session.")
	if len(roster) > 0 {
		b.WriteString(" Our therapists: ")
		names := make([]string, len(roster))
		for i := range roster {
			names[i] = roster[i].Name
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".")
	}
	b.WriteString(" Just tell me a day and time, e.g. \"tomorrow at 2 pm\".")
	return b.String(), nil
}

func (a *SlotFillingAgent) listServices(ctx context.Context, sess *session.Session) (string, error) {
	therapist, err := a.tools.PickTherapist(ctx, sess.TherapistName)
	if err != nil {
		if errors.Is(err, booking.ErrTherapistNotFound) {
			return a.askForTherapist(ctx)
		}
		return "", err
	}

	services, err := a.tools.Services(ctx, therapist.ID)
	if err != nil {
		return "", err
	}
	if len(services) == 0 {
		return fmt.Sprintf("%s has no services listed right now. You can reach our coordinator at %s.",
			therapist.Name, a.tools.CoordinatorPhone()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s offers:\n", therapist.Name)
	for _, svc := range services {
		fmt.Fprintf(&b, "- %s (%d min)\n", svc.Name, svc.DurationMinutes)
	}
	b.WriteString("Which one would you like?")
	return b.String(), nil
}

func (a *SlotFillingAgent) askForTherapist(ctx context.Context) (string, error) {
	roster, err := a.tools.Roster(ctx)
	if err != nil {
		return "", err
	}
	if len(roster) == 0 {
		return fmt.Sprintf("We can't take bookings right now. Please contact our coordinator at %s.", a.tools.CoordinatorPhone()), nil
	}

	names := make([]string, len(roster))
	for i := range roster {
		names[i] = roster[i].Name
	}
	return fmt.Sprintf("Which therapist would you like to see? We have: %s.", strings.Join(names, ", ")), nil
}

func (a *SlotFillingAgent) draftStart(sess *session.Session, now time.Time) (time.Time, error) {
	return a.tools.ResolveWhen(sess.Date, sess.Time, now)
}

// serviceDuration resolves the draft's service (or the default first
// offering) to its duration for the availability check.
func (a *SlotFillingAgent) serviceDuration(ctx context.Context, therapist *booking.Therapist, serviceName string) (int, error) {
	services, err := a.tools.Services(ctx, therapist.ID)
	if err != nil {
		return 0, err
	}
	if len(services) == 0 {
		return 0, booking.ErrServiceNotFound
	}
	if serviceName == "" {
		return services[0].DurationMinutes, nil
	}

	want := strings.ToLower(serviceName)
	for _, svc := range services {
		if strings.ToLower(svc.Name) == want || strings.Contains(strings.ToLower(svc.Name), want) {
			return svc.DurationMinutes, nil
		}
	}
	return services[0].DurationMinutes, nil
}

// matchService maps message text onto one of the therapist's offered
// service names, by full name, by call kind, or by duration mention.
func matchService(services []booking.Service, body string) string {
	for _, svc := range services {
		if strings.Contains(body, strings.ToLower(svc.Name)) {
			return svc.Name
		}
	}

	wantsOut := strings.Contains(body, "out-call") || strings.Contains(body, "out call") || strings.Contains(body, "outcall") ||
		strings.Contains(body, "home visit") || strings.Contains(body, "come to")
	wantsIn := strings.Contains(body, "in-call") || strings.Contains(body, "in call") || strings.Contains(body, "incall")

	for _, svc := range services {
		if wantsOut && svc.Kind == booking.KindOutCall {
			return svc.Name
		}
		if wantsIn && svc.Kind == booking.KindInCall {
			return svc.Name
		}
	}

	for _, svc := range services {
		needle := fmt.Sprintf("%d min", svc.DurationMinutes)
		if strings.Contains(body, needle) || strings.Contains(body, fmt.Sprintf("%d minute", svc.DurationMinutes)) {
			return svc.Name
		}
	}

	return ""
}

// nameMentioned reports whether the message refers to the therapist.
// Clients rarely type the full roster entry ("Dr. Sarah Johnson"), so
// any single name part counts. Titles and other short parts are
// skipped to keep "dr" from matching everyone.
func nameMentioned(body, name string) bool {
	for _, part := range strings.Fields(strings.ToLower(name)) {
		part = strings.Trim(part, ".")
		if len(part) < 3 {
			continue
		}
		if strings.Contains(body, part) {
			return true
		}
	}
	return false
}

func wantsCancel(body string) bool {
	return strings.Contains(body, "cancel")
}

var greetings = []string{"hi", "hello", "hey", "salam", "good morning", "good afternoon", "good evening", "help"}

func isGreetingOnly(body string) bool {
	trimmed := strings.Trim(body, " .,!?")
	for _, g := range greetings {
		if trimmed == g || strings.HasPrefix(trimmed, g+" ") && len(trimmed) < len(g)+12 {
			return true
		}
	}
	return false
}
