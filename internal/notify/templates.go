package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/havenmind/therapy-booking/internal/booking"
)

const timeLayout = "Monday, 2 January 2006 at 15:04"

// ApprovalCard is the message the coordinator receives when a new
// booking needs a decision. The reply shape is spelled out because the
// coordinator answers in plain chat, not a UI.
func ApprovalCard(d *booking.AppointmentDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New booking request #%d\n\n", d.Code)
	fmt.Fprintf(&b, "Client: %s (%s)\n", d.Client.Name, d.Client.Phone)
	fmt.Fprintf(&b, "Therapist: %s\n", d.Therapist.Name)
	fmt.Fprintf(&b, "Service: %s (%d min)\n", d.ServiceName, d.DurationMinutes)
	fmt.Fprintf(&b, "When: %s\n", d.ProposedAt.Format(timeLayout))
	if d.ClientNotes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", d.ClientNotes)
	}
	fmt.Fprintf(&b, "\nReply APPROVE %d or DECLINE %d.", d.Code, d.Code)
	return b.String()
}

// ClientPendingNotice tells the client their request is in, awaiting
// approval.
func ClientPendingNotice(appt *booking.Appointment, therapistName string) string {
	return fmt.Sprintf(
		"Your booking request #%d for %s with %s on %s has been received. We'll confirm it with you shortly.",
		appt.Code, appt.ServiceName, therapistName, appt.ProposedAt.Format(timeLayout))
}

// ClientConfirmed tells the client the coordinator approved.
func ClientConfirmed(appt *booking.Appointment, therapistName string) string {
	return fmt.Sprintf(
		"Good news! Your appointment #%d with %s on %s is confirmed. See you then!",
		appt.Code, therapistName, appt.ProposedAt.Format(timeLayout))
}

// ClientDeclined tells the client the request was declined, optionally
// suggesting the next open slot so the conversation keeps moving.
func ClientDeclined(appt *booking.Appointment, alternative *time.Time) string {
	msg := fmt.Sprintf(
		"Unfortunately we couldn't confirm your appointment request #%d for %s.",
		appt.Code, appt.ProposedAt.Format(timeLayout))
	if alternative != nil {
		msg += fmt.Sprintf(" The next available time is %s — just reply if you'd like it.", alternative.Format(timeLayout))
	} else {
		msg += " Please send another date and time and we'll try again."
	}
	return msg
}

// ClientExpired tells the client their request timed out unanswered.
func ClientExpired(appt *booking.Appointment) string {
	return fmt.Sprintf(
		"Sorry, we couldn't get your appointment request #%d confirmed in time, so it has been released. Please send a new date and time if you'd still like to book.",
		appt.Code)
}

// CoordinatorConflict tells the coordinator an approval failed because
// the slot was taken in the meantime. The request stays open.
func CoordinatorConflict(code int64) string {
	return fmt.Sprintf(
		"Request #%d can't be approved: that slot is no longer free. It stays pending — ask the client for another time or DECLINE %d.",
		code, code)
}
