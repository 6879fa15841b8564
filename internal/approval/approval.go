// Package approval runs the coordinator decision protocol. Every new
// booking opens an approval request addressed to the single human
// coordinator, who answers in plain chat ("APPROVE 42", "no"). The
// protocol never guesses: when a bare reply could refer to more than
// one open request, it asks for the request number instead.
package approval

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAwaiting Status = "awaiting"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
)

// Request tracks one appointment's trip through coordinator review.
// AppointmentCode is duplicated here so replies can be matched without
// a join.
type Request struct {
	ID              uuid.UUID
	AppointmentID   uuid.UUID
	AppointmentCode int64
	Status          Status
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

var (
	ErrRequestNotFound = errors.New("approval request not found")
	// ErrNotDecision means the message carries no approval verdict at
	// all; the caller should treat it as ordinary coordinator chat.
	ErrNotDecision = errors.New("message is not an approval decision")
)

// Verdict is the parsed intent of a coordinator reply.
type Verdict int

const (
	VerdictApprove Verdict = iota
	VerdictDecline
)

var approveWords = map[string]struct{}{
	"approve": {}, "approved": {}, "yes": {}, "ok": {}, "okay": {},
	"confirm": {}, "confirmed": {}, "good": {}, "fine": {}, "accept": {},
}

var declineWords = map[string]struct{}{
	"decline": {}, "declined": {}, "reject": {}, "rejected": {}, "no": {},
	"cancel": {}, "deny": {}, "refuse": {},
}

// codePattern matches a whole token that is a request code: "#42" or
// a bare integer. It never fires inside a longer word, so "2pm" or
// "14:00" in a chatty reply cannot bind a request.
var codePattern = regexp.MustCompile(`^#?(\d{1,10})$`)

// ParseDecision reads a coordinator reply. The verdict comes from the
// first recognized keyword; a standalone number token ("approve 42",
// "#42 ok") pins the decision to that request code. code is 0 when
// absent.
func ParseDecision(body string) (Verdict, int64, error) {
	var (
		verdict Verdict
		found   bool
		code    int64
	)

	cleaned := strings.ToLower(strings.TrimSpace(body))
	for _, word := range strings.FieldsFunc(cleaned, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '\n' || r == '\t'
	}) {
		if !found {
			if _, ok := approveWords[word]; ok {
				verdict, found = VerdictApprove, true
				continue
			}
			if _, ok := declineWords[word]; ok {
				verdict, found = VerdictDecline, true
				continue
			}
		}
		if code == 0 {
			if m := codePattern.FindStringSubmatch(word); m != nil {
				code, _ = strconv.ParseInt(m[1], 10, 64)
			}
		}
	}
	if !found {
		return 0, 0, ErrNotDecision
	}

	return verdict, code, nil
}
