package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenmind/therapy-booking/internal/booking"
)

const coordinatorPhone = "97471669569"

// memStore mirrors the CAS semantics of the Postgres store.
type memStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*Request
}

func newMemStore() *memStore {
	return &memStore{requests: make(map[uuid.UUID]*Request)}
}

func (s *memStore) Create(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Status = StatusAwaiting
	req.CreatedAt = time.Now()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *memStore) GetAwaitingByCode(_ context.Context, code int64) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.AppointmentCode == code && r.Status == StatusAwaiting {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRequestNotFound
}

func (s *memStore) ListAwaiting(_ context.Context) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.Status == StatusAwaiting {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) ListAwaitingOlderThan(_ context.Context, cutoff time.Time) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.Status == StatusAwaiting && r.CreatedAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) Resolve(_ context.Context, id uuid.UUID, to Status) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != StatusAwaiting {
		return nil, ErrRequestNotFound
	}
	now := time.Now()
	r.Status = to
	r.ResolvedAt = &now
	cp := *r
	return &cp, nil
}

func (s *memStore) get(id uuid.UUID) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.requests[id]
	return &cp
}

// memLedger fakes the booking ledger's approval surface.
type memLedger struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*booking.Appointment
	client       *booking.User
	therapist    *booking.Therapist
	// conflictOn forces Confirm of that appointment to fail with
	// ErrSlotConflict, simulating the slot being taken in the meantime.
	conflictOn map[uuid.UUID]bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		appointments: make(map[uuid.UUID]*booking.Appointment),
		conflictOn:   make(map[uuid.UUID]bool),
		client:       &booking.User{ID: uuid.New(), Phone: "97455512345", Name: "Maryam", Role: booking.RoleClient},
		therapist:    &booking.Therapist{ID: uuid.New(), Name: "Dr. Sarah"},
	}
}

func (l *memLedger) addPending(code int64, proposedAt time.Time) *booking.Appointment {
	l.mu.Lock()
	defer l.mu.Unlock()
	appt := &booking.Appointment{
		ID:              uuid.New(),
		Code:            code,
		ClientID:        l.client.ID,
		TherapistID:     l.therapist.ID,
		ServiceName:     "1 Hour In-Call Session",
		DurationMinutes: 60,
		ProposedAt:      proposedAt,
		Status:          booking.StatusPending,
	}
	l.appointments[appt.ID] = appt
	return appt
}

func (l *memLedger) Confirm(_ context.Context, id uuid.UUID) (*booking.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	appt, ok := l.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	if appt.Status.IsTerminal() {
		return nil, booking.ErrAlreadyTerminal
	}
	if l.conflictOn[id] {
		return nil, booking.ErrSlotConflict
	}
	now := time.Now()
	appt.Status = booking.StatusConfirmed
	appt.ConfirmedAt = &now
	cp := *appt
	return &cp, nil
}

func (l *memLedger) Decline(_ context.Context, id uuid.UUID, reason string) (*booking.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	appt, ok := l.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	if appt.Status.IsTerminal() {
		return nil, booking.ErrAlreadyTerminal
	}
	if appt.Status != booking.StatusPending {
		return nil, booking.ErrInvalidTransition
	}
	appt.Status = booking.StatusCancelled
	appt.CoordinatorNotes = reason
	cp := *appt
	return &cp, nil
}

func (l *memLedger) GetAppointment(_ context.Context, id uuid.UUID) (*booking.AppointmentDetail, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	appt, ok := l.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	return &booking.AppointmentDetail{
		Appointment: *appt,
		Client:      l.client,
		Therapist:   l.therapist,
	}, nil
}

// recordingMessenger captures outbound messages per phone.
type recordingMessenger struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{sent: make(map[string][]string)}
}

func (m *recordingMessenger) SendText(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[to] = append(m.sent[to], body)
	return nil
}

func (m *recordingMessenger) last(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.sent[to]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type fixedFinder struct {
	slot time.Time
	err  error
}

func (f fixedFinder) FindNextAvailable(context.Context, uuid.UUID, time.Time, int) (time.Time, error) {
	return f.slot, f.err
}

func newTestProtocol(t *testing.T) (*Protocol, *memStore, *memLedger, *recordingMessenger) {
	t.Helper()
	store := newMemStore()
	ledger := newMemLedger()
	msgr := newRecordingMessenger()
	finder := fixedFinder{err: booking.ErrNoSlotAvailable}
	p := NewProtocol(store, ledger, finder, msgr, coordinatorPhone, 2*time.Hour, zerolog.Nop())
	return p, store, ledger, msgr
}

var slotTime = time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)

func TestParseDecision(t *testing.T) {
	cases := []struct {
		body    string
		verdict Verdict
		code    int64
	}{
		{"APPROVE 42", VerdictApprove, 42},
		{"approve #42", VerdictApprove, 42},
		{"yes", VerdictApprove, 0},
		{"ok!", VerdictApprove, 0},
		{"Confirmed, thanks", VerdictApprove, 0},
		{"DECLINE 7", VerdictDecline, 7},
		{"no", VerdictDecline, 0},
		{"reject 13", VerdictDecline, 13},
		{"#42 ok", VerdictApprove, 42},
		// Digits embedded in chat must not bind a request code.
		{"ok, 2pm works for the client", VerdictApprove, 0},
		{"yes, move it to 14:00 if needed", VerdictApprove, 0},
	}
	for _, tc := range cases {
		verdict, code, err := ParseDecision(tc.body)
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.verdict, verdict, tc.body)
		assert.Equal(t, tc.code, code, tc.body)
	}

	for _, body := range []string{"how many bookings today?", "pending", "hello", ""} {
		_, _, err := ParseDecision(body)
		assert.ErrorIs(t, err, ErrNotDecision, body)
	}
}

func TestRequestApprovalSendsCard(t *testing.T) {
	p, store, ledger, msgr := newTestProtocol(t)
	appt := ledger.addPending(42, slotTime)

	require.NoError(t, p.RequestApproval(context.Background(), appt.ID))

	awaiting, err := store.ListAwaiting(context.Background())
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, int64(42), awaiting[0].AppointmentCode)

	card := msgr.last(coordinatorPhone)
	assert.Contains(t, card, "#42")
	assert.Contains(t, card, "APPROVE 42")
}

func TestApproveWithExplicitCode(t *testing.T) {
	p, store, ledger, msgr := newTestProtocol(t)
	appt := ledger.addPending(42, slotTime)
	require.NoError(t, p.RequestApproval(context.Background(), appt.ID))
	other := ledger.addPending(43, slotTime.Add(2*time.Hour))
	require.NoError(t, p.RequestApproval(context.Background(), other.ID))

	reply, err := p.HandleReply(context.Background(), "APPROVE 42")
	require.NoError(t, err)
	assert.Contains(t, reply, "#42 approved")

	confirmed, err := ledger.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, confirmed.Status)

	// The other request is untouched.
	untouched, err := ledger.GetAppointment(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, untouched.Status)

	req, err := store.GetAwaitingByCode(context.Background(), 43)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaiting, req.Status)

	assert.Contains(t, msgr.last(ledger.client.Phone), "confirmed")
}

func TestBareReplyBindsSingleAwaiting(t *testing.T) {
	p, _, ledger, _ := newTestProtocol(t)
	appt := ledger.addPending(42, slotTime)
	require.NoError(t, p.RequestApproval(context.Background(), appt.ID))

	reply, err := p.HandleReply(context.Background(), "yes")
	require.NoError(t, err)
	assert.Contains(t, reply, "approved")

	confirmed, err := ledger.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, confirmed.Status)
}

func TestBareReplyAmbiguousAsksForCode(t *testing.T) {
	p, _, ledger, _ := newTestProtocol(t)
	first := ledger.addPending(42, slotTime)
	second := ledger.addPending(43, slotTime.Add(2*time.Hour))
	require.NoError(t, p.RequestApproval(context.Background(), first.ID))
	require.NoError(t, p.RequestApproval(context.Background(), second.ID))

	reply, err := p.HandleReply(context.Background(), "approve")
	require.NoError(t, err)
	assert.Contains(t, reply, "#42")
	assert.Contains(t, reply, "#43")
	assert.Contains(t, reply, "include the number")

	// Nothing moved: a bare verdict never picks among several requests.
	for _, appt := range []*booking.Appointment{first, second} {
		detail, err := ledger.GetAppointment(context.Background(), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, booking.StatusPending, detail.Status)
	}
}

func TestBareReplyNoneAwaiting(t *testing.T) {
	p, _, _, _ := newTestProtocol(t)

	reply, err := p.HandleReply(context.Background(), "approve")
	require.NoError(t, err)
	assert.Contains(t, reply, "no booking requests waiting")
}

func TestUnknownCode(t *testing.T) {
	p, _, ledger, _ := newTestProtocol(t)
	appt := ledger.addPending(42, slotTime)
	require.NoError(t, p.RequestApproval(context.Background(), appt.ID))

	reply, err := p.HandleReply(context.Background(), "approve 99")
	require.NoError(t, err)
	assert.Contains(t, reply, "no pending request #99")
}

func TestApproveConflictKeepsRequestOpen(t *testing.T) {
	p, store, ledger, _ := newTestProtocol(t)
	appt := ledger.addPending(42, slotTime)
	require.NoError(t, p.RequestApproval(context.Background(), appt.ID))
	ledger.conflictOn[appt.ID] = true

	reply, err := p.HandleReply(context.Background(), "APPROVE 42")
	require.NoError(t, err)
	assert.Contains(t, reply, "no longer free")

	// Still awaiting, still pending: the coordinator can decline it.
	req, err := store.GetAwaitingByCode(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaiting, req.Status)

	detail, err := ledger.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, detail.Status)

	reply, err = p.HandleReply(context.Background(), "DECLINE 42")
	require.NoError(t, err)
	assert.Contains(t, reply, "declined")
}

func TestDeclineNotifiesClientWithAlternative(t *testing.T) {
	store := newMemStore()
	ledger := newMemLedger()
	msgr := newRecordingMessenger()
	alt := slotTime.Add(4 * time.Hour)
	p := NewProtocol(store, ledger, fixedFinder{slot: alt}, msgr, coordinatorPhone, 2*time.Hour, zerolog.Nop())

	appt := ledger.addPending(42, slotTime)
	require.NoError(t, p.RequestApproval(context.Background(), appt.ID))

	reply, err := p.HandleReply(context.Background(), "DECLINE 42")
	require.NoError(t, err)
	assert.Contains(t, reply, "#42 declined")

	detail, err := ledger.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, detail.Status)

	notice := msgr.last(ledger.client.Phone)
	assert.Contains(t, notice, "couldn't confirm")
	assert.Contains(t, notice, "next available time")
}

func TestHandleReplyPassesThroughChat(t *testing.T) {
	p, _, _, _ := newTestProtocol(t)

	_, err := p.HandleReply(context.Background(), "how is the schedule looking?")
	assert.ErrorIs(t, err, ErrNotDecision)
}

func TestExpireStale(t *testing.T) {
	p, store, ledger, msgr := newTestProtocol(t)

	stale := ledger.addPending(42, slotTime)
	require.NoError(t, p.RequestApproval(context.Background(), stale.ID))
	fresh := ledger.addPending(43, slotTime.Add(2*time.Hour))
	require.NoError(t, p.RequestApproval(context.Background(), fresh.ID))

	// Age the first request past the timeout.
	awaiting, err := store.ListAwaiting(context.Background())
	require.NoError(t, err)
	for _, r := range awaiting {
		if r.AppointmentCode == 42 {
			store.mu.Lock()
			store.requests[r.ID].CreatedAt = time.Now().Add(-3 * time.Hour)
			store.mu.Unlock()
		}
	}

	n, err := p.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	staleDetail, err := ledger.GetAppointment(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, staleDetail.Status)
	assert.Contains(t, msgr.last(ledger.client.Phone), "couldn't get your appointment request")

	freshReq, err := store.GetAwaitingByCode(context.Background(), 43)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaiting, freshReq.Status)
}

func TestExpireStaleLeavesConfirmedAlone(t *testing.T) {
	p, store, ledger, msgr := newTestProtocol(t)

	appt := ledger.addPending(42, slotTime)
	require.NoError(t, p.RequestApproval(context.Background(), appt.ID))

	// Confirmed out of band (e.g. through the API) without the request
	// row ever being resolved.
	_, err := ledger.Confirm(context.Background(), appt.ID)
	require.NoError(t, err)

	req, err := store.GetAwaitingByCode(context.Background(), 42)
	require.NoError(t, err)
	store.mu.Lock()
	store.requests[req.ID].CreatedAt = time.Now().Add(-3 * time.Hour)
	store.mu.Unlock()

	clientBefore := len(msgr.sent[ledger.client.Phone])

	n, err := p.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The booking stands; the request row caught up instead.
	detail, err := ledger.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, detail.Status)
	assert.Equal(t, StatusApproved, store.get(req.ID).Status)

	// No cancellation text goes out to the client.
	assert.Len(t, msgr.sent[ledger.client.Phone], clientBefore)
}

func TestDeclineConfirmedAppointmentRefused(t *testing.T) {
	p, store, ledger, msgr := newTestProtocol(t)

	appt := ledger.addPending(42, slotTime)
	require.NoError(t, p.RequestApproval(context.Background(), appt.ID))

	_, err := ledger.Confirm(context.Background(), appt.ID)
	require.NoError(t, err)

	req, err := store.GetAwaitingByCode(context.Background(), 42)
	require.NoError(t, err)

	clientBefore := len(msgr.sent[ledger.client.Phone])

	reply, err := p.HandleReply(context.Background(), "DECLINE 42")
	require.NoError(t, err)
	assert.Contains(t, reply, "already confirmed")

	detail, err := ledger.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, detail.Status)
	assert.Equal(t, StatusApproved, store.get(req.ID).Status)
	assert.Len(t, msgr.sent[ledger.client.Phone], clientBefore)
}
