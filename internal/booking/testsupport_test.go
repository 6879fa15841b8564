package booking

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeRepo is an in-memory Repository. It mirrors the Postgres
// semantics the ledger relies on: compare-and-swap status updates and
// half-open overlap counting.
type fakeRepo struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*User
	therapists   map[uuid.UUID]*Therapist
	services     map[uuid.UUID][]Service
	hours        map[uuid.UUID][]WorkingHours
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
	nextCode     int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:        make(map[uuid.UUID]*User),
		therapists:   make(map[uuid.UUID]*Therapist),
		services:     make(map[uuid.UUID][]Service),
		hours:        make(map[uuid.UUID][]WorkingHours),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

// addTherapist registers a therapist with one service and all-week
// 09:00-18:00 working hours.
func (r *fakeRepo) addTherapist(name string, durationMinutes int) *Therapist {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Therapist{ID: uuid.New(), UserID: uuid.New(), Name: name, Active: true}
	r.therapists[t.ID] = t
	r.services[t.ID] = []Service{{
		ID:              uuid.New(),
		TherapistID:     t.ID,
		Name:            "1 Hour In-Call Session",
		DurationMinutes: durationMinutes,
		Kind:            KindInCall,
	}}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		r.hours[t.ID] = append(r.hours[t.ID], WorkingHours{
			ID:          uuid.New(),
			TherapistID: t.ID,
			Weekday:     wd,
			Start:       "09:00",
			End:         "18:00",
			Available:   true,
		})
	}
	return t
}

func (r *fakeRepo) addUser(phone, name string, role Role) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := &User{ID: uuid.New(), Phone: phone, Name: name, Role: role, Active: true}
	r.users[u.ID] = u
	return u
}

func (r *fakeRepo) GetUserByPhone(_ context.Context, phone string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *fakeRepo) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrUserNotFound
}

func (r *fakeRepo) CreateUser(_ context.Context, phone, name string, role Role) (*User, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u := &User{ID: uuid.New(), Phone: phone, Name: name, Role: role, Active: true, CreatedAt: time.Now()}
	r.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r *fakeRepo) GetTherapistByID(_ context.Context, id uuid.UUID) (*Therapist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.therapists[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ErrTherapistNotFound
}

func (r *fakeRepo) GetTherapistByName(_ context.Context, name string) (*Therapist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.therapists {
		if t.Active && strings.Contains(strings.ToLower(t.Name), strings.ToLower(name)) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTherapistNotFound
}

func (r *fakeRepo) ListActiveTherapists(_ context.Context) ([]Therapist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Therapist
	for _, t := range r.therapists {
		if t.Active {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListServices(_ context.Context, therapistID uuid.UUID) ([]Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Service(nil), r.services[therapistID]...), nil
}

func (r *fakeRepo) ListWorkingHours(_ context.Context, therapistID uuid.UUID) ([]WorkingHours, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WorkingHours(nil), r.hours[therapistID]...), nil
}

func (r *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.appointments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) GetAppointmentByCode(_ context.Context, code int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.Code == code {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	client, _ := r.GetUserByID(ctx, appt.ClientID)
	therapist, _ := r.GetTherapistByID(ctx, appt.TherapistID)
	return &AppointmentDetail{Appointment: *appt, Client: client, Therapist: therapist}, nil
}

func (r *fakeRepo) ListAppointmentsByClient(_ context.Context, clientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.ClientID == clientID {
			out = append(out, *a)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) ListAppointmentsInRange(_ context.Context, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if !a.ProposedAt.Before(from) && a.ProposedAt.Before(to) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedAt.Before(out[j].ProposedAt) })
	return out, nil
}

func (r *fakeRepo) CountOverlapping(_ context.Context, therapistID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.appointments {
		if a.TherapistID != therapistID || a.Status.IsTerminal() {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.ProposedAt.Before(end) && a.End().After(start) {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) CreatePendingAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCode++
	cp := *appt
	cp.Code = r.nextCode
	cp.Status = StatusPending
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, note string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if to == StatusConfirmed {
		confirmed := a.ProposedAt
		a.ConfirmedAt = &confirmed
	}
	if note != "" {
		a.CoordinatorNotes = note
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// memLocker serializes callers per key with plain mutexes, standing in
// for the Redis locker in tests.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) keyMutex(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (l *memLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	m := l.keyMutex(key)
	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

func (l *memLocker) WithLockWait(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.WithLock(ctx, key, fn)
}
