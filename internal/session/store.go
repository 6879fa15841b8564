// Package session keeps the per-phone conversational context: what the
// client is in the middle of doing. Sessions live in Redis with a TTL
// equal to the inactivity window, so stale drafts evaporate on their
// own instead of accumulating.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is the in-progress booking draft for one phone number.
type Session struct {
	Phone         string `json:"phone"`
	ClientName    string `json:"client_name,omitempty"`
	ServiceName   string `json:"service_name,omitempty"`
	Date          string `json:"date,omitempty"` // resolved, YYYY-MM-DD
	Time          string `json:"time,omitempty"` // HH:MM
	TherapistName string `json:"therapist_name,omitempty"`
	// PendingAppointmentID references the most recent appointment this
	// client has awaiting coordinator action, if any.
	PendingAppointmentID *uuid.UUID `json:"pending_appointment_id,omitempty"`
	LastActivity         time.Time  `json:"last_activity"`
}

// Store reads and writes sessions. Mutation is always read-modify-write
// through Update; callers serialize per phone with the shared locker so
// two near-simultaneous messages cannot drop each other's effect.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		redis: client,
		ttl:   ttl,
	}
}

func sessionKey(phone string) string {
	return fmt.Sprintf("session:%s", phone)
}

// Get returns the session for phone, creating a fresh empty one when
// none exists or the stored one has outlived the inactivity window.
// Expiry is evaluated lazily here; Redis TTL is the backstop.
func (s *Store) Get(ctx context.Context, phone string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(phone)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return s.fresh(phone), nil
		}
		return nil, fmt.Errorf("load session %s: %w", phone, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A corrupt value is treated as absent rather than wedging the
		// conversation for this number.
		return s.fresh(phone), nil
	}

	if time.Since(sess.LastActivity) > s.ttl {
		return s.fresh(phone), nil
	}

	return &sess, nil
}

// Update applies mutator to the current session and persists the
// result, refreshing both LastActivity and the Redis TTL.
func (s *Store) Update(ctx context.Context, phone string, mutator func(*Session)) (*Session, error) {
	sess, err := s.Get(ctx, phone)
	if err != nil {
		return nil, err
	}

	mutator(sess)
	sess.Phone = phone
	sess.LastActivity = time.Now()

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session %s: %w", phone, err)
	}
	if err := s.redis.Set(ctx, sessionKey(phone), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("persist session %s: %w", phone, err)
	}

	return sess, nil
}

// Clear removes the session, typically after a booking completes.
func (s *Store) Clear(ctx context.Context, phone string) error {
	if err := s.redis.Del(ctx, sessionKey(phone)).Err(); err != nil {
		return fmt.Errorf("clear session %s: %w", phone, err)
	}
	return nil
}

func (s *Store) fresh(phone string) *Session {
	return &Session{
		Phone:        phone,
		LastActivity: time.Now(),
	}
}
