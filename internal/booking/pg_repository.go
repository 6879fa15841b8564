package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// db is the slice of pgxpool.Pool the repository uses. Tests substitute
// a pgxmock pool through the same seam.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool db
}

func NewPgRepository(pool db) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string

	err := row.Scan(
		&u.ID,
		&u.Phone,
		&u.Name,
		&role,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	parsed, err := ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.Role = parsed
	return &u, nil
}

func scanTherapist(row pgx.Row) (*Therapist, error) {
	var t Therapist

	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Name,
		&t.Active,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTherapistNotFound
		}
		return nil, err
	}

	return &t, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var confirmedAt *time.Time
	var clientNotes, coordinatorNotes *string

	err := row.Scan(
		&a.ID,
		&a.Code,
		&a.ClientID,
		&a.TherapistID,
		&a.ServiceName,
		&a.DurationMinutes,
		&a.ProposedAt,
		&confirmedAt,
		&a.Status,
		&clientNotes,
		&coordinatorNotes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ConfirmedAt = confirmedAt
	if clientNotes != nil {
		a.ClientNotes = *clientNotes
	}
	if coordinatorNotes != nil {
		a.CoordinatorNotes = *coordinatorNotes
	}
	return &a, nil
}

const appointmentColumns = `id, code, client_id, therapist_id, service_name, duration_minutes,
		proposed_datetime, confirmed_datetime, status, client_notes, coordinator_notes,
		created_at, updated_at`

// Interface methods

func (r *PgRepository) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, phone, name, role, is_active, created_at, updated_at
		FROM users
		WHERE phone = $1
	`, phone)
	return scanUser(row)
}

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, phone, name, role, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) CreateUser(ctx context.Context, phone, name string, role Role) (*User, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}

	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, phone, name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, now(), now())
		RETURNING id, phone, name, role, is_active, created_at, updated_at
	`, id, phone, name, string(role))
	return scanUser(row)
}

func (r *PgRepository) GetTherapistByID(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, is_active, created_at, updated_at
		FROM therapists
		WHERE id = $1
	`, id)
	return scanTherapist(row)
}

func (r *PgRepository) GetTherapistByName(ctx context.Context, name string) (*Therapist, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, is_active, created_at, updated_at
		FROM therapists
		WHERE is_active AND lower(name) LIKE '%' || lower($1) || '%'
		ORDER BY name
		LIMIT 1
	`, name)
	return scanTherapist(row)
}

func (r *PgRepository) ListActiveTherapists(ctx context.Context) ([]Therapist, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, is_active, created_at, updated_at
		FROM therapists
		WHERE is_active
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Therapist
	for rows.Next() {
		t, err := scanTherapist(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListServices(ctx context.Context, therapistID uuid.UUID) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, therapist_id, name, duration_minutes, kind, created_at
		FROM services
		WHERE therapist_id = $1
		ORDER BY duration_minutes, name
	`, therapistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.TherapistID, &s.Name, &s.DurationMinutes, &s.Kind, &s.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListWorkingHours(ctx context.Context, therapistID uuid.UUID) ([]WorkingHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, therapist_id, day_of_week, start_time, end_time, is_available
		FROM working_hours
		WHERE therapist_id = $1
		ORDER BY day_of_week, start_time
	`, therapistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorkingHours
	for rows.Next() {
		var wh WorkingHours
		var weekday int
		if err := rows.Scan(&wh.ID, &wh.TherapistID, &weekday, &wh.Start, &wh.End, &wh.Available); err != nil {
			return nil, err
		}
		wh.Weekday = time.Weekday(weekday)
		result = append(result, wh)
	}

	return result, rows.Err()
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByCode(ctx context.Context, code int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE code = $1
	`, code)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	client, err := r.GetUserByID(ctx, appt.ClientID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	therapist, err := r.GetTherapistByID(ctx, appt.TherapistID)
	if err != nil && !errors.Is(err, ErrTherapistNotFound) {
		return nil, err
	}

	return &AppointmentDetail{
		Appointment: *appt,
		Client:      client,
		Therapist:   therapist,
	}, nil
}

func (r *PgRepository) ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1
		ORDER BY proposed_datetime DESC
		LIMIT $2 OFFSET $3
	`, clientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListAppointmentsInRange(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE proposed_datetime >= $1 AND proposed_datetime < $2
		ORDER BY proposed_datetime
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) CountOverlapping(ctx context.Context, therapistID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (int, error) {
	// Half-open interval intersection: existing.start < end AND
	// existing.end > start. Touching endpoints do not conflict.
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE therapist_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND proposed_datetime < $3
		  AND proposed_datetime + make_interval(mins => duration_minutes) > $2
		  AND ($4::uuid IS NULL OR id <> $4)
	`, therapistID, start, end, exclude).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PgRepository) CreatePendingAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, client_id, therapist_id, service_name, duration_minutes,
			 proposed_datetime, status, client_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.ClientID, appt.TherapistID, appt.ServiceName,
		appt.DurationMinutes, appt.ProposedAt, appt.ClientNotes)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, note string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    confirmed_datetime = CASE WHEN $2 = 'confirmed' THEN proposed_datetime ELSE confirmed_datetime END,
		    coordinator_notes = CASE WHEN $4 <> '' THEN $4 ELSE coordinator_notes END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, string(to), string(from), note)
	return scanAppointment(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
