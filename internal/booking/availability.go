package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoSlotAvailable = errors.New("no slot available within the booking horizon")
)

const defaultScanStepMinutes = 30

// Availability answers whether a (therapist, start, duration) slot can
// be booked. A slot is free iff no pending or confirmed appointment
// overlaps it and it sits inside the therapist's working hours for
// that weekday. Overlap is half-open, so touching appointments do not
// conflict.
type Availability struct {
	repo          Repository
	lookaheadDays int
}

func NewAvailability(repo Repository, lookaheadDays int) *Availability {
	if lookaheadDays <= 0 {
		lookaheadDays = 30
	}
	return &Availability{
		repo:          repo,
		lookaheadDays: lookaheadDays,
	}
}

func (a *Availability) IsAvailable(ctx context.Context, therapistID uuid.UUID, start time.Time, durationMinutes int) (bool, error) {
	return a.isFree(ctx, therapistID, start, durationMinutes, nil)
}

// isFree is the shared check. exclude skips one appointment so confirm
// can re-validate against everyone but itself.
func (a *Availability) isFree(ctx context.Context, therapistID uuid.UUID, start time.Time, durationMinutes int, exclude *uuid.UUID) (bool, error) {
	if durationMinutes <= 0 {
		return false, fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}

	hours, err := a.repo.ListWorkingHours(ctx, therapistID)
	if err != nil {
		return false, fmt.Errorf("load working hours: %w", err)
	}
	if !withinWorkingHours(hours, start, durationMinutes) {
		return false, nil
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	overlapping, err := a.repo.CountOverlapping(ctx, therapistID, start, end, exclude)
	if err != nil {
		return false, fmt.Errorf("count overlapping appointments: %w", err)
	}

	return overlapping == 0, nil
}

// FindNextAvailable scans forward from onOrAfter in fixed increments,
// bounded by the look-ahead horizon. The increment is the therapist's
// shortest offered service duration. Returns ErrNoSlotAvailable when
// the horizon is exhausted, never an unbounded search.
func (a *Availability) FindNextAvailable(ctx context.Context, therapistID uuid.UUID, onOrAfter time.Time, durationMinutes int) (time.Time, error) {
	if durationMinutes <= 0 {
		return time.Time{}, fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}

	step, err := a.scanStep(ctx, therapistID)
	if err != nil {
		return time.Time{}, err
	}

	horizon := onOrAfter.AddDate(0, 0, a.lookaheadDays)
	for t := alignToStep(onOrAfter, step); t.Before(horizon); t = t.Add(step) {
		free, err := a.isFree(ctx, therapistID, t, durationMinutes, nil)
		if err != nil {
			return time.Time{}, err
		}
		if free {
			return t, nil
		}
	}

	return time.Time{}, ErrNoSlotAvailable
}

func (a *Availability) scanStep(ctx context.Context, therapistID uuid.UUID) (time.Duration, error) {
	services, err := a.repo.ListServices(ctx, therapistID)
	if err != nil {
		return 0, fmt.Errorf("load services: %w", err)
	}

	shortest := defaultScanStepMinutes
	for i, svc := range services {
		if svc.DurationMinutes <= 0 {
			continue
		}
		if i == 0 || svc.DurationMinutes < shortest {
			shortest = svc.DurationMinutes
		}
	}

	return time.Duration(shortest) * time.Minute, nil
}

// alignToStep rounds t up onto the step grid anchored at midnight.
func alignToStep(t time.Time, step time.Duration) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := t.Sub(midnight)
	if rem := offset % step; rem != 0 {
		offset += step - rem
	}
	return midnight.Add(offset)
}

// withinWorkingHours requires the whole interval to fit inside an
// available window on the start's weekday.
func withinWorkingHours(hours []WorkingHours, start time.Time, durationMinutes int) bool {
	startMin := start.Hour()*60 + start.Minute()
	endMin := startMin + durationMinutes

	for _, wh := range hours {
		if !wh.Available || wh.Weekday != start.Weekday() {
			continue
		}
		winStart, okStart := parseClock(wh.Start)
		winEnd, okEnd := parseClock(wh.End)
		if !okStart || !okEnd {
			continue
		}
		if startMin >= winStart && endMin <= winEnd {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
