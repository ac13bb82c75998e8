// Package budget enforces per-user, per-household and global ceilings on
// extraction attempts and vision minutes. All state lives in an external
// counter store manipulated with single-round-trip atomic operations.
package budget

import (
	"context"
	"fmt"
	"time"
)

// CounterType distinguishes the ceilings sharing one counter table.
type CounterType string

const (
	CounterMonthlyExtractions CounterType = "monthly_extractions"
	CounterHourlyRequests     CounterType = "hourly_requests"
	CounterDailyVisionMinutes CounterType = "daily_vision_minutes"
)

// GlobalSubject is the single shared subject for the global vision budget.
const GlobalSubject = "global"

// Window TTLs. Counters outlive their window slightly so a late refund
// still lands on the row it debited.
const (
	HourTTL  = 2 * time.Hour
	DayTTL   = 48 * time.Hour
	MonthTTL = 40 * 24 * time.Hour
)

// Key addresses one counter row.
type Key struct {
	SubjectID   string
	CounterType CounterType
	WindowKey   string
}

// String renders the key for key-value backends.
func (k Key) String() string {
	return fmt.Sprintf("cookcard:counter:%s:%s:%s", k.SubjectID, k.CounterType, k.WindowKey)
}

// Counters is the atomic counter store contract. Implementations must make
// IncrementIfWithin a single atomic operation against shared storage; a
// missing counter counts as zero.
type Counters interface {
	// IncrementIfWithin adds delta only if the result stays <= limit. It
	// returns the resulting count when allowed, or the unchanged count (when
	// known) when denied.
	IncrementIfWithin(ctx context.Context, key Key, delta, limit int64, ttl time.Duration) (int64, bool, error)
	// Increment adds delta unconditionally (delta may be negative for
	// refunds); the stored value never drops below zero.
	Increment(ctx context.Context, key Key, delta int64, ttl time.Duration) (int64, error)
	// Get returns the current count, 0 if absent or expired.
	Get(ctx context.Context, key Key) (int64, error)
}

// UserSubject namespaces a user ID.
func UserSubject(userID string) string { return "user:" + userID }

// HouseholdSubject namespaces a household ID.
func HouseholdSubject(householdID string) string { return "household:" + householdID }

// HourWindow returns the UTC hour bucket for t.
func HourWindow(t time.Time) string { return t.UTC().Format("2006010215") }

// DayWindow returns the UTC day bucket for t.
func DayWindow(t time.Time) string { return t.UTC().Format("20060102") }

// MonthWindow returns the UTC month bucket for t.
func MonthWindow(t time.Time) string { return t.UTC().Format("200601") }

// untilNextHour is the wait before the hourly window rolls over.
func untilNextHour(t time.Time) time.Duration {
	next := t.UTC().Truncate(time.Hour).Add(time.Hour)
	return next.Sub(t.UTC())
}
