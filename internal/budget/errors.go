package budget

import (
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cookcard/ingest/internal/model"
)

// ErrBudgetUnavailable is returned when a reservation could not be made
// because the counter store failed. Reservations fail closed.
var ErrBudgetUnavailable = eris.New("budget: counter store unavailable")

// RateLimitError means an hourly request ceiling was hit. Clients should
// retry after RetryAfter.
type RateLimitError struct {
	Scope      string // "user" or "household"
	Limit      int64
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("budget: %s hourly rate limit of %d reached", e.Scope, e.Limit)
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds (minimum 1).
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// QuotaError means the user's monthly extraction quota is exhausted. This is
// a hard stop until the month rolls over or the tier changes.
type QuotaError struct {
	Tier  model.Tier
	Used  int64
	Limit int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("budget: monthly extraction quota exhausted (%d/%d, tier %s)", e.Used, e.Limit, e.Tier)
}

// BudgetExceededError means a vision-minute reservation would overrun a
// daily ceiling.
type BudgetExceededError struct {
	Scope     string // "global" or "user"
	Requested int64
	Used      int64
	Limit     int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget: %s daily vision minutes exceeded (%d used + %d requested > %d)", e.Scope, e.Used, e.Requested, e.Limit)
}
