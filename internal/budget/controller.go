package budget

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/model"
)

// Limits holds the configured ceilings. Tier maps fall back to the free
// tier when a tier is missing.
type Limits struct {
	MonthlyExtractions       map[model.Tier]int64
	HourlyPerUser            int64
	HourlyPerHousehold       int64
	DailyVisionMinutes       map[model.Tier]int64
	GlobalDailyVisionMinutes int64
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MonthlyExtractions: map[model.Tier]int64{
			model.TierFree:    10,
			model.TierPlus:    50,
			model.TierPremium: 200,
		},
		HourlyPerUser:      30,
		HourlyPerHousehold: 60,
		DailyVisionMinutes: map[model.Tier]int64{
			model.TierFree:    30,
			model.TierPlus:    60,
			model.TierPremium: 120,
		},
		GlobalDailyVisionMinutes: 600,
	}
}

// MonthlyQuota returns the monthly extraction limit for tier.
func (l Limits) MonthlyQuota(tier model.Tier) int64 {
	return tierValue(l.MonthlyExtractions, tier)
}

// VisionMinutes returns the daily vision-minute limit for tier.
func (l Limits) VisionMinutes(tier model.Tier) int64 {
	return tierValue(l.DailyVisionMinutes, tier)
}

func tierValue(m map[model.Tier]int64, tier model.Tier) int64 {
	if v, ok := m[tier]; ok {
		return v
	}
	return m[model.TierFree]
}

// Usage is a read-only snapshot of a user's counters.
type Usage struct {
	UserID              string     `json:"user_id"`
	Tier                model.Tier `json:"tier"`
	MonthlyUsed         int64      `json:"monthly_used"`
	MonthlyLimit        int64      `json:"monthly_limit"`
	HourlyUsed          int64      `json:"hourly_used"`
	HourlyLimit         int64      `json:"hourly_limit"`
	VisionMinutesUsed   int64      `json:"vision_minutes_used"`
	VisionMinutesLimit  int64      `json:"vision_minutes_limit"`
	GlobalVisionMinutes int64      `json:"global_vision_minutes_used"`
}

// Controller applies Limits against a shared Counters store. It holds no
// counter state of its own and is safe for concurrent use.
type Controller struct {
	counters Counters
	limits   Limits
	now      func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller.
func NewController(counters Counters, limits Limits, opts ...Option) *Controller {
	c := &Controller{counters: counters, limits: limits, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Limits returns the configured ceilings.
func (c *Controller) Limits() Limits { return c.limits }

// CheckRate counts one request against the user's and household's hourly
// ceilings. Returns *RateLimitError when either is exhausted. Counter store
// failures are logged and the request is allowed.
func (c *Controller) CheckRate(ctx context.Context, userID, householdID string) error {
	now := c.now()
	window := HourWindow(now)
	log := zap.L().With(zap.String("user_id", userID), zap.String("household_id", householdID))

	userKey := Key{SubjectID: UserSubject(userID), CounterType: CounterHourlyRequests, WindowKey: window}
	_, ok, err := c.counters.IncrementIfWithin(ctx, userKey, 1, c.limits.HourlyPerUser, HourTTL)
	switch {
	case err != nil:
		log.Warn("budget: user rate check failed, allowing request", zap.Error(err))
	case !ok:
		return &RateLimitError{Scope: "user", Limit: c.limits.HourlyPerUser, RetryAfter: untilNextHour(now)}
	}
	userCounted := err == nil

	if householdID == "" {
		return nil
	}

	hhKey := Key{SubjectID: HouseholdSubject(householdID), CounterType: CounterHourlyRequests, WindowKey: window}
	_, ok, err = c.counters.IncrementIfWithin(ctx, hhKey, 1, c.limits.HourlyPerHousehold, HourTTL)
	switch {
	case err != nil:
		log.Warn("budget: household rate check failed, allowing request", zap.Error(err))
	case !ok:
		if userCounted {
			c.refund(ctx, userKey, 1, HourTTL)
		}
		return &RateLimitError{Scope: "household", Limit: c.limits.HourlyPerHousehold, RetryAfter: untilNextHour(now)}
	}
	return nil
}

// ReserveExtraction takes one slot of the user's monthly extraction quota
// with a single increment-and-compare, so concurrent requests at the edge
// cannot both be admitted. Commit the reservation when the extraction
// succeeds; Release gives the slot back otherwise.
//
// A denial returns *QuotaError. A counter store failure is logged and the
// request is admitted with a nil Reservation, whose methods are no-ops.
func (c *Controller) ReserveExtraction(ctx context.Context, userID string, tier model.Tier) (*Reservation, error) {
	key := c.monthlyKey(userID)
	limit := c.limits.MonthlyQuota(tier)
	used, ok, err := c.counters.IncrementIfWithin(ctx, key, 1, limit, MonthTTL)
	if err != nil {
		zap.L().Warn("budget: quota reservation failed, allowing request",
			zap.String("user_id", userID), zap.Error(err))
		return nil, nil
	}
	if !ok {
		// Some backends cannot report the count on denial.
		used = max(used, limit)
		return nil, &QuotaError{Tier: tier, Used: used, Limit: limit}
	}
	return &Reservation{controller: c, keys: []Key{key}, amount: 1, ttl: MonthTTL}, nil
}

// ReserveVisionMinutes debits minutes from the global and then the user's
// daily vision budget. The returned Reservation must be released; it refunds
// both debits unless Commit was called first.
//
// A denial returns *BudgetExceededError. A counter store failure returns
// ErrBudgetUnavailable and no reservation.
func (c *Controller) ReserveVisionMinutes(ctx context.Context, userID string, tier model.Tier, minutes int64) (*Reservation, error) {
	if minutes <= 0 {
		return nil, eris.Errorf("budget: invalid vision minutes %d", minutes)
	}
	window := DayWindow(c.now())
	log := zap.L().With(zap.String("user_id", userID), zap.Int64("minutes", minutes))

	globalKey := Key{SubjectID: GlobalSubject, CounterType: CounterDailyVisionMinutes, WindowKey: window}
	globalLimit := c.limits.GlobalDailyVisionMinutes
	used, ok, err := c.counters.IncrementIfWithin(ctx, globalKey, minutes, globalLimit, DayTTL)
	if err != nil {
		log.Error("budget: global vision reservation failed", zap.Error(err))
		return nil, eris.Wrap(ErrBudgetUnavailable, err.Error())
	}
	if !ok {
		return nil, &BudgetExceededError{Scope: "global", Requested: minutes, Used: used, Limit: globalLimit}
	}

	userKey := Key{SubjectID: UserSubject(userID), CounterType: CounterDailyVisionMinutes, WindowKey: window}
	userLimit := c.limits.VisionMinutes(tier)
	used, ok, err = c.counters.IncrementIfWithin(ctx, userKey, minutes, userLimit, DayTTL)
	if err != nil {
		c.refund(ctx, globalKey, minutes, DayTTL)
		log.Error("budget: user vision reservation failed", zap.Error(err))
		return nil, eris.Wrap(ErrBudgetUnavailable, err.Error())
	}
	if !ok {
		c.refund(ctx, globalKey, minutes, DayTTL)
		return nil, &BudgetExceededError{Scope: "user", Requested: minutes, Used: used, Limit: userLimit}
	}

	log.Debug("budget: vision minutes reserved", zap.Int64("user_used", used))
	return &Reservation{
		controller: c,
		keys:       []Key{userKey, globalKey},
		amount:     minutes,
		ttl:        DayTTL,
	}, nil
}

// Usage returns the user's current counters.
func (c *Controller) Usage(ctx context.Context, userID string, tier model.Tier) (*Usage, error) {
	now := c.now()
	u := &Usage{
		UserID:             userID,
		Tier:               tier,
		MonthlyLimit:       c.limits.MonthlyQuota(tier),
		HourlyLimit:        c.limits.HourlyPerUser,
		VisionMinutesLimit: c.limits.VisionMinutes(tier),
	}
	reads := []struct {
		key Key
		dst *int64
	}{
		{c.monthlyKey(userID), &u.MonthlyUsed},
		{Key{SubjectID: UserSubject(userID), CounterType: CounterHourlyRequests, WindowKey: HourWindow(now)}, &u.HourlyUsed},
		{Key{SubjectID: UserSubject(userID), CounterType: CounterDailyVisionMinutes, WindowKey: DayWindow(now)}, &u.VisionMinutesUsed},
		{Key{SubjectID: GlobalSubject, CounterType: CounterDailyVisionMinutes, WindowKey: DayWindow(now)}, &u.GlobalVisionMinutes},
	}
	for _, r := range reads {
		n, err := c.counters.Get(ctx, r.key)
		if err != nil {
			return nil, eris.Wrapf(err, "budget: read %s", r.key.CounterType)
		}
		*r.dst = n
	}
	return u, nil
}

func (c *Controller) monthlyKey(userID string) Key {
	return Key{SubjectID: UserSubject(userID), CounterType: CounterMonthlyExtractions, WindowKey: MonthWindow(c.now())}
}

// refund returns delta to key. It runs on a context detached from ctx's
// cancellation so a cancelled request still gives its minutes back.
func (c *Controller) refund(ctx context.Context, key Key, delta int64, ttl time.Duration) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := c.counters.Increment(rctx, key, -delta, ttl); err != nil {
		zap.L().Error("budget: refund failed",
			zap.String("key", key.String()), zap.Int64("delta", delta), zap.Error(err))
	}
}
