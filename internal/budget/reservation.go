package budget

import (
	"context"
	"sync"
	"time"
)

// Reservation is a scoped hold on a budget debit (vision minutes or a
// monthly extraction slot). Callers defer Release immediately after a
// successful reserve and call Commit once the work has succeeded:
//
//	res, err := ctrl.ReserveVisionMinutes(ctx, user, tier, mins)
//	if err != nil { ... }
//	defer res.Release(ctx)
//	... call the model ...
//	res.Commit()
type Reservation struct {
	controller *Controller
	keys       []Key
	amount     int64
	ttl        time.Duration

	mu        sync.Mutex
	committed bool
	released  bool
}

// Amount returns the reserved amount.
func (r *Reservation) Amount() int64 {
	if r == nil {
		return 0
	}
	return r.amount
}

// Commit keeps the debit. Release after Commit is a no-op.
func (r *Reservation) Commit() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = true
}

// Release refunds the reserved amount unless committed. It is idempotent
// and survives cancellation of ctx.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.committed || r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()

	for _, k := range r.keys {
		r.controller.refund(ctx, k, r.amount, r.ttl)
	}
}
