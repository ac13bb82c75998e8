package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// temporary is implemented by upstream errors that know whether a retry
// could help (platform.StatusError does).
type temporary interface {
	Temporary() bool
}

// IsTransient reports whether err is worth one more attempt: upstream
// 429/5xx answers, network timeouts, and connection resets. Context
// cancellation and deadline expiry are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"connection reset by peer", "broken pipe", "i/o timeout", "server closed idle connection"} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
