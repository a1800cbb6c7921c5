package pool

import (
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// ReconnectionPolicy governs whether and how a disconnected peer is
// retried, per spec §4.3.
type ReconnectionPolicy struct {
	Enabled        bool
	MaxRetries     int
	Backoff        BackoffStrategy
	ResetThreshold time.Duration
}

// DefaultReconnectionPolicy returns the production defaults from spec §6.
func DefaultReconnectionPolicy() ReconnectionPolicy {
	return ReconnectionPolicy{
		Enabled:        p2pcore.DefaultReconnectEnabled,
		MaxRetries:     p2pcore.DefaultMaxRetries,
		Backoff:        DefaultBackoffStrategy(),
		ResetThreshold: p2pcore.DefaultResetThreshold,
	}
}

// ShouldReconnect implements spec §4.3's predicate: enabled, under the
// retry cap, and the disconnect reason is not one of the terminal ones.
func (r ReconnectionPolicy) ShouldReconnect(attempt int, reason DisconnectReason) bool {
	if !r.Enabled {
		return false
	}
	if attempt >= r.MaxRetries {
		return false
	}
	switch reason.Code {
	case ReasonLocalClose, ReasonConnectionLimitExceeded:
		return false
	}
	if reason.Code.isGated() {
		return false
	}
	return true
}

// Equal implements the structural equality the Open Questions in spec §9
// call for: the dedicated equality ignores BackoffStrategy, matching the
// (possibly unintentional) behavior of the source this spec distills from.
// That asymmetry is preserved here rather than silently "fixed."
func (r ReconnectionPolicy) Equal(o ReconnectionPolicy) bool {
	return r.Enabled == o.Enabled && r.MaxRetries == o.MaxRetries && r.ResetThreshold == o.ResetThreshold
}
