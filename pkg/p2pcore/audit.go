package p2pcore

import (
	"context"
	"log/slog"
)

// AuditLogger writes structured audit events for security- and
// reliability-relevant occurrences: gating decisions, reservation and
// circuit lifecycle, health-check failures. All methods are nil-safe —
// calling any method on a nil *AuditLogger is a no-op — so callers never
// need a nil check at the call site.
//
// Adapted from pkg/p2pnet/audit.go's AuditLogger: same nil-safe-receiver
// shape and "audit" slog group, generalized from that file's
// auth/service/daemon-specific event methods to a single Broadcaster
// subscriber that logs every EventKind this core emits.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an AuditLogger that writes to the given handler.
func NewAuditLogger(handler slog.Handler) *AuditLogger {
	return &AuditLogger{logger: slog.New(handler).WithGroup("audit")}
}

// Run subscribes to events and logs each one until ctx is cancelled. Call
// it in its own goroutine; it returns once ctx is done and the
// subscription is torn down.
func (a *AuditLogger) Run(ctx context.Context, events *Broadcaster) {
	if a == nil || events == nil {
		return
	}
	ch, cancel := events.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.log(ev)
		}
	}
}

func (a *AuditLogger) log(ev Event) {
	if a == nil {
		return
	}
	args := make([]any, 0, 2*len(ev.Attrs)+2)
	args = append(args, "kind", string(ev.Kind))
	for k, v := range ev.Attrs {
		args = append(args, k, v)
	}
	switch ev.Kind {
	case EventGated, EventReservationFailed, EventReservationDenied, EventCircuitFailed, EventHealthCheckFailed:
		a.logger.Warn("event", args...)
	default:
		a.logger.Info("event", args...)
	}
}
