// Package pool implements the Connection Pool: the authoritative registry
// of per-peer connections, its limits/watermark trimming, health
// monitoring, dial backoff, and reconnection policy.
//
// Grounded on pkg/p2pnet/peermanager.go's PeerManager (single
// sync.RWMutex over a plain map, snapshot-on-read query shape) and
// internal/auth/gater.go's ConnectionGater, generalized from this
// teacher's "authorized peer watchlist" domain to the spec's abstract
// connection-lifecycle domain.
package pool

import (
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// ConnectionID is a monotonic, process-unique identifier for a
// ManagedConnection. It is created on Add and never reused.
type ConnectionID uint64

// ConnectionState is the state-machine variant for a ManagedConnection,
// per spec §4.1.
type ConnectionState struct {
	kind              stateKind
	reconnectAttempt  int
	reconnectNextAt   time.Time
	disconnectReason  DisconnectReason
	failedReason      DisconnectReason
}

type stateKind int

const (
	stateConnecting stateKind = iota
	stateConnected
	stateDisconnected
	stateReconnecting
	stateFailed
)

func StateConnecting() ConnectionState { return ConnectionState{kind: stateConnecting} }
func StateConnected() ConnectionState  { return ConnectionState{kind: stateConnected} }
func StateDisconnected(reason DisconnectReason) ConnectionState {
	return ConnectionState{kind: stateDisconnected, disconnectReason: reason}
}
func StateReconnecting(attempt int, nextAt time.Time) ConnectionState {
	return ConnectionState{kind: stateReconnecting, reconnectAttempt: attempt, reconnectNextAt: nextAt}
}
func StateFailed(reason DisconnectReason) ConnectionState {
	return ConnectionState{kind: stateFailed, failedReason: reason}
}

func (s ConnectionState) IsConnected() bool    { return s.kind == stateConnected }
func (s ConnectionState) IsConnecting() bool    { return s.kind == stateConnecting }
func (s ConnectionState) IsDisconnected() bool  { return s.kind == stateDisconnected }
func (s ConnectionState) IsReconnecting() bool   { return s.kind == stateReconnecting }
func (s ConnectionState) IsFailed() bool         { return s.kind == stateFailed }

// DisconnectReason classifies why a connection ended. Equality is on Code
// only, per spec §3 ("equality on code only") — Message is diagnostic.
type DisconnectReason struct {
	Code    ReasonCode
	Message string
}

type ReasonCode int

const (
	ReasonNone ReasonCode = iota
	ReasonLocalClose
	ReasonRemoteClose
	ReasonTimeout
	ReasonIdleTimeout
	ReasonHealthCheckFailed
	ReasonConnectionLimitExceeded
	ReasonGatedDial
	ReasonGatedAccept
	ReasonGatedSecured
	ReasonError
)

func (r DisconnectReason) Equal(o DisconnectReason) bool { return r.Code == o.Code }

func Gated(stage string) DisconnectReason {
	switch stage {
	case "dial":
		return DisconnectReason{Code: ReasonGatedDial, Message: "gated(dial)"}
	case "accept":
		return DisconnectReason{Code: ReasonGatedAccept, Message: "gated(accept)"}
	default:
		return DisconnectReason{Code: ReasonGatedSecured, Message: "gated(secured)"}
	}
}

func (r ReasonCode) isGated() bool {
	return r == ReasonGatedDial || r == ReasonGatedAccept || r == ReasonGatedSecured
}

// ManagedConnection is one tracked connection, owned exclusively by the
// Pool; only Pool methods mutate it.
type ManagedConnection struct {
	ID           ConnectionID
	Peer         p2pcore.PeerID
	RemoteAddr   p2pcore.Multiaddr
	Direction    p2pcore.Direction
	Conn         any // opaque muxed-conn handle; nil once removed/disconnected without a handle
	State        ConnectionState
	RetryCount   int
	LastActivity time.Time
	ConnectedAt  time.Time
	Tags         map[string]struct{}
	Protected    bool
}

func (m *ManagedConnection) tagCount() int { return len(m.Tags) }

// ConnectionLimits is immutable configuration for watermark trimming and
// per-peer/direction caps.
type ConnectionLimits struct {
	HighWatermark int
	LowWatermark  int
	MaxPerPeer    int
	MaxInbound    int // 0 = unlimited
	MaxOutbound   int // 0 = unlimited
	GracePeriod   time.Duration
}

// DefaultLimits returns the production defaults from spec §6.
func DefaultLimits() ConnectionLimits {
	return ConnectionLimits{
		HighWatermark: p2pcore.DefaultHighWatermark,
		LowWatermark:  p2pcore.DefaultLowWatermark,
		MaxPerPeer:    p2pcore.DefaultMaxPerPeer,
		GracePeriod:   p2pcore.DefaultGracePeriod,
	}
}

// TrimmedConnection describes one connection removed by trimIfNeeded, in
// removal-rank order.
type TrimmedConnection struct {
	Rank         int
	ID           ConnectionID
	Peer         p2pcore.PeerID
	TagCount     int
	IdleDuration time.Duration
	Direction    p2pcore.Direction
}

// ConnectionTrimReport is the diagnostic result of trimIfNeeded.
type ConnectionTrimReport struct {
	Target     int
	Selected   int
	Trimmable  int
	Active     int
	Trimmed    []TrimmedConnection
	Constrained bool
}
