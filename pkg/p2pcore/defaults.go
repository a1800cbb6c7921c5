package p2pcore

import "time"

// Production defaults per spec §6. Exported as plain constants rather than
// YAML-bound struct fields since configuration parsing is out of scope;
// callers that want a config file build one of these Options structs
// themselves and feed it in.

const (
	DefaultHighWatermark = 100
	DefaultLowWatermark  = 80
	DefaultMaxPerPeer    = 2
	DefaultGracePeriod   = 30 * time.Second

	DefaultReconnectEnabled  = true
	DefaultMaxRetries        = 10
	DefaultBackoffBase       = 100 * time.Millisecond
	DefaultBackoffMult       = 2.0
	DefaultBackoffMax        = 5 * time.Minute
	DefaultBackoffJitter     = 0.10
	DefaultResetThreshold    = 30 * time.Second

	DefaultHealthInterval        = 30 * time.Second
	DefaultHealthTimeout         = 10 * time.Second
	DefaultHealthMaxFailures     = 3
	DefaultHealthCheckImmediate  = false

	DefaultIHaveTimeout      = 3 * time.Second
	DefaultLazyPushDelay     = 200 * time.Millisecond
	DefaultMaxIHaveBatchSize = 50
	DefaultMaxMessageSize    = 4 * 1024 * 1024
	DefaultSeenTTL           = 120 * time.Second
	DefaultMaxSeenEntries    = 10_000
	DefaultMessageStoreTTL   = 60 * time.Second
	DefaultMaxStoredMessages = 1_000

	DefaultMaxReservations     = 128
	DefaultMaxCircuitsPerPeer  = 16
	DefaultMaxCircuits         = 1024
	DefaultReservationDuration = 3600 * time.Second
	DefaultCircuitDuration     = 120 * time.Second
	DefaultCircuitDataLimit    = 128 * 1024

	// DefaultMessageStoreCapacity bounds the plumtree message store's FIFO
	// ring buffer, resolving the open question on store retention (see
	// DESIGN.md) in favor of an explicit capacity rather than unbounded
	// growth bounded only by TTL.
	DefaultMessageStoreCapacity = 4096
)

// Wire protocol IDs per spec §6.
const (
	ProtocolHOP      = "/libp2p/circuit/relay/0.2.0/hop"
	ProtocolSTOP     = "/libp2p/circuit/relay/0.2.0/stop"
	ProtocolPlumtree = "/plumtree/1.0.0"

	// ProtocolPing is Node's own health-probe protocol, deliberately not
	// go-libp2p's built-in "/ipfs/ping/1.0.0" — the teacher rolls its own
	// ping exchange (pkg/p2pnet/ping.go) rather than depend on the
	// built-in service, so Node follows suit.
	ProtocolPing = "/p2pcore/ping/1.0.0"
)

// TLSExtensionOID and ALPNProtocol per spec §6 / §4.8.
const (
	ALPNProtocol = "libp2p"
)

// TLSExtensionOID is the ASN.1 object identifier of the critical X.509
// extension carrying the SignedKey. Expressed as a dotted string here;
// internal/tlsid declares the same OID separately as an
// asn1.ObjectIdentifier (tlsid.ExtensionOID).
const TLSExtensionOID = "1.3.6.1.4.1.53594.1.1"
