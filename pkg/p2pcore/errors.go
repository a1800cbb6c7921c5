package p2pcore

import "errors"

// Error kinds per spec §7. These are sentinel values, not typed
// exceptions — callers compare with errors.Is, matching the style of
// pkg/p2pnet/errors.go in the teacher repo.
var (
	// Transport/stream.
	ErrStreamClosed = errors.New("p2pcore: stream closed")
	ErrTimeout      = errors.New("p2pcore: timeout")

	// Protocol violation.
	ErrProtocolViolation = errors.New("p2pcore: protocol violation")
	ErrMessageTooLarge   = errors.New("p2pcore: message too large")

	// Gating.
	ErrGatedDial     = errors.New("p2pcore: gated at dial")
	ErrGatedAccept   = errors.New("p2pcore: gated at accept")
	ErrGatedSecured  = errors.New("p2pcore: gated at secured")

	// Limits.
	ErrConnectionLimitExceeded = errors.New("p2pcore: connection limit exceeded")
	ErrResourceLimitExceeded   = errors.New("p2pcore: resource limit exceeded")

	// Reservation/circuit.
	ErrReservationFailed = errors.New("p2pcore: reservation failed")
	ErrConnectionFailed  = errors.New("p2pcore: connection failed")
	ErrNoReservation     = errors.New("p2pcore: no reservation")
	ErrLimitExceeded     = errors.New("p2pcore: circuit limit exceeded")
	ErrCircuitClosed     = errors.New("p2pcore: circuit closed")

	// TLS/identity.
	ErrMissingLibp2pExtension = errors.New("p2pcore: missing libp2p extension")
	ErrInvalidExtensionSig    = errors.New("p2pcore: invalid extension signature")
	ErrPeerIDMismatch         = errors.New("p2pcore: peer id mismatch")
	ErrNotSelfSigned          = errors.New("p2pcore: certificate not self-signed")
	ErrUnsupportedKeyType     = errors.New("p2pcore: unsupported key type")
	ErrCertificateExpired     = errors.New("p2pcore: certificate expired")
	ErrCertificateNotYetValid = errors.New("p2pcore: certificate not yet valid")
	ErrASN1                   = errors.New("p2pcore: asn1 error")

	// Plumtree.
	ErrNotStarted    = errors.New("p2pcore: not started")
	ErrInvalidMessage = errors.New("p2pcore: invalid message")
	ErrDecodingFailed = errors.New("p2pcore: decoding failed")
	ErrNotSubscribed  = errors.New("p2pcore: not subscribed to topic")
)
