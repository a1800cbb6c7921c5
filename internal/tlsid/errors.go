package tlsid

import "errors"

var (
	// ErrASN1 wraps any failure decoding the embedded SignedKey extension.
	ErrASN1 = errors.New("tlsid: malformed SignedKey extension")
	// ErrMissingExtension is returned when the leaf certificate carries no
	// libp2p identity extension at all.
	ErrMissingExtension = errors.New("tlsid: certificate missing libp2p identity extension")
	// ErrInvalidExtensionSig is returned when the embedded signature does
	// not verify against the certificate's own SubjectPublicKeyInfo.
	ErrInvalidExtensionSig = errors.New("tlsid: signature over certificate key does not verify")
	// ErrNotSelfSigned is returned when the leaf certificate is not signed
	// by its own embedded (ephemeral) public key.
	ErrNotSelfSigned = errors.New("tlsid: certificate is not self-signed")
	// ErrNoCertificates is returned when a presented TLS chain is empty.
	ErrNoCertificates = errors.New("tlsid: no certificates presented")
	ErrCertExpired     = errors.New("tlsid: certificate is expired or not yet valid")
)
