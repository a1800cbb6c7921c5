package tlsid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// ExtensionOID is the critical X.509 extension OID that carries the
// SignedKey, reserved by the libp2p project under its private enterprise
// number.
var ExtensionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 53594, 1, 1}

// ALPNProtocol is the ALPN identifier peers negotiate to indicate this
// certificate-binding handshake, rather than a generic HTTPS TLS session.
const ALPNProtocol = "libp2p"

// certValidity is deliberately long: the certificate's own expiration is
// not meaningful for libp2p TLS (the cryptographic binding is the identity
// proof, not the CA-style lifetime), but Go's TLS stack requires a usable
// NotBefore/NotAfter window.
const certValidity = 100 * 365 * 24 * time.Hour

// Generate builds a self-signed TLS certificate for identityKey, following
// the libp2p-TLS handshake binding:
//
//  1. generate a fresh ECDSA P-256 key pair for the certificate itself
//     (never reused across connections or restarts);
//  2. marshal that certificate key's SubjectPublicKeyInfo;
//  3. sign signingPrefix+SPKI with the long-lived libp2p identity key;
//  4. embed {libp2p public key, signature} as a SignedKey ASN.1 SEQUENCE
//     in a critical X.509 extension at ExtensionOID;
//  5. self-sign the certificate template with the certificate key.
func Generate(identityKey crypto.PrivKey) (tls.Certificate, error) {
	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsid: generate certificate key: %w", err)
	}

	spki, err := x509.MarshalPKIXPublicKey(&certKey.PublicKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsid: marshal certificate public key: %w", err)
	}

	sig, err := identityKey.Sign(append([]byte(signingPrefix), spki...))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsid: sign certificate key: %w", err)
	}

	pub := identityKey.GetPublic()
	pubBytes, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsid: marshal identity public key: %w", err)
	}

	extVal, err := marshalSignedKey(pubBytes, sig)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsid: generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"libp2p"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certValidity),
		ExtraExtensions: []pkix.Extension{
			{Id: ExtensionOID, Critical: true, Value: extVal},
		},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &certKey.PublicKey, certKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsid: create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  certKey,
	}, nil
}

// Config builds a *tls.Config suitable for a libp2p-TLS listener or dialer:
// a single self-signed certificate bound to identityKey, client
// authentication requested (every peer presents its own certificate, there
// is no shared trust root), and verification deferred to Verify.
func Config(identityKey crypto.PrivKey) (*tls.Config, error) {
	cert, err := Generate(identityKey)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true, // identity is verified out-of-band via VerifyPeerCertificate
		NextProtos:            []string{ALPNProtocol},
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			_, err := Verify(rawCerts)
			return err
		},
	}, nil
}
