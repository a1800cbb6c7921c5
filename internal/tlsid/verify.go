package tlsid

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// Verify checks a presented certificate chain against the libp2p-TLS
// binding and returns the PeerID it proves control of:
//
//  1. parse the leaf certificate (libp2p-TLS chains are always exactly one
//     self-signed certificate);
//  2. confirm it is currently valid and self-signed by its own
//     (ephemeral) key;
//  3. locate and ASN.1-decode the SignedKey extension at ExtensionOID;
//  4. unmarshal the embedded libp2p public key, verify its signature
//     over signingPrefix+leaf-SPKI, and derive the PeerID from that key.
func Verify(rawCerts [][]byte) (p2pcore.PeerID, error) {
	if len(rawCerts) == 0 {
		return "", ErrNoCertificates
	}

	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return "", fmt.Errorf("tlsid: parse leaf certificate: %w", err)
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return "", ErrCertExpired
	}

	if err := leaf.CheckSignatureFrom(leaf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotSelfSigned, err)
	}

	var extVal []byte
	for _, ext := range leaf.Extensions {
		if ext.Id.Equal(ExtensionOID) {
			extVal = ext.Value
			break
		}
	}
	if extVal == nil {
		return "", ErrMissingExtension
	}

	pubKeyBytes, sig, err := unmarshalSignedKey(extVal)
	if err != nil {
		return "", err
	}

	pub, err := crypto.UnmarshalPublicKey(pubKeyBytes)
	if err != nil {
		return "", fmt.Errorf("%w: unmarshal embedded public key: %v", ErrASN1, err)
	}

	spki, err := x509.MarshalPKIXPublicKey(leaf.PublicKey)
	if err != nil {
		return "", fmt.Errorf("tlsid: marshal leaf public key: %w", err)
	}

	ok, err := pub.Verify(append([]byte(signingPrefix), spki...), sig)
	if err != nil || !ok {
		return "", ErrInvalidExtensionSig
	}

	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("tlsid: derive peer id: %w", err)
	}

	return p2pcore.PeerID(id), nil
}

// ExpectedPeer verifies the chain and additionally checks the derived
// PeerID matches want, returning ErrPeerIDMismatch otherwise. This is the
// check a dialer makes when it knows which peer it intended to reach.
func ExpectedPeer(rawCerts [][]byte, want p2pcore.PeerID) error {
	got, err := Verify(rawCerts)
	if err != nil {
		return err
	}
	if got != want {
		return p2pcore.ErrPeerIDMismatch
	}
	return nil
}
