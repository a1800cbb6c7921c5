// Package tlsid implements the libp2p-TLS identity binding: a
// self-signed TLS certificate whose SubjectPublicKeyInfo is signed by a
// long-lived libp2p identity key, embedded in a critical X.509 extension,
// so a peer can prove control of its libp2p PeerID during the TLS
// handshake without a certificate authority.
package tlsid

import (
	"encoding/asn1"
	"fmt"
)

// signedKeyASN1 is the DER-encoded SEQUENCE embedded in the libp2p TLS
// extension: the libp2p public key (protobuf-marshaled, per
// crypto.MarshalPublicKey) and a signature over the TLS certificate's
// SubjectPublicKeyInfo, prefixed by signingPrefix.
type signedKeyASN1 struct {
	PubKey    []byte
	Signature []byte
}

// signingPrefix is prepended to the SPKI bytes before signing, so a
// signature produced for this purpose can never be replayed as a
// signature over some other unrelated libp2p message.
const signingPrefix = "libp2p-tls-handshake:"

func marshalSignedKey(pubKeyBytes, signature []byte) ([]byte, error) {
	raw, err := asn1.Marshal(signedKeyASN1{PubKey: pubKeyBytes, Signature: signature})
	if err != nil {
		return nil, fmt.Errorf("tlsid: marshal signed key: %w", err)
	}
	return raw, nil
}

func unmarshalSignedKey(der []byte) (pubKeyBytes, signature []byte, err error) {
	var sk signedKeyASN1
	rest, err := asn1.Unmarshal(der, &sk)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrASN1, err)
	}
	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("%w: trailing data after SignedKey", ErrASN1)
	}
	return sk.PubKey, sk.Signature, nil
}
