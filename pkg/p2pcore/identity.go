package p2pcore

import (
	"fmt"
	"os"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// LoadOrCreateIdentity loads an Ed25519 identity key from path, creating
// and persisting a new one if the file does not exist.
//
// Adapted from pkg/p2pnet/identity.go's LoadOrCreateIdentity, unchanged
// in behavior — NewNode takes a crypto.PrivKey directly rather than a key
// file, so this lives here as the file-backed convenience callers (e.g.
// cmd/relaynode) use to produce one.
func LoadOrCreateIdentity(path string) (crypto.PrivKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("p2pcore: unmarshal identity key from %s: %w", path, err)
		}
		return priv, nil
	}

	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("p2pcore: generate identity key pair: %w", err)
	}

	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("p2pcore: marshal identity key: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("p2pcore: save identity key to %s: %w", path, err)
	}
	return priv, nil
}
