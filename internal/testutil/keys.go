package testutil

import (
	"crypto/ed25519"

	"github.com/hydra-network/hydra/internal/chain"
)

// Signer is a deterministic in-memory keypair for tests. It implements
// chain.Signer without any keystore or locking machinery.
type Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewSigner derives a keypair from a fixed seed byte so tests get stable
// addresses across runs.
func NewSigner(seed byte) *Signer {
	seedBytes := make([]byte, ed25519.SeedSize)
	for i := range seedBytes {
		seedBytes[i] = seed
	}
	priv := ed25519.NewKeyFromSeed(seedBytes)
	return &Signer{
		pub:  priv.Public().(ed25519.PublicKey),
		priv: priv,
	}
}

func (s *Signer) Address() string {
	return chain.AddressFromPublicKey(s.pub)
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

func (s *Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}
