// Package wallet manages a node's keypair: ed25519 signing keys, the derived
// wallet address, and a keystore file that keeps the private key encrypted
// at rest under a password-derived key.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/hydra-network/hydra/internal/chain"
)

var (
	ErrWalletLocked       = errors.New("wallet is locked")
	ErrInvalidCredentials = errors.New("invalid wallet credentials")
)

// keystore is the on-disk form. The private key is sealed with AES-GCM
// under an Argon2id-derived key; everything else is public.
type keystore struct {
	Address             string `json:"address"`
	PublicKey           []byte `json:"public_key"`
	EncryptedPrivateKey []byte `json:"encrypted_private_key"`
	Salt                []byte `json:"salt"`
	Nonce               []byte `json:"nonce"`
}

// Wallet holds a keypair and its derived address. The address is immutable
// for the wallet's lifetime once keys are generated or loaded. All signing
// operations fail while locked; Lock zeroes the in-memory private key.
type Wallet struct {
	mu   sync.Mutex
	path string
	ks   keystore
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey // nil while locked
}

// deriveKey makes brute-forcing password attempts hardware-expensive.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

func seal(priv ed25519.PrivateKey, password string) (keystore, error) {
	salt := make([]byte, 16)
	if _, err := crand.Read(salt); err != nil {
		return keystore{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return keystore{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return keystore{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := crand.Read(nonce); err != nil {
		return keystore{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	pub := priv.Public().(ed25519.PublicKey)
	return keystore{
		Address:             chain.AddressFromPublicKey(pub),
		PublicKey:           pub,
		EncryptedPrivateKey: gcm.Seal(nil, nonce, priv, nil),
		Salt:                salt,
		Nonce:               nonce,
	}, nil
}

func unseal(ks keystore, password string) (ed25519.PrivateKey, error) {
	block, err := aes.NewCipher(deriveKey(password, ks.Salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	priv, err := gcm.Open(nil, ks.Nonce, ks.EncryptedPrivateKey, nil)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidCredentials
	}
	return priv, nil
}

// Open loads the keystore at path, or generates a fresh keypair and writes a
// new keystore when none exists. The returned wallet is unlocked.
func Open(path, password string) (*Wallet, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return create(path, password)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	var ks keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}

	priv, err := unseal(ks, password)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		path: path,
		ks:   ks,
		pub:  ks.PublicKey,
		priv: priv,
	}, nil
}

func create(path, password string) (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	ks, err := seal(priv, password)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		path: path,
		ks:   ks,
		pub:  pub,
		priv: priv,
	}
	if err := w.save(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) save() error {
	data, err := json.MarshalIndent(w.ks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode keystore: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	return nil
}

// Address returns the wallet address, the hash of the public key.
func (w *Wallet) Address() string {
	return w.ks.Address
}

// PublicKey returns the wallet's public key.
func (w *Wallet) PublicKey() ed25519.PublicKey {
	return w.pub
}

// IsLocked reports whether the private key is currently held in memory.
func (w *Wallet) IsLocked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.priv == nil
}

// Sign signs data with the private key, failing while locked.
func (w *Wallet) Sign(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.priv == nil {
		return nil, ErrWalletLocked
	}
	return ed25519.Sign(w.priv, data), nil
}

// Lock zeroes and drops the in-memory private key.
func (w *Wallet) Lock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.priv {
		w.priv[i] = 0
	}
	w.priv = nil
}

// Unlock decrypts the stored private key with the given password.
func (w *Wallet) Unlock(password string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.priv != nil {
		return nil
	}
	priv, err := unseal(w.ks, password)
	if err != nil {
		return err
	}
	w.priv = priv
	return nil
}

// ChangePassword re-seals the private key under a new password. It fails
// with ErrInvalidCredentials when the old password does not decrypt the
// stored key, leaving the keystore unchanged.
func (w *Wallet) ChangePassword(oldPassword, newPassword string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	priv, err := unseal(w.ks, oldPassword)
	if err != nil {
		return err
	}

	ks, err := seal(priv, newPassword)
	if err != nil {
		return err
	}
	w.ks = ks
	return w.save()
}

// NewTransaction builds and signs a transaction from this wallet.
func (w *Wallet) NewTransaction(typ chain.TxType, to string, amount float64, metadata string) (*chain.Transaction, error) {
	return chain.NewTransaction(typ, to, amount, metadata, w)
}

// Verify is a pure signature check independent of any wallet instance.
func Verify(data, signature []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, signature)
}
