package chain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TxType identifies the kind of value movement a transaction performs.
type TxType string

const (
	TxReward   TxType = "REWARD"   // tokens minted for verified training work
	TxTransfer TxType = "TRANSFER" // user to user transfer
	TxQuery    TxType = "QUERY"    // tokens spent on a model query
	TxGenesis  TxType = "GENESIS"  // initial distribution, height 0 only
)

// RequiresSignature reports whether transactions of this type must carry a
// signature verifiable against the sender. REWARD and GENESIS have no sender;
// their legitimacy is a consensus-level property, not a cryptographic one.
func (t TxType) RequiresSignature() bool {
	return t == TxTransfer || t == TxQuery
}

func (t TxType) valid() bool {
	switch t {
	case TxReward, TxTransfer, TxQuery, TxGenesis:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown type tags so a malformed payload fails at
// decode time instead of surfacing later as an unverifiable transaction.
func (t *TxType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	tt := TxType(s)
	if !tt.valid() {
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformedData, s)
	}
	*t = tt
	return nil
}

// Transaction is a signed, typed transfer of HYDRA tokens. The ID is derived
// from the content fields, never assigned, so any mutation invalidates both
// the ID and the signature. The sender's public key travels with the
// transaction; verification checks that the sender address is the hash of
// that key before checking the signature itself.
type Transaction struct {
	ID              string  `json:"id"`
	Type            TxType  `json:"type"`
	From            string  `json:"from,omitempty"`
	To              string  `json:"to"`
	Amount          float64 `json:"amount"`
	Timestamp       int64   `json:"timestamp"`
	SenderPublicKey string  `json:"sender_public_key,omitempty"`
	Signature       string  `json:"signature,omitempty"`
	Metadata        string  `json:"metadata,omitempty"`
}

// Signer produces signatures binding an address to its public key. The
// wallet package provides the concrete implementation.
type Signer interface {
	Address() string
	PublicKey() ed25519.PublicKey
	Sign(data []byte) ([]byte, error)
}

// NewTransaction creates a transaction of the given type. TRANSFER and QUERY
// require a signer; REWARD and GENESIS must be created through
// NewRewardTransaction / genesis assembly and reject a signer-less call here.
func NewTransaction(typ TxType, to string, amount float64, metadata string, signer Signer) (*Transaction, error) {
	if !typ.valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrMalformedData, typ)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: %g", ErrInvalidAmount, amount)
	}
	if typ.RequiresSignature() && signer == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsignedTransaction, typ)
	}

	tx := &Transaction{
		Type:      typ,
		To:        to,
		Amount:    amount,
		Timestamp: time.Now().Unix(),
		Metadata:  metadata,
	}
	if signer != nil {
		tx.From = signer.Address()
		tx.SenderPublicKey = hex.EncodeToString(signer.PublicKey())
	}
	tx.ID = tx.ComputeID()

	if typ.RequiresSignature() {
		sig, err := signer.Sign(tx.SigningBytes())
		if err != nil {
			return nil, err
		}
		tx.Signature = hex.EncodeToString(sig)
	}
	return tx, nil
}

// NewRewardTransaction mints tokens to an address. It carries no sender and
// no signature; it is only valid once embedded in a block accepted by
// consensus rules.
func NewRewardTransaction(to string, amount float64, metadata string) (*Transaction, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: %g", ErrInvalidAmount, amount)
	}
	tx := &Transaction{
		Type:      TxReward,
		To:        to,
		Amount:    amount,
		Timestamp: time.Now().Unix(),
		Metadata:  metadata,
	}
	tx.ID = tx.ComputeID()
	return tx, nil
}

// canonical returns the deterministic preimage covering every field that the
// ID and signature commit to. The amount uses shortest-form formatting so
// the same value always renders identically.
func (tx *Transaction) canonical() string {
	return strings.Join([]string{
		string(tx.Type),
		tx.From,
		tx.To,
		strconv.FormatFloat(tx.Amount, 'g', -1, 64),
		strconv.FormatInt(tx.Timestamp, 10),
		tx.Metadata,
	}, "|")
}

// ComputeID derives the transaction identifier from its content. It is
// independent of the signature, so the ID is stable even when verification
// later fails.
func (tx *Transaction) ComputeID() string {
	sum := sha256.Sum256([]byte(tx.canonical()))
	return hex.EncodeToString(sum[:])
}

// SigningBytes is the digest the sender signs.
func (tx *Transaction) SigningBytes() []byte {
	sum := sha256.Sum256([]byte(tx.canonical()))
	return sum[:]
}

// VerifySignature checks the transaction's cryptographic self-consistency.
// REWARD and GENESIS always verify at this layer. For TRANSFER and QUERY the
// embedded public key must hash to the sender address and the signature must
// verify over the signing bytes.
func (tx *Transaction) VerifySignature() error {
	if tx.ID != tx.ComputeID() {
		return fmt.Errorf("%w: transaction id does not match content", ErrMalformedData)
	}
	if !tx.Type.RequiresSignature() {
		return nil
	}
	if tx.From == "" || tx.SenderPublicKey == "" || tx.Signature == "" {
		return fmt.Errorf("%w: missing sender, public key or signature", ErrInvalidSignature)
	}

	pub, err := hex.DecodeString(tx.SenderPublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad sender public key", ErrInvalidSignature)
	}
	if AddressFromPublicKey(pub) != tx.From {
		return fmt.Errorf("%w: public key does not match sender address", ErrInvalidSignature)
	}

	sig, err := hex.DecodeString(tx.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: bad signature encoding", ErrInvalidSignature)
	}
	if !ed25519.Verify(pub, tx.SigningBytes(), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Encode serializes the transaction to its wire form.
func (tx *Transaction) Encode() ([]byte, error) {
	return json.Marshal(tx)
}

// DecodeTransaction parses a transaction from its wire form, failing with
// ErrMalformedData on truncated or unknown-type input.
func DecodeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if !tx.Type.valid() {
		return nil, fmt.Errorf("%w: missing transaction type", ErrMalformedData)
	}
	return &tx, nil
}

// AddressFromPublicKey derives the wallet address for a public key.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}
