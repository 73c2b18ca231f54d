package chain

import "errors"

// Validation failures are reported as one of these sentinels (possibly
// wrapped with context) so callers can branch on the precondition that
// failed. All of them are local and non-fatal: a failed operation leaves
// ledger state untouched.
var (
	ErrMalformedData        = errors.New("malformed data")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrChainLinkage         = errors.New("chain linkage error")
	ErrProofOfWork          = errors.New("proof of work insufficient")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrMiningExhausted      = errors.New("mining attempt ceiling reached")
	ErrUnsignedTransaction  = errors.New("transaction type requires a signer")
)
