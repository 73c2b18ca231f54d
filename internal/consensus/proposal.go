// Package consensus implements the Proof-of-Training agreement layer: nodes
// broadcast training proposals, every validator judges them independently
// with the same deterministic checks, and a voting quorum with a deadline
// decides whether a REWARD transaction is minted into the ledger.
package consensus

import (
	"errors"
	"time"
)

var (
	ErrProposalResolved = errors.New("proposal already resolved")
	ErrUnknownProposal  = errors.New("unknown proposal")
	ErrPastDeadline     = errors.New("proposal voting deadline has passed")
	ErrDeadlineTooFar   = errors.New("proposal voting deadline exceeds the vote window")
	ErrDuplicateVote    = errors.New("voter already voted on proposal")
)

// Status is the per-node state of a proposal.
type Status string

const (
	StatusReceived    Status = "received"
	StatusUnderReview Status = "under_review"
	StatusVerified    Status = "verified"
	StatusRejected    Status = "rejected"
	StatusResolved    Status = "resolved"
)

// Proposal is a claim of useful ML training work submitted for peer
// validation and reward. The gradient payload itself is opaque to the
// ledger; only the declared metrics and hashes are inspected.
type Proposal struct {
	ID           string `json:"id"`
	Proposer     string `json:"proposer"` // proposer's wallet address
	ModelVersion string `json:"model_version"`
	GradientHash string `json:"gradient_hash"`
	Gradient     []byte `json:"gradient"`

	// Proof of training
	LossBefore     float64 `json:"loss_before"`
	LossAfter      float64 `json:"loss_after"`
	SamplesTrained int     `json:"samples_trained"`
	TrainTimeMs    int64   `json:"train_time_ms"`
	DatasetHash    string  `json:"dataset_hash"`

	// Voting
	VotesAccept    int   `json:"votes_accept"`
	VotesReject    int   `json:"votes_reject"`
	VotingDeadline int64 `json:"voting_deadline"` // unix seconds

	// Verification
	Verified  bool     `json:"verified"`
	Verifiers []string `json:"verifiers"`
}

// Policy holds the consensus policy parameters. They are configuration, not
// hidden constants: every honest node on a network must run the same values
// for verdicts to be reproducible.
type Policy struct {
	// MinLossImprovement is the least LossBefore-LossAfter delta a
	// proposal must demonstrate. Guards against no-op proposals.
	MinLossImprovement float64
	// MaxGradientNorm bounds the RMS magnitude of the gradient payload.
	// Guards against corrupting updates.
	MaxGradientNorm float64
	// MinSamplesPerSecond / MaxSamplesPerSecond bound the claimed
	// training rate. Guards against fabricated work.
	MinSamplesPerSecond float64
	MaxSamplesPerSecond float64
	// RewardAmount is the fixed HYDRA reward minted per accepted proposal.
	RewardAmount float64
	// Quorum is the accept-vote count that resolves a proposal early.
	Quorum int
	// VoteWindow is how long a proposal accepts votes before its deadline.
	VoteWindow time.Duration
}

// DefaultPolicy returns the network defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinLossImprovement:  0.001,
		MaxGradientNorm:     10.0,
		MinSamplesPerSecond: 0.1,
		MaxSamplesPerSecond: 100000,
		RewardAmount:        10.0,
		Quorum:              3,
		VoteWindow:          30 * time.Second,
	}
}

// Resolution is the terminal outcome of a proposal, published to the node's
// event bus and gossiped to peers.
type Resolution struct {
	ProposalID   string
	Proposer     string
	Rewarded     bool
	RewardTxID   string
	VotesAccept  int
	VotesReject  int
	RewardAmount float64
}
