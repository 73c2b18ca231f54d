package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hydra-network/hydra/internal/chain"
)

// tracked is the per-proposal state at this node. Vote tallying serializes
// on the tracked mutex so concurrent gossip never loses an update, while
// independent proposals proceed in parallel.
type tracked struct {
	mu       sync.Mutex
	proposal *Proposal
	status   Status
	voters   map[string]struct{}
	resolved bool
}

// Engine runs the proposal state machine for one node. It validates
// incoming proposals, tallies votes at most once per voter, and resolves
// each proposal exactly once when the quorum is reached or the deadline
// elapses, minting a REWARD transaction into the ledger's pending pool on
// acceptance.
type Engine struct {
	policy    Policy
	validator *Validator
	ledger    *chain.Ledger
	now       func() time.Time

	mu        sync.Mutex
	proposals map[string]*tracked

	resolutions chan Resolution
}

func NewEngine(ledger *chain.Ledger, policy Policy) *Engine {
	return &Engine{
		policy:      policy,
		validator:   NewValidator(policy),
		ledger:      ledger,
		now:         time.Now,
		proposals:   make(map[string]*tracked),
		resolutions: make(chan Resolution, 64),
	}
}

// Resolutions delivers terminal proposal outcomes. The channel is buffered;
// resolutions are dropped when nobody drains it rather than blocking
// consensus progress.
func (e *Engine) Resolutions() <-chan Resolution {
	return e.resolutions
}

// Submit registers a proposal on first sight, validates it, and casts this
// node's vote. It returns true when the proposal verified and an accept vote
// was cast. Proposals already past their deadline are refused, as are
// proposals claiming a deadline beyond Policy.VoteWindow from now; the
// deadline is proposer-supplied, so without the upper bound a proposal could
// hold votes open indefinitely.
func (e *Engine) Submit(ctx context.Context, p *Proposal, selfID string) (bool, error) {
	if p.ID == "" {
		return false, fmt.Errorf("proposal has no id")
	}
	if p.VotingDeadline <= e.now().Unix() {
		return false, fmt.Errorf("%w: %s", ErrPastDeadline, p.ID)
	}
	if p.VotingDeadline > e.now().Add(e.policy.VoteWindow).Unix() {
		return false, fmt.Errorf("%w: %s", ErrDeadlineTooFar, p.ID)
	}

	e.mu.Lock()
	t, known := e.proposals[p.ID]
	if !known {
		t = &tracked{
			proposal: p,
			status:   StatusReceived,
			voters:   make(map[string]struct{}),
		}
		e.proposals[p.ID] = t
	}
	e.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusReceived {
		// Already reviewed; nothing left to do for a re-gossiped copy.
		return t.status == StatusVerified, nil
	}
	t.status = StatusUnderReview

	accept := true
	if err := e.validator.Validate(t.proposal); err != nil {
		slog.Debug("Proposal failed validation", "proposal", p.ID, "reason", err)
		t.status = StatusRejected
		accept = false
	} else {
		t.status = StatusVerified
		t.proposal.Verified = true
		t.proposal.Verifiers = append(t.proposal.Verifiers, selfID)
	}

	if err := e.voteLocked(ctx, t, selfID, accept); err != nil {
		return accept, err
	}
	return accept, nil
}

// Vote records one peer's vote. Each distinct voter is counted at most once
// per proposal; votes after resolution are no-ops reported as
// ErrProposalResolved.
func (e *Engine) Vote(ctx context.Context, proposalID, voter string, accept bool) error {
	e.mu.Lock()
	t, known := e.proposals[proposalID]
	e.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return e.voteLocked(ctx, t, voter, accept)
}

func (e *Engine) voteLocked(ctx context.Context, t *tracked, voter string, accept bool) error {
	if t.resolved {
		return ErrProposalResolved
	}
	if _, dup := t.voters[voter]; dup {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateVote, voter, t.proposal.ID)
	}
	t.voters[voter] = struct{}{}

	if accept {
		t.proposal.VotesAccept++
	} else {
		t.proposal.VotesReject++
	}

	if t.proposal.VotesAccept >= e.policy.Quorum {
		return e.resolveLocked(ctx, t)
	}
	return nil
}

// ResolveExpired resolves every proposal whose voting deadline has elapsed.
// The node calls this periodically.
func (e *Engine) ResolveExpired(ctx context.Context) {
	now := e.now().Unix()

	e.mu.Lock()
	expired := make([]*tracked, 0)
	for _, t := range e.proposals {
		expired = append(expired, t)
	}
	e.mu.Unlock()

	for _, t := range expired {
		t.mu.Lock()
		if !t.resolved && t.proposal.VotingDeadline <= now {
			if err := e.resolveLocked(ctx, t); err != nil {
				slog.Warn("Failed to resolve expired proposal", "proposal", t.proposal.ID, "error", err)
			}
		}
		t.mu.Unlock()
	}
}

// Resolve forces resolution of a proposal by quorum-or-current-tally.
// Repeated attempts after the terminal state return ErrProposalResolved and
// change nothing.
func (e *Engine) Resolve(ctx context.Context, proposalID string) error {
	e.mu.Lock()
	t, known := e.proposals[proposalID]
	e.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return ErrProposalResolved
	}
	return e.resolveLocked(ctx, t)
}

// resolveLocked transitions a proposal to its terminal state exactly once.
// Acceptance mints one REWARD transaction to the proposer.
func (e *Engine) resolveLocked(ctx context.Context, t *tracked) error {
	if t.resolved {
		return ErrProposalResolved
	}
	t.resolved = true
	t.status = StatusResolved

	p := t.proposal
	res := Resolution{
		ProposalID:  p.ID,
		Proposer:    p.Proposer,
		VotesAccept: p.VotesAccept,
		VotesReject: p.VotesReject,
	}

	if p.VotesAccept >= e.policy.Quorum {
		reward, err := chain.NewRewardTransaction(p.Proposer, e.policy.RewardAmount, "training reward for proposal "+p.ID)
		if err != nil {
			return err
		}
		if err := e.ledger.AddTransaction(ctx, reward); err != nil {
			return fmt.Errorf("failed to mint training reward: %w", err)
		}
		res.Rewarded = true
		res.RewardTxID = reward.ID
		res.RewardAmount = e.policy.RewardAmount
		slog.Info("Proposal accepted", "proposal", p.ID, "proposer", p.Proposer, "reward", e.policy.RewardAmount)
	} else {
		slog.Info("Proposal discarded", "proposal", p.ID, "accept", p.VotesAccept, "reject", p.VotesReject)
	}

	select {
	case e.resolutions <- res:
	default:
	}
	return nil
}

// Get returns a copy of the tracked proposal and its status.
func (e *Engine) Get(proposalID string) (Proposal, Status, bool) {
	e.mu.Lock()
	t, known := e.proposals[proposalID]
	e.mu.Unlock()
	if !known {
		return Proposal{}, "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.proposal, t.status, true
}
