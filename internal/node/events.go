package node

import (
	"sync"

	"github.com/hydra-network/hydra/internal/chain"
)

// EventType enumerates the node lifecycle events callers can subscribe to.
// Events replace caller-owned callbacks so the core never holds references
// into caller state.
type EventType string

const (
	EventNewBlock         EventType = "new_block"
	EventTokensEarned     EventType = "tokens_earned"
	EventProposalResolved EventType = "proposal_resolved"
	EventModelUpdated     EventType = "model_updated"
	EventSyncCompleted    EventType = "sync_completed"
)

// Event is one node notification. Only the fields relevant to its type are
// populated.
type Event struct {
	Type         EventType
	Block        *chain.Block
	Amount       float64
	Address      string
	ProposalID   string
	ModelVersion string
	Height       uint64
}

// Bus fans node events out to subscribers. Publishing never blocks: slow
// subscribers lose events rather than stalling consensus or mining.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving all future events.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 16)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to every subscriber that can take it.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
