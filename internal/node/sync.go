package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/hydra-network/hydra/internal/chain"
)

// Syncer performs catch-up synchronization: it periodically fetches peers'
// exported chains and adopts any that are longer (or heavier at equal
// length) than the local one after full re-verification.
type Syncer struct {
	ledger   *chain.Ledger
	bus      *Bus
	client   *resty.Client
	peers    []string
	interval time.Duration
}

func NewSyncer(ledger *chain.Ledger, bus *Bus, peers []string, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Syncer{
		ledger:   ledger,
		bus:      bus,
		client:   resty.New().SetTimeout(30 * time.Second),
		peers:    peers,
		interval: interval,
	}
}

// Run polls the configured peers until the context is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, peer := range s.peers {
				if err := s.SyncOnce(ctx, peer); err != nil {
					slog.Warn("Sync with peer failed", "peer", peer, "error", err)
				}
			}
		}
	}
}

// SyncOnce fetches one peer's chain export and adopts it when it beats the
// local chain.
func (s *Syncer) SyncOnce(ctx context.Context, peerURL string) error {
	resp, err := s.client.R().SetContext(ctx).Get(peerURL + "/chain/export")
	if err != nil {
		return errors.WithMessage(err, "failed to fetch chain export")
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("peer returned status %d", resp.StatusCode())
	}

	adopted, err := s.ledger.ImportIfBetter(ctx, resp.Body(), nil)
	if err != nil {
		return err
	}
	if adopted {
		slog.Info("Adopted peer chain", "peer", peerURL, "height", s.ledger.Height())
		s.bus.Publish(Event{Type: EventSyncCompleted, Height: s.ledger.Height()})
	}
	return nil
}

// ChainHandler serves the sync endpoints peers pull from: the full chain
// export and bounded block ranges.
func ChainHandler(ledger *chain.Ledger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/chain/export", func(w http.ResponseWriter, r *http.Request) {
		data, err := ledger.Export()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("/chain/blocks", func(w http.ResponseWriter, r *http.Request) {
		start, err := strconv.ParseUint(r.URL.Query().Get("start"), 10, 64)
		if err != nil {
			http.Error(w, "invalid start height", http.StatusBadRequest)
			return
		}
		end, err := strconv.ParseUint(r.URL.Query().Get("end"), 10, 64)
		if err != nil {
			http.Error(w, "invalid end height", http.StatusBadRequest)
			return
		}
		blocks := ledger.GetBlocks(start, end)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(blocks); err != nil {
			slog.Warn("Failed to encode block range", "error", err)
		}
	})

	return mux
}
