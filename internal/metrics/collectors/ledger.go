package collectors

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hydra-network/hydra/internal/chain"
)

// LedgerCollector exposes the live chain state: height, supply, pending
// pool size and the current difficulty target.
type LedgerCollector struct {
	ledger       *chain.Ledger
	height       *prometheus.Desc
	totalSupply  *prometheus.Desc
	pendingCount *prometheus.Desc
	difficulty   *prometheus.Desc
}

func NewLedgerCollector(ledger *chain.Ledger) *LedgerCollector {
	return &LedgerCollector{
		ledger: ledger,
		height: prometheus.NewDesc(
			prometheus.BuildFQName("hydra", "chain", "height"),
			"Current blockchain height",
			nil,
			prometheus.Labels{"source": "ledger"},
		),
		totalSupply: prometheus.NewDesc(
			prometheus.BuildFQName("hydra", "tokens", "total_supply"),
			"Total HYDRA tokens in existence",
			nil,
			prometheus.Labels{"source": "ledger"},
		),
		pendingCount: prometheus.NewDesc(
			prometheus.BuildFQName("hydra", "transactions", "pending_count"),
			"Transactions waiting for inclusion in a block",
			nil,
			prometheus.Labels{"source": "ledger"},
		),
		difficulty: prometheus.NewDesc(
			prometheus.BuildFQName("hydra", "mining", "difficulty"),
			"Leading zero bits required of the next block hash",
			nil,
			prometheus.Labels{"source": "ledger"},
		),
	}
}

func (c *LedgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.height
	ch <- c.totalSupply
	ch <- c.pendingCount
	ch <- c.difficulty
}

func (c *LedgerCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.height, prometheus.GaugeValue, float64(c.ledger.Height()))
	ch <- prometheus.MustNewConstMetric(c.totalSupply, prometheus.GaugeValue, c.ledger.TotalSupply())
	ch <- prometheus.MustNewConstMetric(c.pendingCount, prometheus.GaugeValue, float64(len(c.ledger.PendingTransactions())))
	ch <- prometheus.MustNewConstMetric(c.difficulty, prometheus.GaugeValue, float64(c.ledger.Difficulty()))
}
