package collectors

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

const PersistedBlockCountQuery = "SELECT COUNT(*) FROM hydra.blocks"

// PersistedBlockCountCollector reports how many blocks the durable store
// holds. Divergence from the ledger height signals a persistence problem.
type PersistedBlockCountCollector struct {
	db         *sql.DB
	blockCount *prometheus.Desc
}

func NewPersistedBlockCountCollector(db *sql.DB) *PersistedBlockCountCollector {
	return &PersistedBlockCountCollector{
		db: db,
		blockCount: prometheus.NewDesc(
			prometheus.BuildFQName("hydra", "blocks", "persisted_count"),
			"Blocks persisted in the durable store",
			nil,
			prometheus.Labels{"source": "postgres"},
		),
	}
}

func (c *PersistedBlockCountCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blockCount
}

func (c *PersistedBlockCountCollector) Collect(ch chan<- prometheus.Metric) {
	var count int64
	err := c.db.QueryRow(PersistedBlockCountQuery).Scan(&count)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.blockCount, err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.blockCount, prometheus.GaugeValue, float64(count))
}
