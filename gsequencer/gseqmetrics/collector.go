// Package gseqmetrics exports sequencer state as Prometheus metrics.
package gseqmetrics

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gsequencer/gblock"
	"github.com/gordian-engine/gsequencer/gsequencer"
	"github.com/gordian-engine/gsequencer/gtxqueue"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "gsequencer"
	subsystem = "sequencer"
)

// Collector is a [gsequencer.Observer] that records Prometheus metrics.
type Collector struct {
	slot       prometheus.Gauge
	epoch      prometheus.Gauge
	queueDepth prometheus.Gauge
	feeTotal   prometheus.Gauge

	blocks      prometheus.Counter
	unpublished prometheus.Counter
	includedTxs prometheus.Counter
	blockTxns   prometheus.Histogram

	rejected *prometheus.CounterVec
}

var _ gsequencer.Observer = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		slot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "current_slot",
			Help: "Next slot to be produced",
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "current_epoch",
			Help: "Current epoch",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "queue_depth",
			Help: "Transactions waiting in the queue after the last block",
		}),
		feeTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "fee_total",
			Help: "Cumulative fees of included transactions",
		}),

		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "blocks_total",
			Help: "Blocks produced by this process",
		}),
		unpublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "unpublished_blocks_total",
			Help: "Blocks produced but not handed downstream",
		}),
		includedTxs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "included_transactions_total",
			Help: "Transactions included in blocks by this process",
		}),
		blockTxns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "block_transactions",
			Help:    "Transactions per produced block",
			Buckets: []float64{0, 1, 10, 100, 1_000, 5_000, 10_000},
		}),

		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "rejected_transactions_total",
			Help: "Transactions dropped at ingestion, by reason",
		}, []string{"reason"}),
	}

	for _, m := range []prometheus.Collector{
		c.slot, c.epoch, c.queueDepth, c.feeTotal,
		c.blocks, c.unpublished, c.includedTxs, c.blockTxns,
		c.rejected,
	} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register sequencer metric: %w", err)
		}
	}

	return c, nil
}

func (c *Collector) BlockProduced(snap gsequencer.Snapshot, blk *gblock.Block, published bool) {
	c.slot.Set(float64(snap.Slot))
	c.epoch.Set(float64(snap.Epoch))
	c.queueDepth.Set(float64(snap.QueueDepth))
	c.feeTotal.Set(float64(snap.FeeTotal))

	c.blocks.Inc()
	if !published {
		c.unpublished.Inc()
	}

	n := float64(len(blk.Transactions))
	c.includedTxs.Add(n)
	c.blockTxns.Observe(n)
}

func (c *Collector) TransactionRejected(err error) {
	c.rejected.WithLabelValues(RejectReason(err)).Inc()
}

// RejectReason maps an ingestion error to a short metric label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, gsequencer.ErrEmptyPayload):
		return "empty"
	case errors.Is(err, gsequencer.ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, gsequencer.ErrPayloadTooShort):
		return "too_short"
	case errors.Is(err, gtxqueue.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, gsequencer.ErrClosed):
		return "closed"
	default:
		return "other"
	}
}
