// Package metrics exposes delivery counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webtrack"

// Delivery counts queue and delivery outcomes. It satisfies deliver.Observer.
type Delivery struct {
	enqueued  prometheus.Counter
	dropped   prometheus.Counter
	delivered prometheus.Counter
	failed    prometheus.Counter
	discarded prometheus.Counter

	counts struct {
		enqueued, dropped, delivered, failed, discarded atomic.Int64
	}
}

// Counts is a point-in-time copy of the counters for the health report.
type Counts struct {
	Enqueued  int64
	Dropped   int64
	Delivered int64
	Failed    int64
	Discarded int64
}

// NewDelivery registers the delivery collectors on reg. depth is sampled on
// every scrape.
func NewDelivery(reg prometheus.Registerer, depth func() float64) *Delivery {
	f := promauto.With(reg)
	d := &Delivery{
		enqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_enqueued_total",
			Help:      "Calls accepted into the delivery queue.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_dropped_total",
			Help:      "Calls rejected because the queue was full or the call was invalid.",
		}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_delivered_total",
			Help:      "Calls acknowledged by the collector.",
		}),
		failed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Delivery attempts that did not succeed.",
		}),
		discarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_discarded_total",
			Help:      "Failed calls removed by the unload flush.",
		}),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Calls waiting in the delivery queue.",
	}, depth)
	return d
}

func (d *Delivery) Enqueued() {
	d.enqueued.Inc()
	d.counts.enqueued.Add(1)
}

func (d *Delivery) Dropped() {
	d.dropped.Inc()
	d.counts.dropped.Add(1)
}

func (d *Delivery) Delivered() {
	d.delivered.Inc()
	d.counts.delivered.Add(1)
}

func (d *Delivery) Failed() {
	d.failed.Inc()
	d.counts.failed.Add(1)
}

func (d *Delivery) Discarded() {
	d.discarded.Inc()
	d.counts.discarded.Add(1)
}

func (d *Delivery) Counts() Counts {
	return Counts{
		Enqueued:  d.counts.enqueued.Load(),
		Dropped:   d.counts.dropped.Load(),
		Delivered: d.counts.delivered.Load(),
		Failed:    d.counts.failed.Load(),
		Discarded: d.counts.discarded.Load(),
	}
}

// Handler serves the exposition format for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
