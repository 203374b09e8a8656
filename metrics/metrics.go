package metrics

import (
  "github.com/prometheus/client_golang/prometheus"
  "github.com/robertof/go-presence-exporter/presence"
)

var (
  descState = prometheus.NewDesc(
    "presence_state",
    "Debounced presence of the source. 1 = present, 0 = absent.",
    []string{"source"},
    nil,
  )

  descConfirmations = prometheus.NewDesc(
    "presence_consecutive_confirmations",
    "Consecutive confirming samples seen while the source is absent.",
    []string{"source"},
    nil,
  )

  descMisses = prometheus.NewDesc(
    "presence_consecutive_misses",
    "Consecutive missing samples seen while the source is present.",
    []string{"source"},
    nil,
  )

  descLastTransition = prometheus.NewDesc(
    "presence_last_transition_timestamp_seconds",
    "Unix timestamp of the last state transition of the source.",
    []string{"source"},
    nil,
  )

  samplesCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_samples_total",
    Help: "Samples ingested by the presence engine.",
  })

  rejectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_rejected_samples_total",
    Help: "Samples rejected by the presence engine (malformed or out of order).",
  })

  changesCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_state_changes_total",
    Help: "Debounced state transitions emitted by the presence engine.",
  })

  publishErrorsCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_publish_errors_total",
    Help: "State changes that could not be delivered downstream.",
  })
)

func CountSample() {
  samplesCounter.Inc()
}

func CountRejection() {
  rejectionsCounter.Inc()
}

func CountChange() {
  changesCounter.Inc()
}

func CountPublishError() {
  publishErrorsCounter.Inc()
}

type SnapshotFunc func() map[string]presence.TrackedState

type collector struct {
  SnapshotFunc
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
  prometheus.DescribeByCollect(c, ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
  for source, state := range c.SnapshotFunc() {
    var present float64

    if state.Current == presence.StatePresent {
      present = 1
    }

    ch <- prometheus.MustNewConstMetric(descState, prometheus.GaugeValue,
      present, source)
    ch <- prometheus.MustNewConstMetric(descConfirmations, prometheus.GaugeValue,
      float64(state.Confirmations), source)
    ch <- prometheus.MustNewConstMetric(descMisses, prometheus.GaugeValue,
      float64(state.Misses), source)

    if !state.LastTransition.IsZero() {
      ch <- prometheus.MustNewConstMetric(descLastTransition, prometheus.GaugeValue,
        float64(state.LastTransition.Unix()), source)
    }
  }
}

func RegisterCollector(f SnapshotFunc, reg prometheus.Registerer) {
  reg.MustRegister(
    &collector{f},
    samplesCounter,
    rejectionsCounter,
    changesCounter,
    publishErrorsCounter,
  )
}
