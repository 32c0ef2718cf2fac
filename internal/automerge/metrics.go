package automerge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "automerge_dependabot"

type metricCollector struct {
	processedPRs     prometheus.Counter
	eligiblePRs      prometheus.Counter
	filterRejections prometheus.Counter
	mergedPRs        prometheus.Counter
	mergeFailures    prometheus.Counter
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		processedPRs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "processed_prs_total",
			Help:      "count of open pull requests processed by the screener",
		}),
		eligiblePRs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "eligible_prs_total",
			Help:      "count of pull requests that passed eligibility screening",
		}),
		filterRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "filter_rejections_total",
			Help:      "count of recorded filter rejections",
		}),
		mergedPRs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "merged_prs_total",
			Help:      "count of successfully merged pull requests",
		}),
		mergeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "merge_failures_total",
			Help:      "count of failed merge attempts",
		}),
	}
}

func (m *metricCollector) ProcessedPRsInc()     { m.processedPRs.Inc() }
func (m *metricCollector) EligiblePRsInc()      { m.eligiblePRs.Inc() }
func (m *metricCollector) FilterRejectionsInc() { m.filterRejections.Inc() }
func (m *metricCollector) MergedPRsInc()        { m.mergedPRs.Inc() }
func (m *metricCollector) MergeFailuresInc()    { m.mergeFailures.Inc() }
