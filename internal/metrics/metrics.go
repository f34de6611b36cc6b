package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "technews"

// Cycle outcomes.
const (
	OutcomePaused       = "paused"
	OutcomeDeferred     = "deferred"
	OutcomeOffPeak      = "off_peak"
	OutcomeNoCandidates = "no_candidates"
	OutcomeFetchError   = "fetch_error"
	OutcomeDry          = "no_interesting"
	OutcomeHourCapped   = "hour_capped"
	OutcomePublished    = "completed"
)

type Metrics struct {
	registry *prometheus.Registry

	Cycles            *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	CandidatesFetched prometheus.Counter
	Qualified         prometheus.Counter
	Publications      *prometheus.CounterVec
	DeliveryFailures  prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	LedgerErrors      prometheus.Counter
	GovernorState     prometheus.Gauge
	ExtraDelay        prometheus.Gauge
	CadenceHours      *prometheus.GaugeVec

	mu            sync.RWMutex
	lastRunTime   time.Time
	lastErrorTime time.Time
	lastError     string
	isHealthy     bool
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Publication cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of publication cycles, including governor waits.",
			Buckets:   []float64{0.5, 1, 5, 30, 60, 180, 600, 1800},
		}),
		CandidatesFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_fetched_total",
			Help:      "Candidate items returned by the feeds.",
		}),
		Qualified: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_qualified_total",
			Help:      "Candidates meeting the minimum interest score.",
		}),
		Publications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_total",
			Help:      "Items delivered to the channel by category.",
		}, []string{"category"}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Deliveries that failed and were skipped.",
		}),
		DuplicatesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Planned items found in the ledger at acquisition time.",
		}),
		LedgerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Ledger reads or writes that failed.",
		}),
		GovernorState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "governor_state",
			Help:      "Rate governor state: 0 open, 1 throttled, 2 hour capped, 3 paused.",
		}),
		ExtraDelay: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extra_delay_seconds",
			Help:      "Backoff added after cycles without interesting content.",
		}),
		CadenceHours: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cadence_preferred_hour",
			Help:      "1 for each hour of day in the current cadence profile.",
		}, []string{"hour"}),
		isHealthy: true,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	m.Cycles.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) SetCadenceHours(hours []int) {
	m.CadenceHours.Reset()
	for _, h := range hours {
		m.CadenceHours.WithLabelValues(strconv.Itoa(h)).Set(1)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRunTime = time.Now()
	m.isHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = err
	m.lastErrorTime = time.Now()
	m.isHealthy = false
}

type Health struct {
	Healthy       bool      `json:"is_healthy"`
	LastRunTime   time.Time `json:"last_run_time"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

func (m *Metrics) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Health{
		Healthy:       m.isHealthy,
		LastRunTime:   m.lastRunTime,
		LastErrorTime: m.lastErrorTime,
		LastError:     m.lastError,
	}
}
