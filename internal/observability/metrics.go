package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"castbot/internal/broadcast"
	"castbot/internal/control"
)

// Metrics counts dispatcher outcomes and tracks the run state.
// It implements broadcast.Observer and control.Listener.
type Metrics struct {
	reg *prometheus.Registry

	sends    *prometheus.CounterVec
	skips    prometheus.Counter
	cycles   prometheus.Counter
	state    prometheus.Gauge
	sendTime *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "castbot_sends_total",
			Help: "Send attempts to eligible dialogs, by result.",
		}, []string{"result", "class"}),
		skips: f.NewCounter(prometheus.CounterOpts{
			Name: "castbot_skips_total",
			Help: "Dialogs skipped as ineligible.",
		}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "castbot_cycles_total",
			Help: "Broadcast cycles started.",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Name: "castbot_run_state",
			Help: "Current run state (0 idle, 1 authenticating, 2 awaiting_code, 3 dispatching, 4 stopping, 5 stopped, 6 failed).",
		}),
		sendTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "castbot_send_duration_seconds",
			Help:    "Latency of a single send call.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"result"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "castbot_runs_total",
			Help: "Finished runs, by terminal state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observer returns the dispatcher hook. Metrics are process-wide, so the run ID is unused.
func (m *Metrics) Observer(string) broadcast.Observer { return m }

func (m *Metrics) CycleStarted(int) { m.cycles.Inc() }

func (m *Metrics) Delivered(_ int, _ broadcast.Dialog, class broadcast.Class, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sends.WithLabelValues(result, class.String()).Inc()
	m.sendTime.WithLabelValues(result).Observe(took.Seconds())
}

func (m *Metrics) Skipped(int, broadcast.Dialog) { m.skips.Inc() }

func (m *Metrics) StateChanged(_ string, s control.State) { m.state.Set(float64(s)) }

func (m *Metrics) RunFinished(s control.Summary) {
	m.runs.WithLabelValues(s.State.String()).Inc()
}
