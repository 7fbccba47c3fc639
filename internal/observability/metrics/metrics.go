package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChatMetrics exposes counters and histograms for interview traffic.
type ChatMetrics struct {
	requestsTotal     *prometheus.CounterVec
	turnLatency       *prometheus.HistogramVec
	expiredTotal      prometheus.Counter
	completedTotal    prometheus.Counter
	transcodeFailures prometheus.Counter
	reg               prometheus.Registerer
}

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "intake",
			Name:      "chat_requests_total",
			Help:      "Chat requests by mode and outcome",
		}, []string{"mode", "status"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telehealth",
			Subsystem: "intake",
			Name:      "turn_latency_seconds",
			Help:      "Time from request to assistant reply",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"mode"}),
		expiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "intake",
			Name:      "sessions_expired_total",
			Help:      "Sessions removed by the expiry sweep",
		}),
		completedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "intake",
			Name:      "interviews_completed_total",
			Help:      "Interviews that produced a summary",
		}),
		transcodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "intake",
			Name:      "transcode_failures_total",
			Help:      "Client recordings ffmpeg could not decode",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m.reg = reg
	reg.MustRegister(m.requestsTotal, m.turnLatency, m.expiredTotal, m.completedTotal, m.transcodeFailures)
	return m
}

// TrackActiveSessions registers a gauge read from count at scrape time.
func (m *ChatMetrics) TrackActiveSessions(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "telehealth",
		Subsystem: "intake",
		Name:      "active_sessions",
		Help:      "Sessions currently held in memory",
	}, func() float64 { return float64(count()) }))
}

func (m *ChatMetrics) ObserveRequest(mode, status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(mode, status).Inc()
}

func (m *ChatMetrics) ObserveTurnLatency(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(mode).Observe(seconds)
}

func (m *ChatMetrics) SessionExpired(string) {
	if m == nil {
		return
	}
	m.expiredTotal.Inc()
}

func (m *ChatMetrics) InterviewCompleted() {
	if m == nil {
		return
	}
	m.completedTotal.Inc()
}

func (m *ChatMetrics) TranscodeFailed() {
	if m == nil {
		return
	}
	m.transcodeFailures.Inc()
}
