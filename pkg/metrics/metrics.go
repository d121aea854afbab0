package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/wefthq/weft/internal/common/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	namespace         string
	httpReqCnt        *prometheus.CounterVec
	httpDur           *prometheus.HistogramVec
	httpInfl          *prometheus.GaugeVec
	wsConnections     prometheus.Gauge
	wsMessages        *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	eventsDelivered   *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	approvalsPending  prometheus.Gauge
	approvalsResolved *prometheus.CounterVec
	catchupCnt        *prometheus.CounterVec
	catchupDur        *prometheus.HistogramVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	wsConnections := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "ws_connections_active"})
	wsMessages := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "ws_messages_total"}, []string{"direction", "type"})
	r.MustRegister(wsConnections, wsMessages)

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "events_published_total"}, []string{"kind"})
	eventsDelivered := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "events_delivered_total"}, []string{"kind"})
	eventsDropped := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "events_dropped_total"}, []string{"kind", "reason"})
	r.MustRegister(eventsPublished, eventsDelivered, eventsDropped)

	approvalsPending := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "approvals_pending"})
	approvalsResolved := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "approvals_resolved_total"}, []string{"status"})
	r.MustRegister(approvalsPending, approvalsResolved)

	catchupCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "catchup_requests_total"}, []string{"outcome"})
	catchupDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "catchup_duration_seconds", Buckets: buckets}, []string{"outcome"})
	r.MustRegister(catchupCnt, catchupDur)

	return &Metrics{
		registry:          r,
		namespace:         ns,
		httpReqCnt:        httpReqCnt,
		httpDur:           httpDur,
		httpInfl:          httpInfl,
		wsConnections:     wsConnections,
		wsMessages:        wsMessages,
		eventsPublished:   eventsPublished,
		eventsDelivered:   eventsDelivered,
		eventsDropped:     eventsDropped,
		approvalsPending:  approvalsPending,
		approvalsResolved: approvalsResolved,
		catchupCnt:        catchupCnt,
		catchupDur:        catchupDur,
	}
}

func (m *Metrics) ConnOpened() {
	m.wsConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	m.wsConnections.Dec()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	m.wsMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) EventPublished(kind string) {
	m.eventsPublished.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDelivered(kind string) {
	m.eventsDelivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped(kind, reason string) {
	m.eventsDropped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) ApprovalRegistered() {
	m.approvalsPending.Inc()
}

func (m *Metrics) ApprovalFinished(status string) {
	m.approvalsPending.Dec()
	m.approvalsResolved.WithLabelValues(status).Inc()
}

func (m *Metrics) CatchupDone(outcome string, since time.Time) {
	m.catchupCnt.WithLabelValues(outcome).Inc()
	m.catchupDur.WithLabelValues(outcome).Observe(time.Since(since).Seconds())
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
