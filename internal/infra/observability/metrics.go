package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	ReportsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wetmill_reports_dispatched_total", Help: "Scheduled report outcomes per tick"},
		[]string{"result"},
	)
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wetmill_messages_sent_total", Help: "Outgoing message outcomes"},
		[]string{"backend", "result"},
	)
	SendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "wetmill_send_latency_seconds", Help: "Transport send latency"},
		[]string{"backend"},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wetmill_template_deliveries_total", Help: "Per-recipient template deliveries"},
		[]string{"template", "result"},
	)
	RenderFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "wetmill_template_render_fallback_total", Help: "Templates sent verbatim after a render error"},
	)
	SubmissionsApproved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wetmill_submissions_approved_total", Help: "Submissions approved after the quiet window"},
		[]string{"kind"},
	)
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wetmill_api_requests_total", Help: "HTTP requests by route and status"},
		[]string{"route", "code"},
	)
	BroadcastsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wetmill_broadcasts_sent_total", Help: "Scheduled broadcast outcomes"},
		[]string{"result"},
	)
	InboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wetmill_inbound_messages_total", Help: "Inbound messages answered"},
		[]string{"backend", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(ReportsDispatched, MessagesSent, SendLatency, Deliveries, RenderFallbacks, SubmissionsApproved, APIRequests, BroadcastsSent, InboundMessages)
}
