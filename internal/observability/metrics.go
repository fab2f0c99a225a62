package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newsletter_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	PublishRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newsletter_publish_requests_total", Help: "Publish request outcomes"},
		[]string{"result"},
	)
	FanoutSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_fanout_tasks",
			Help:    "Delivery tasks enqueued per published issue",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	EmailSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "email_send_total", Help: "Email transport outcomes"},
		[]string{"result", "http_status"},
	)
	EmailLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "email_send_latency_seconds", Help: "Email transport latency"},
	)
	DeliveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "delivery_task_outcomes_total", Help: "Terminal and retry outcomes per claimed task"},
		[]string{"outcome"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, PublishRequests, FanoutSize, EmailSend, EmailLatency, DeliveryOutcomes)
}
