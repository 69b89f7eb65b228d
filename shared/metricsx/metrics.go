package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	fanoutProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_events_total",
			Help: "Task events processed by the fan-out consumer, by outcome.",
		},
		[]string{"event_type", "outcome"},
	)
	fanoutLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanout_latency_seconds",
			Help:    "Time from event receipt to notification persistence and push.",
			Buckets: prometheus.DefBuckets,
		},
	)
	deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Messages parked on the dead-letter topic, by reason.",
		},
		[]string{"reason"},
	)
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Currently open websocket connections.",
		},
	)
	wsBroadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_broadcasts_total",
			Help: "Frames broadcast to rooms, by frame type.",
		},
		[]string{"frame"},
	)
	wsDroppedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_dropped_frames_total",
			Help: "Frames dropped because a connection's send buffer was full.",
		},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(httpRequests, httpLatency, kafkaConsumerLag, fanoutProcessed, fanoutLatency, deadLetters, wsConnections, wsBroadcasts, wsDroppedFrames, influxWriteFailures, asynqQueueDepth)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncFanout(eventType string, outcome string) {
	fanoutProcessed.WithLabelValues(eventType, outcome).Inc()
}

func ObserveFanoutLatency(d time.Duration) {
	fanoutLatency.Observe(d.Seconds())
}

func IncDeadLetter(reason string) {
	deadLetters.WithLabelValues(reason).Inc()
}

func IncWSConnections() {
	wsConnections.Inc()
}

func DecWSConnections() {
	wsConnections.Dec()
}

func IncBroadcast(frame string) {
	wsBroadcasts.WithLabelValues(frame).Inc()
}

func IncDroppedFrame() {
	wsDroppedFrames.Inc()
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
