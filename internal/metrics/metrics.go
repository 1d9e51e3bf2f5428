// Package metrics defines the prometheus collectors for the synchronizer and
// the development server. Every method is safe on a nil receiver so callers
// can run without a registry.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "groupchat"

// Sync instruments the client-side synchronizer.
type Sync struct {
	merges     *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	messages   prometheus.Gauge
	pagination *prometheus.CounterVec
	sends      *prometheus.CounterVec
}

// NewSync creates and registers the synchronizer collectors on reg.
func NewSync(reg prometheus.Registerer) *Sync {
	m := &Sync{
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "merges_total",
			Help:      "Batches that changed the timeline, by origin.",
		}, []string{"origin"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duplicates_dropped_total",
			Help:      "Incoming messages dropped because their id was already known.",
		}, []string{"origin"}),
		messages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "messages",
			Help:      "Messages currently held in the timeline.",
		}),
		pagination: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pagination_total",
			Help:      "Load-older requests by result (loaded, exhausted, coalesced, error, empty).",
		}, []string{"result"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "sends_total",
			Help:      "Send attempts by result (ok, error).",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.merges, m.duplicates, m.messages, m.pagination, m.sends)
	}
	return m
}

// ObserveMerge records one reconcile.
func (m *Sync) ObserveMerge(origin string, changed bool, dropped, size int) {
	if m == nil {
		return
	}
	if changed {
		m.merges.WithLabelValues(origin).Inc()
	}
	if dropped > 0 {
		m.duplicates.WithLabelValues(origin).Add(float64(dropped))
	}
	m.messages.Set(float64(size))
}

func (m *Sync) ObservePagination(result string) {
	if m == nil {
		return
	}
	m.pagination.WithLabelValues(result).Inc()
}

func (m *Sync) ObserveSend(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sends.WithLabelValues(result).Inc()
}

// Server instruments the development chat server.
type Server struct {
	created  prometheus.Counter
	clients  prometheus.Gauge
	requests *prometheus.CounterVec
}

// NewServer creates and registers the server collectors on reg.
func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "messages_created_total",
			Help:      "Messages persisted by the server.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "ws_clients",
			Help:      "Open websocket connections.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route template and status code.",
		}, []string{"route", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.created, m.clients, m.requests)
	}
	return m
}

func (m *Server) MessageCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Server) ClientConnected() {
	if m == nil {
		return
	}
	m.clients.Inc()
}

func (m *Server) ClientDisconnected() {
	if m == nil {
		return
	}
	m.clients.Dec()
}

func (m *Server) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
