package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/matheus3301/groupchat/internal/hub"
	"github.com/matheus3301/groupchat/internal/metrics"
	"github.com/matheus3301/groupchat/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// createRequest is the body of POST /api/messages.
type createRequest struct {
	Text        string `json:"text"`
	Sender      string `json:"sender"`
	ClientMsgID string `json:"client_msg_id"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handlers serves the chat HTTP and websocket API.
type Handlers struct {
	messages *MessageService
	hub      *hub.Hub
	gatherer prometheus.Gatherer
	metrics  *metrics.Server
	logger   *zap.Logger
}

// NewHandlers wires the API over the message service and hub. gatherer
// backs /metrics and may be nil.
func NewHandlers(s *MessageService, h *hub.Hub, gatherer prometheus.Gatherer, m *metrics.Server, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{messages: s, hub: h, gatherer: gatherer, metrics: m, logger: logger}
}

// Router returns the mux with every route registered.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.observe)
	r.HandleFunc("/api/history", h.history).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", h.create).Methods(http.MethodPost)
	r.HandleFunc("/ws/{client_id}", h.socket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	var beforeID int64
	if v := q.Get("before_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "before_id must be a positive integer")
			return
		}
		beforeID = n
	}

	msgs, err := h.messages.History(r.Context(), beforeID, limit)
	if err != nil {
		h.logger.Error("history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := h.messages.Create(r.Context(), req.Sender, req.Text, req.ClientMsgID)
	switch {
	case errors.Is(err, ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case err != nil:
		h.logger.Error("create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store message")
	default:
		writeJSON(w, http.StatusCreated, msg)
	}
}

func (h *Handlers) socket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["client_id"]
	if err := session.ValidateClientID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.hub.Serve(w, r, id); err != nil {
		h.logger.Warn("websocket session failed", zap.String("client_id", id), zap.Error(err))
	}
}

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": h.hub.Len()})
}

// observe counts requests by route template.
func (h *Handlers) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		h.metrics.ObserveRequest(route, rec.code)
	})
}

// statusRecorder captures the response code. It forwards Hijack so
// websocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot hijack")
	}
	r.code = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}
