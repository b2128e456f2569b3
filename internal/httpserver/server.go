package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/nvsmi-sender/internal/procs"
	"github.com/skobkin/nvsmi-sender/internal/stats"
	"github.com/skobkin/nvsmi-sender/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// Server exposes the status surface of the agent: liveness and readiness
// probes, build information and Prometheus metrics.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	counters   *stats.Counters
	pending    func() int
	procs      *procs.Manager

	requestIDs atomic.Uint64
}

// New assembles a Server with its handlers. pending reports the number of
// batches currently queued for export; it and procManager may be nil when
// the corresponding component is disabled.
func New(addr string, logger *slog.Logger, counters *stats.Counters, pending func() int, procManager *procs.Manager) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:   logger.With("component", "httpserver"),
		counters: counters,
		pending:  pending,
		procs:    procManager,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	s.registerPrometheus(mux)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withRequestLogging(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := s.readiness()
	logger := s.loggerFromContext(r.Context())

	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Error("failed to encode readyz response", "err", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := version.Current()
	logger := s.loggerFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Error("failed to encode version response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()

	var collectors []prometheus.Collector
	if s.counters != nil {
		collectors = append(collectors,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "nvsmi",
				Subsystem: "pipeline",
				Name:      "rows_read_total",
				Help:      "Total rows read from the monitoring stream.",
			}, func() float64 {
				return float64(s.counters.RowsRead.Load())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "nvsmi",
				Subsystem: "pipeline",
				Name:      "rows_rejected_total",
				Help:      "Total rows rejected by the parser.",
			}, func() float64 {
				return float64(s.counters.RowsRejected.Load())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "nvsmi",
				Subsystem: "pipeline",
				Name:      "samples_total",
				Help:      "Total samples accepted into the batching pipeline.",
			}, func() float64 {
				return float64(s.counters.Samples.Load())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "nvsmi",
				Subsystem: "pipeline",
				Name:      "batches_sent_total",
				Help:      "Total batches delivered to the remote write endpoint.",
			}, func() float64 {
				return float64(s.counters.BatchesSent.Load())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "nvsmi",
				Subsystem: "pipeline",
				Name:      "batches_dropped_total",
				Help:      "Total batches dropped after exhausting delivery attempts.",
			}, func() float64 {
				return float64(s.counters.BatchesDropped.Load())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "nvsmi",
				Subsystem: "pipeline",
				Name:      "samples_sent_total",
				Help:      "Total samples delivered to the remote write endpoint.",
			}, func() float64 {
				return float64(s.counters.SamplesSent.Load())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "nvsmi",
				Subsystem: "pipeline",
				Name:      "samples_dropped_total",
				Help:      "Total samples dropped together with their batch.",
			}, func() float64 {
				return float64(s.counters.SamplesDropped.Load())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "nvsmi",
				Subsystem: "pipeline",
				Name:      "send_retries_total",
				Help:      "Total batch delivery retries.",
			}, func() float64 {
				return float64(s.counters.SendRetries.Load())
			}),
		)
	}

	if s.pending != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "nvsmi",
			Subsystem: "pipeline",
			Name:      "pending_batches",
			Help:      "Number of batches currently queued for export.",
		}, func() float64 {
			return float64(s.pending())
		}))
	}

	if procCollector := newComputeProcsCollector(s.procs); procCollector != nil {
		collectors = append(collectors, procCollector)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func (s *Server) readiness() readyResponse {
	resp := readyResponse{}
	if s.pending != nil {
		resp.Pending = s.pending()
	}

	if s.counters == nil || s.counters.Samples.Load() > 0 {
		resp.Status = "ok"
		return resp
	}

	resp.Status = "initializing"
	resp.Reason = "waiting_for_samples"
	return resp
}

type readyResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending_batches"`
	Reason  string `json:"reason,omitempty"`
}
