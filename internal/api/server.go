// Package api exposes the solver process over HTTP: executor stats, report
// ingestion into the pending-disbursement ledger, and process metrics.
package api

import (
	"encoding/json"
	"log"
	"math/big"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/observability"
	"github.com/smart-transaction/stxn-poc-solvers/internal/reports"
	"github.com/smart-transaction/stxn-poc-solvers/internal/stats"
)

type Server struct {
	ledger  *reports.Ledger
	stats   *stats.Aggregator
	limiter *rate.Limiter
}

// Options bounds report ingestion throughput.
type Options struct {
	ReportRatePerSec float64
	ReportBurst      int
}

func NewServer(ledger *reports.Ledger, agg *stats.Aggregator, opts Options) *Server {
	ratePerSec := opts.ReportRatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 50
	}
	burst := opts.ReportBurst
	if burst <= 0 {
		burst = 100
	}
	return &Server{
		ledger:  ledger,
		stats:   agg,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/report", s.handleReport)
	mux.HandleFunc("/v1/reports/stats", s.handleReportStats)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	return withTracing(withLogging(mux))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Smart Transactions Solver\n"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filter := stats.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	switch filter {
	case "", stats.StatusRunning, stats.StatusSucceeded, stats.StatusFailed, stats.StatusTimeout:
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot(filter))
}

type reportRequest struct {
	Account     string `json:"account"`
	Amount      string `json:"amount"`
	ScheduleKey string `json:"schedule_key,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "report rate limit exceeded")
		return
	}
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, err := chain.ParseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal integer")
		return
	}
	if amount.BitLen() > 256 {
		writeError(w, http.StatusBadRequest, "amount exceeds 256 bits")
		return
	}
	if err := s.ledger.Ingest(req.ScheduleKey, account, amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	observability.Default.IncCounter("reports_ingested_total", nil, 1)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleReportStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := s.ledger.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"account_count": st.AccountCount,
		"total_amount":  st.TotalAmount.String(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		traceID := span.SpanContext().TraceID().String()
		if traceID != "" {
			sw.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
