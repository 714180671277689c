// Package api exposes the signal service over HTTP: live status, history,
// statistics, advisory decisions, one-shot evaluation and control
// operations consumed by the dashboard.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/crossflow-data/crossflow/internal/store"
	"github.com/crossflow-data/crossflow/internal/traffic"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server holds the service dependencies behind the HTTP handlers.
type Server struct {
	loop       *traffic.Loop
	ctrl       *traffic.Controller
	engine     *traffic.Engine
	advisor    traffic.Advisor
	store      *store.Store
	thresholds traffic.Thresholds
}

// NewServer wires the HTTP surface. The store may be nil (history then
// lives only in the controller); the advisor may be nil (no decisions
// endpoint payload beyond the rule engine default).
func NewServer(loop *traffic.Loop, ctrl *traffic.Controller, engine *traffic.Engine,
	advisor traffic.Advisor, st *store.Store, th traffic.Thresholds) *Server {
	if advisor == nil {
		advisor = traffic.NewRuleAdvisor(th)
	}
	return &Server{
		loop:       loop,
		ctrl:       ctrl,
		engine:     engine,
		advisor:    advisor,
		store:      st,
		thresholds: th,
	}
}

// ServeMux mounts all API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.health)
	mux.HandleFunc("/api/signals", s.signals)
	mux.HandleFunc("/api/history", s.history)
	mux.HandleFunc("/api/statistics", s.statistics)
	mux.HandleFunc("/api/live-data", s.liveData)
	mux.HandleFunc("/api/lane/{id}", s.laneDetail)
	mux.HandleFunc("/api/traffic-prediction", s.trafficPrediction)
	mux.HandleFunc("/api/analysis", s.analysis)
	mux.HandleFunc("/api/decisions", s.decisions)
	mux.HandleFunc("/api/process", s.process)
	mux.HandleFunc("/api/start", s.start)
	mux.HandleFunc("/api/stop", s.stop)
	mux.HandleFunc("/api/reset", s.reset)
	mux.HandleFunc("/api/emergency", s.emergency)
	mux.HandleFunc("/api/charts/congestion", s.congestionChart)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
