// Package api implements the Request Dispatcher (§4.5): one HTTP
// handler per shim endpoint, query-string argument parsing, and the
// mapping of gwerr sentinels onto the HTTP status codes of §6.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scidb-shim/shimgate/internal/config"
	"github.com/scidb-shim/shimgate/internal/drain"
	"github.com/scidb-shim/shimgate/internal/executor"
	"github.com/scidb-shim/shimgate/internal/gwerr"
	"github.com/scidb-shim/shimgate/internal/health"
	"github.com/scidb-shim/shimgate/internal/metrics"
	"github.com/scidb-shim/shimgate/internal/session"
	"github.com/scidb-shim/shimgate/internal/staging"
)

// Version is reported by /version. It is a build-time constant in the
// source shim; here it names this gateway's protocol compatibility line.
const Version = "15.7"

// Server is the gateway's HTTP surface.
type Server struct {
	pool      *session.Pool
	executor  *executor.Executor
	drain     *drain.Reader
	health    *health.Checker
	metrics   *metrics.Collector
	startTime time.Time
	listenCfg config.ListenConfig
	logPath   string

	httpServer *http.Server
}

// NewServer wires the dispatcher to the session pool, executor, drain
// reader, health checker, and metrics collector that implement it.
func NewServer(pool *session.Pool, ex *executor.Executor, dr *drain.Reader, hc *health.Checker, m *metrics.Collector, listenCfg config.ListenConfig, logPath string) *Server {
	return &Server{
		pool:      pool,
		executor:  ex,
		drain:     dr,
		health:    hc,
		metrics:   m,
		startTime: time.Now(),
		listenCfg: listenCfg,
		logPath:   logPath,
	}
}

// Start builds the route table and begins serving on port.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()
	r.Use(s.commonHeaders)
	r.Use(s.requestLogger)

	r.HandleFunc("/new_session", s.newSession).Methods("GET")
	r.HandleFunc("/release_session", s.releaseSession).Methods("GET")
	r.HandleFunc("/cancel", s.cancel).Methods("GET")
	r.HandleFunc("/upload", s.upload).Methods("GET", "POST")
	r.HandleFunc("/execute_query", s.executeQuery).Methods("GET")
	r.HandleFunc("/read_bytes", s.readBytes).Methods("GET")
	r.HandleFunc("/read_lines", s.readLines).Methods("GET")
	r.HandleFunc("/version", s.version).Methods("GET")
	r.HandleFunc("/get_log", s.getLog).Methods("GET")

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	if s.listenCfg.DocumentRoot != "" {
		r.PathPrefix("/").HandlerFunc(s.staticFile)
	}

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  0, // queries and drains may block far longer than a typical handler
		WriteTimeout: 0,
	}

	log.Printf("[api] shimgate listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[api] %s %s req=%s dur=%s", r.Method, r.URL.Path, id, time.Since(start))
	})
}

// --- Session lifecycle ---

func (s *Server) newSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slot, err := s.pool.Acquire(r.Context(), q.Get("user"), q.Get("password"))
	if err != nil {
		if errors.Is(err, gwerr.ErrOutOfResources) && s.metrics != nil {
			s.metrics.ObservePoolExhausted()
		}
		if (errors.Is(err, gwerr.ErrConnectionFatal) || errors.Is(err, gwerr.ErrAuthFailed)) && s.metrics != nil {
			s.metrics.ObserveEngineConnectFailure()
		}
		writeErr(w, err)
		return
	}
	s.reportPoolStats()
	writeText(w, http.StatusOK, slot.ID)
}

func (s *Server) releaseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := requireArg(w, r, "id")
	if !ok {
		return
	}
	if err := s.executor.ReleaseSession(id); err != nil {
		writeErr(w, err)
		return
	}
	s.reportPoolStats()
	writeText(w, http.StatusOK, "")
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := requireArg(w, r, "id")
	if !ok {
		return
	}
	if err := s.executor.Cancel(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeText(w, http.StatusOK, "")
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	id, ok := requireArg(w, r, "id")
	if !ok {
		return
	}
	path, err := s.executor.Upload(r.Context(), id, r.Body, writeUploadFile)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeText(w, http.StatusOK, path)
}

func writeUploadFile(path string, body io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, body)
}

// --- Query execution ---

func (s *Server) executeQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, ok := requireArg(w, r, "id")
	if !ok {
		return
	}
	query, ok := requireArg(w, r, "query")
	if !ok {
		return
	}

	req := executor.Request{
		ID:      id,
		Query:   query,
		Save:    q.Get("save"),
		Prefix:  q.Get("prefix"),
		Release: q.Get("release") == "1",
	}

	start := time.Now()
	body, err := s.executor.ExecuteQuery(r.Context(), req)
	if s.metrics != nil {
		s.metrics.ObserveQuery(queryOutcome(err), time.Since(start))
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.Release {
		s.reportPoolStats()
	}
	writeText(w, http.StatusOK, body)
}

func queryOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gwerr.ErrQueryLocal):
		return "query_local"
	case errors.Is(err, gwerr.ErrConnectionFatal):
		return "connection_fatal"
	default:
		return "error"
	}
}

// --- Drain ---

func (s *Server) readBytes(w http.ResponseWriter, r *http.Request) {
	id, ok := requireArg(w, r, "id")
	if !ok {
		return
	}
	n, ok := requireIntArg(w, r, "n")
	if !ok {
		return
	}
	out, err := s.drain.ReadBytes(r.Context(), id, n)
	if err != nil {
		writeErr(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveDrainBytes(len(out))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) readLines(w http.ResponseWriter, r *http.Request) {
	id, ok := requireArg(w, r, "id")
	if !ok {
		return
	}
	n, ok := requireIntArg(w, r, "n")
	if !ok {
		return
	}
	out, err := s.drain.ReadLines(r.Context(), id, n)
	if err != nil {
		writeErr(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveDrainLines(countLines(out))
	}
	writeText(w, http.StatusOK, string(out))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

// --- Static / info ---

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, Version)
}

func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	if s.logPath == "" {
		writeText(w, http.StatusOK, "")
		return
	}
	data, err := tailFile(s.logPath, 64*1024)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: reading engine log: %v", gwerr.ErrInternal, err))
		return
	}
	writeText(w, http.StatusOK, string(data))
}

func tailFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	start := int64(0)
	if size > maxBytes {
		start = size - maxBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

func (s *Server) staticFile(w http.ResponseWriter, r *http.Request) {
	path, ok := staging.AbsDocumentPath(s.listenCfg.DocumentRoot, r.URL.Path)
	if !ok {
		writeErr(w, gwerr.ErrForbidden)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := s.pool.Stats()
	report := s.health.GetReport()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"sessions": map[string]int{
			"total":       st.Total,
			"available":   st.Available,
			"unavailable": st.Unavailable,
		},
		"engine_health": report,
	})
}

func (s *Server) reportPoolStats() {
	if s.metrics == nil {
		return
	}
	st := s.pool.Stats()
	s.metrics.SetPoolStats(st.Available, st.Unavailable, st.Total)
}

// --- Argument helpers ---

func requireArg(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		writeErr(w, fmt.Errorf("%w: HTTP arguments missing", gwerr.ErrBadRequest))
		return "", false
	}
	return v, true
}

func requireIntArg(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw, ok := requireArg(w, r, name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: HTTP arguments missing", gwerr.ErrBadRequest))
		return 0, false
	}
	return n, true
}

// --- Response helpers ---

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, err error) {
	status, msg := classifyHTTPError(err)
	writeText(w, status, msg)
}

// classifyHTTPError maps a gwerr sentinel onto the §6 status table.
func classifyHTTPError(err error) (int, string) {
	switch {
	case errors.Is(err, gwerr.ErrBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, gwerr.ErrAuthFailed):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, gwerr.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, gwerr.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, gwerr.ErrQueryLocal):
		return http.StatusNotAcceptable, err.Error()
	case errors.Is(err, gwerr.ErrNoQueryInFlight):
		return http.StatusConflict, err.Error()
	case errors.Is(err, gwerr.ErrGone):
		return http.StatusGone, err.Error()
	case errors.Is(err, gwerr.ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable, err.Error()
	case errors.Is(err, gwerr.ErrConnectionFatal):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, gwerr.ErrOutOfResources):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, gwerr.ErrInternal):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
