package admin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokensmart/governor/internal/governor"
)

// Server is the §4.6 attribute surface: central_pool is read-only (the
// pool isn't directly settable, only nudged via admin_adjust), and
// mips_threshold is read/write, the single knob an operator can turn at
// runtime without restarting the daemon.
type Server struct {
	daemon  *governor.Daemon
	metrics *Metrics
	reg     *prometheus.Registry
}

// NewServer wires a Server against a running daemon, registering its own
// Prometheus registry so repeated construction in tests never collides
// with the process-global DefaultRegisterer.
func NewServer(d *governor.Daemon) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		daemon:  d,
		metrics: NewMetrics(reg),
		reg:     reg,
	}
}

// RegisterRoutes sets up the HTTP routes for the admin surface on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/central_pool", s.handleCentralPool)
	mux.HandleFunc("/mips_threshold", s.handleMIPSThreshold)
	mux.HandleFunc("/admin_adjust", s.handleAdminAdjust)
	mux.HandleFunc("/fds", s.handleFDs)
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
}

// handleCentralPool reports the pool's current token count and mode; it
// accepts no writes, matching §9(iii)'s note that the pool is only ever
// moved by admin_adjust, never set directly.
func (s *Server) handleCentralPool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "central_pool is read-only", http.StatusMethodNotAllowed)
		return
	}
	pool, tokensInSystem, mode := s.daemon.Pool().Snapshot()
	fmt.Fprintf(w, "pool=%d tokens_in_system=%d mode=%s\n", pool, tokensInSystem, mode)
}

// handleMIPSThreshold reads or replaces the shared IPC threshold.
func (s *Server) handleMIPSThreshold(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		fmt.Fprintf(w, "%f\n", s.daemon.IPCThreshold().Load())
	case http.MethodPost, http.MethodPut:
		v := r.URL.Query().Get("value")
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "value must be a float", http.StatusBadRequest)
			return
		}
		s.daemon.IPCThreshold().Store(f)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAdminAdjust grows or shrinks tokens_in_system by n, the
// out-of-band injection §4.6 and §9(iii) describe (e.g. a thermal
// controller donating headroom back, or withdrawing it).
func (s *Server) handleAdminAdjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil {
		http.Error(w, "n must be an integer", http.StatusBadRequest)
		return
	}
	s.daemon.Pool().AdminAdjust(n)
	w.WriteHeader(http.StatusNoContent)
}

// handleFDs reports every frequency domain's last known token count and
// controller state, for operator diagnostics.
func (s *Server) handleFDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	for _, fd := range s.daemon.Snapshot() {
		fmt.Fprintf(w, "fd=%d tokens=%d starvation=%d last_ramp_up=%d\n",
			fd.ID, fd.MyTokens, fd.State.Starvation, fd.State.LastRampUp)
	}
}

// ListenAndServe starts the admin HTTP server on addr, refreshing the
// Prometheus gauges once per refreshInterval until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, refreshInterval time.Duration) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.metrics.Refresh(s.daemon)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
