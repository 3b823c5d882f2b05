package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
	"github.com/dmdmdm-nz/netreachd/internal/reachability"
)

const shutdownTimeout = 5 * time.Second

// ConnectivitySource is the part of the connectivity monitor the API reads.
type ConnectivitySource interface {
	Current() connectivity.Snapshot
	Subscribe() (<-chan connectivity.Snapshot, func())
}

// Service represents the HTTP server for the API
type Service struct {
	address      string
	port         int
	connectivity ConnectivitySource
	settings     reachability.Settings

	server *http.Server
}

func NewService(host string, port int, source ConnectivitySource, settings reachability.Settings) *Service {
	s := &Service{
		address:      host,
		port:         port,
		connectivity: source,
		settings:     settings,
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled, then shuts the server down.
func (s *Service) Start(ctx context.Context) error {
	log.Infof("Starting NetReachD API service at %s", s.server.Addr)
	defer log.Info("Stopping NetReachD API service")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve API")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("API shutdown did not complete cleanly")
	}
	return nil
}

func (s *Service) Close() error {
	return s.server.Close()
}

// Handler returns the API routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("/ready", getOnly(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("/connectivity", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, NewConnectivityInfo(s.connectivity.Current()))
	}))
	mux.HandleFunc("/internet", getOnly(s.handleInternet))
	mux.HandleFunc("/ws/connectivity", func(w http.ResponseWriter, r *http.Request) {
		StreamConnectivity(s, w, r)
	})
	mux.HandleFunc("/ws/internet", func(w http.ResponseWriter, r *http.Request) {
		settings, err := s.settingsFor(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		StreamInternet(settings, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Service) handleInternet(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settingsFor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	connected, err := reachability.CheckSettings(r.Context(), settings)
	switch {
	case errors.Is(err, reachability.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, fmt.Sprintf("Failed to check internet reachability: %v", err), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, InternetInfo{Connected: connected, Host: settings.Host, Port: settings.Port})
}

// settingsFor applies the optional host, port and timeout query parameters.
func (s *Service) settingsFor(r *http.Request) (reachability.Settings, error) {
	settings := s.settings
	q := r.URL.Query()

	if host := q.Get("host"); host != "" {
		settings.Host = host
	}
	if v := q.Get("port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return settings, errors.Wrap(err, "invalid port")
		}
		settings.Port = port
	}
	if v := q.Get("timeout"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return settings, errors.Wrap(err, "invalid timeout")
		}
		settings.Timeout = timeout
	}
	if v := q.Get("interval"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return settings, errors.Wrap(err, "invalid interval")
		}
		settings.Interval = interval
	}
	return settings, nil
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
