// Package httpapi provides the gorilla/mux router every service's HTTP
// surface is built from: the shared /health and /metrics endpoints, plus
// small JSON helpers used by the per-service handlers registered on top
// of it.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownGrace bounds how long Serve waits for in-flight requests to
// finish once ctx is canceled before forcing the listener closed.
const shutdownGrace = 5 * time.Second

// Serve runs an HTTP server on handler until ctx is canceled, then shuts
// it down gracefully. It is the shape every cmd/*/main.go uses to run its
// router alongside its control loop under one errgroup.
func Serve(ctx context.Context, port int, handler http.Handler) error {
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// NewRouter returns a mux.Router with /health and /metrics already
// registered, ready for a service to add its own routes.
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, struct{}{})
}

// WriteJSON encodes v as the response body with status and the standard
// JSON content type. Encode errors are swallowed: by the time headers are
// written there is nothing more useful to do than log, and none of this
// package's callers have a logger of their own to hand one to.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the {error: string} body §4.9a's validation errors and
// the deploy endpoint's failure responses share.
type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}
