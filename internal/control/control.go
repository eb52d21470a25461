// Package control serves the HTTP endpoints that grant and list relay access.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matst80/portgate/internal/allowset"
	"github.com/matst80/portgate/internal/obs"
)

// NewHandler routes GET /<secret> to authorization of the caller's IP and
// GET /list to the current allow-set. Every other path gets the mux defaults.
// secret must be a plain path segment.
func NewHandler(store allowset.Store, secret string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /"+secret, func(w http.ResponseWriter, r *http.Request) {
		ip, err := allowset.PeerIPFromString(r.RemoteAddr)
		if err != nil {
			obs.Error("control.remote_addr", obs.Fields{"err": err.Error(), "remote": r.RemoteAddr})
			http.Error(w, "cannot determine caller address", http.StatusBadRequest)
			return
		}
		if err := store.Insert(r.Context(), ip); err != nil {
			obs.Error("control.authorize", obs.Fields{"err": err.Error(), "ip": ip})
			obs.ErrorsTotal.WithLabelValues("authorize").Inc()
			http.Error(w, "allow-set unavailable", http.StatusServiceUnavailable)
			return
		}
		obs.AuthorizedIPs.Set(float64(store.Len(r.Context())))
		obs.Info("control.authorize", obs.Fields{"ip": ip})
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "OK: IP %s authorized\n", ip)
	})
	mux.HandleFunc("GET /list", func(w http.ResponseWriter, r *http.Request) {
		ips, err := store.Snapshot(r.Context())
		if err != nil {
			obs.Error("control.list", obs.Fields{"err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("list").Inc()
			http.Error(w, "allow-set unavailable", http.StatusServiceUnavailable)
			return
		}
		if ips == nil {
			ips = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ips)
	})
	return mux
}

// Serve runs an HTTP server for h on ln until ctx is canceled, then shuts it
// down gracefully.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
