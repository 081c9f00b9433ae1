package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi"
	"github.com/shiftline/bookingwatch/internal/metrics"
	"github.com/shiftline/bookingwatch/internal/models"
	"github.com/shiftline/bookingwatch/internal/services/watcher"
)

type agentHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	watcher *watcher.Watcher
	metrics *metrics.Metrics
}

type watchRequest struct {
	TrackingCode string `json:"trackingCode"`
	Email        string `json:"email"`
	Registration string `json:"registration"`
}

type watchResponse struct {
	SessionID string                 `json:"sessionId"`
	Snapshot  models.BookingSnapshot `json:"snapshot"`
}

func runAgentHTTPServer(ctx context.Context, opts agentHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(opts.watcher.Stats())
	})

	if opts.metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.metrics.Handler(func() {
			st := opts.watcher.Stats()
			opts.metrics.SetActiveWatches(st.ActiveWatches)
			opts.metrics.SetReconnects(st.Reconnects)
		}))
	}

	r.Post("/watch", func(w http.ResponseWriter, r *http.Request) {
		var req watchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode request"))
			return
		}
		if req.TrackingCode == "" {
			writeError(w, http.StatusBadRequest, errors.New("trackingCode is required"))
			return
		}
		sessionID, snap, err := opts.watcher.Watch(r.Context(), models.TrackingCredentials{
			TrackingCode: req.TrackingCode,
			Email:        req.Email,
			Registration: req.Registration,
		})
		if err != nil {
			writeError(w, lookupStatus(err), err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(watchResponse{SessionID: sessionID, Snapshot: snap})
	})

	r.Get("/watch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(opts.watcher.List())
	})

	r.Delete("/watch/{bookingID}", func(w http.ResponseWriter, r *http.Request) {
		if err := opts.watcher.Unwatch(r.Context(), chi.URLParam(r, "bookingID")); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"stopped":true}`))
	})

	r.Get("/snapshot/{bookingID}", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := opts.watcher.Snapshot(chi.URLParam(r, "bookingID"))
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("booking is not watched"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})

	r.Post("/watch/{bookingID}/payment/confirm", func(w http.ResponseWriter, r *http.Request) {
		snap, err := opts.watcher.ConfirmPayment(r.Context(), chi.URLParam(r, "bookingID"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})

	srv := &http.Server{Handler: r}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
		return ctx.Err()
	case err := <-serveErr:
		return err
	}
}

func lookupStatus(err error) int {
	switch {
	case errors.Is(err, bookingapi.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bookingapi.ErrExpired):
		return http.StatusGone
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
