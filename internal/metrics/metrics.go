// Package metrics exposes the bot's prometheus counters and the
// /healthz and /metrics HTTP endpoints.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbot_updates_total",
		Help: "Updates received, by kind (message, callback, other).",
	}, []string{"kind"})

	RelayForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbot_relay_forwarded_total",
		Help: "Messages relayed, by direction (inbound, outbound).",
	}, []string{"direction"})

	RelayDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbot_relay_dropped_total",
		Help: "Messages dropped instead of relayed, by reason.",
	}, []string{"reason"})

	ChallengesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatbot_verification_challenges_total",
		Help: "Verification challenges issued.",
	})

	VerificationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbot_verification_total",
		Help: "Verification outcomes, by result (passed, failed, blocked).",
	}, []string{"result"})
)

// Router returns the metrics HTTP routes.
func Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// Serve blocks serving /healthz and /metrics until ctx is done.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
