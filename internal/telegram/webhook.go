package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookServer receives Bot API updates over HTTPS-terminated HTTP.
// Requests missing the configured secret token are rejected before the
// body is read.
type WebhookServer struct {
	addr    string
	path    string
	secret  string
	handler func(Update)
	logger  *slog.Logger
}

type WebhookOptions struct {
	Addr    string
	Path    string
	Secret  string
	Handler func(Update)
	Logger  *slog.Logger
}

func NewWebhookServer(opts WebhookOptions) *WebhookServer {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = "/telegram/webhook"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookServer{
		addr:    strings.TrimSpace(opts.Addr),
		path:    path,
		secret:  strings.TrimSpace(opts.Secret),
		handler: opts.Handler,
		logger:  logger,
	}
}

// Router returns the HTTP routes so callers can mount them on a shared
// server.
func (s *WebhookServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(s.path, s.handleUpdate).Methods(http.MethodPost)
	return r
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *WebhookServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
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

func (s *WebhookServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" {
		got := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			s.logger.Warn("webhook request with bad secret token", "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.logger.Warn("webhook request with invalid body", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if s.handler != nil {
		s.handler(update)
	}
	w.WriteHeader(http.StatusOK)
}
