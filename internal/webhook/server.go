// Package webhook exposes the interaction hub's callback endpoint and the
// daemon's metrics surface over HTTP (spec §4.7, §6). It is the only inbound
// network entrypoint this daemon runs: operator chat platforms (Slack,
// Feishu, whichever the egress proxy targets) post CLICK/CONFIRM/REJECT
// callbacks here after a human acts on a card.
package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nexledger/ledgerd/internal/interaction"
	internalmetrics "github.com/nexledger/ledgerd/internal/metrics"
	"github.com/nexledger/ledgerd/pkg/logger"
)

// Hub is the subset of *interaction.Hub the webhook server depends on.
type Hub interface {
	HandleCallback(ctx context.Context, cb interaction.Callback, now int64) error
}

// Server is the webhook HTTP surface.
type Server struct {
	addr   string
	server *http.Server
	log    *logger.Logger
}

// New builds a Server listening on addr, routing POST /webhooks/cards to
// hub.HandleCallback and GET /metrics to the daemon's Prometheus registry.
func New(hub Hub, addr string, log *logger.Logger, nowFn func() int64) *Server {
	if log == nil {
		log = logger.NewDefault("webhook")
	}
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().UnixMilli() }
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Handle("/metrics", internalmetrics.Handler())
	r.Post("/webhooks/cards", handleCallback(hub, nowFn))

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		log: log,
	}
}

// Start runs the listener in the background; it returns immediately and
// reports a bind failure, if any, through the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Stop gracefully shuts the listener down, honoring ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Debug("webhook request")
		})
	}
}
