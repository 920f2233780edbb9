package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"

	"dialogd/internal/realtime"
	"dialogd/internal/storage"
	"dialogd/internal/summary"

	"go.uber.org/zap"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger     *zap.SugaredLogger
	httpServer *http.Server
	store      *storage.Store
	h          handler
}

// NewServer wires the REST handlers and the persistent connection endpoint
// into an http.Server listening on the configured address
func NewServer(logger *zap.SugaredLogger, cfg EnvConfig, store *storage.Store, hub *realtime.Hub, opts ...Option) (*Server, error) {
	srv := &Server{
		logger: logger,
		store:  store,
		h: handler{
			logger:    logger,
			store:     store,
			summaries: summary.NewBuilder(store),
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/messages/", enforceGET(logRequests(http.HandlerFunc(srv.h.messagesByCounterpart), logger.Desugar())))
	mux.Handle("/users", enforceGET(logRequests(http.HandlerFunc(srv.h.users), logger.Desugar())))
	mux.Handle("/ws", realtime.ServeWS(logger, hub))

	httpServer := &http.Server{
		Addr:    cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10),
		Handler: mux,
	}

	for _, opt := range opts {
		opt.apply(httpServer)
	}

	srv.httpServer = httpServer

	return srv, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	s.logger.Info("Closing store")
	s.store.Close()
	s.logger.Info("Store is closed")

	return nil
}
