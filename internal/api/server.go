package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

func (s *GoChatApp) Start() error {
	s.log.Infow("starting server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Infow("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *GoChatApp) Handler() http.Handler { return s.srv.Handler }
