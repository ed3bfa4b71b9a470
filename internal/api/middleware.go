package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/roomsync/internal/session"
)

const requestIdHeader = "X-Request-Id"

func (s *GoChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Errorw("panic", "error", panicError, "uri", r.URL.RequestURI())
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// requestLogger tags each request with an id and logs it.
func (s *GoChatApp) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIdHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIdHeader, id)

		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.Debugw("http request",
			"id", id,
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"ip", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// authMiddleware admits requests whose session passes the guard for the
// protected chat page.
func (s *GoChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.sessionClaimsFromRequest(r)
		if err != nil {
			s.log.Debugw("failed to read session from token", "error", err)
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		d := s.guard.Mount(r.Context(), claims.SessionId, session.ChatRoute)
		if !d.Allowed || d.Session == nil {
			http.SetCookie(w, s.clearJwtCookie())
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithUserId(r.Context(), d.Session.UserId)
		ctx = WithSession(ctx, *d.Session)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

// pageGuard applies the session guard to page loads.
func (s *GoChatApp) pageGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.guard.Mount(r.Context(), s.sessionId(r), r.URL.Path)
		if d.SignedOut {
			http.SetCookie(w, s.clearJwtCookie())
		}

		if d.Redirect != "" && d.Redirect != r.URL.Path {
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
