package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/npezzotti/roomsync/internal/types"
)

const (
	tokenCookieKey = "token"
	// tokens outlive their session so the guard, not the token, decides
	// when a session has ended
	tokenGrace = time.Hour
)

type contextKey string

const (
	userIdKey  contextKey = "user-id"
	sessionKey contextKey = "session"
)

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)

	return userId, ok
}

func WithSession(ctx context.Context, sess types.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

func SessionFrom(ctx context.Context) (types.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(types.Session)
	return sess, ok
}

type sessionClaims struct {
	UserId    int    `json:"user-id"`
	SessionId string `json:"sid"`
	jwt.RegisteredClaims
}

func (s *GoChatApp) createJwtForSession(sess types.Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		UserId:    sess.UserId,
		SessionId: sess.Id,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt.Add(tokenGrace)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	return token.SignedString(s.signingKey)
}

func (s *GoChatApp) parseToken(tokenString string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.UserId == 0 || claims.SessionId == "" {
		return nil, errors.New("invalid session claims")
	}

	return claims, nil
}

// sessionClaimsFromRequest reads the session cookie. A missing or invalid
// cookie is reported as an error.
func (s *GoChatApp) sessionClaimsFromRequest(r *http.Request) (*sessionClaims, error) {
	tokenCookie, err := r.Cookie(tokenCookieKey)
	if err != nil {
		return nil, fmt.Errorf("get cookie: %w", err)
	}

	return s.parseToken(tokenCookie.Value)
}

// sessionId returns the id of the session named by the request's cookie,
// empty if there is none.
func (s *GoChatApp) sessionId(r *http.Request) string {
	claims, err := s.sessionClaimsFromRequest(r)
	if err != nil {
		return ""
	}
	return claims.SessionId
}

// createJwtCookie builds the session cookie. Non-persistent cookies end with
// the browser session.
func (s *GoChatApp) createJwtCookie(tokenString string, sess types.Session) *http.Cookie {
	c := &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	}
	if sess.Persistent {
		c.Expires = sess.ExpiresAt.Add(tokenGrace)
	}
	return c
}

func (s *GoChatApp) clearJwtCookie() *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}
