// Package session decides whether a browser may stay on a route.
//
// A session is created at sign-in with a fixed expiry. Activity is recorded
// but never moves the expiry; the first check after it passes signs the user
// out and redirects to the entry page.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/roomsync/internal/clock"
	"github.com/npezzotti/roomsync/internal/types"
	"go.uber.org/zap"
)

const (
	EntryRoute   = "/"
	ChatRoute    = "/chat-page"
	guestName    = "Guest"
	reasonExpiry = "expired"
)

var publicRoutes = []string{
	"/",
	"/login",
	"/create-account",
	"/forgot-password",
	"/terms-and-policy",
}

// IsPublicRoute reports whether route can be shown without a session.
func IsPublicRoute(route string) bool {
	return slices.Contains(publicRoutes, route)
}

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool
	// Redirect is the route to navigate to, empty to stay.
	Redirect string
	// SignedOut is set only by the check that ended the session.
	SignedOut bool
	Session   *types.Session
}

type Guard struct {
	log   *zap.SugaredLogger
	store Store
	clock clock.Clock
	ttl   time.Duration
}

func NewGuard(log *zap.SugaredLogger, store Store, clk clock.Clock, ttl time.Duration) *Guard {
	return &Guard{
		log:   log,
		store: store,
		clock: clk,
		ttl:   ttl,
	}
}

// SignIn starts a session for user. The expiry window starts now.
func (g *Guard) SignIn(ctx context.Context, user types.User, persistent bool) (types.Session, error) {
	now := g.clock.Now().UTC()
	name := user.Username
	if name == "" {
		name = guestName
	}

	sess := types.Session{
		Id:           uuid.NewString(),
		UserId:       user.Id,
		DisplayName:  name,
		ExpiresAt:    now.Add(g.ttl),
		LastActivity: now,
		Persistent:   persistent,
	}
	if err := g.store.Put(ctx, sess); err != nil {
		return types.Session{}, fmt.Errorf("save session: %w", err)
	}

	g.log.Infow("session started", "user_id", user.Id, "session_id", sess.Id, "expires_at", sess.ExpiresAt)
	return sess, nil
}

func (g *Guard) SignOut(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	if _, err := g.store.Delete(ctx, sid); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Mount checks a route as it is first shown.
func (g *Guard) Mount(ctx context.Context, sid, route string) Decision {
	sess, ok := g.lookup(ctx, sid)
	if !ok {
		return g.anonymous(route)
	}
	if g.expired(sess) {
		return g.expire(ctx, sess, route)
	}

	return Decision{Allowed: true, Session: &sess}
}

// Interact records user input on route. It never extends the expiry.
func (g *Guard) Interact(ctx context.Context, sid, route string) Decision {
	sess, ok := g.lookup(ctx, sid)
	if !ok {
		return g.anonymous(route)
	}
	if g.expired(sess) {
		return g.expire(ctx, sess, route)
	}

	sess.LastActivity = g.clock.Now().UTC()
	if err := g.store.Update(ctx, sess); err != nil {
		if errors.Is(err, ErrNotFound) {
			// signed out since the lookup
			return g.anonymous(route)
		}
		g.log.Warnw("failed to record activity", "session_id", sess.Id, "error", err)
	}

	return Decision{Allowed: true, Session: &sess}
}

func (g *Guard) lookup(ctx context.Context, sid string) (types.Session, bool) {
	if sid == "" {
		return types.Session{}, false
	}

	sess, err := g.store.Get(ctx, sid)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			g.log.Errorw("session lookup failed, treating as signed out", "session_id", sid, "error", err)
		}
		return types.Session{}, false
	}

	return sess, true
}

func (g *Guard) expired(sess types.Session) bool {
	return g.clock.Now().After(sess.ExpiresAt)
}

// expire ends sess. Only the caller whose delete removed the record reports
// the sign-out; the rest see an anonymous visitor.
func (g *Guard) expire(ctx context.Context, sess types.Session, route string) Decision {
	removed, err := g.store.Delete(ctx, sess.Id)
	if err != nil {
		g.log.Errorw("failed to delete expired session", "session_id", sess.Id, "error", err)
	}
	if !removed && err == nil {
		return g.anonymous(route)
	}

	g.log.Infow("session ended", "user_id", sess.UserId, "session_id", sess.Id, "reason", reasonExpiry)
	return Decision{Redirect: EntryRoute, SignedOut: true}
}

func (g *Guard) anonymous(route string) Decision {
	if IsPublicRoute(route) {
		return Decision{Allowed: true}
	}
	return Decision{Redirect: EntryRoute}
}
