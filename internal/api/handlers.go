package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomsync/internal/account"
	"github.com/npezzotti/roomsync/internal/server"
	"github.com/npezzotti/roomsync/internal/session"
	"github.com/npezzotti/roomsync/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Remember bool   `json:"remember"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,max=32"`
	Password string `json:"password" validate:"required,min=6"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
}

type CreateRoomRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type RegisterResponse struct {
	User             types.User `json:"user"`
	VerificationSent bool       `json:"verification_sent"`
}

type SessionResponse struct {
	Allowed   bool           `json:"allowed"`
	Redirect  string         `json:"redirect,omitempty"`
	SignedOut bool           `json:"signed_out,omitempty"`
	Session   *types.Session `json:"session,omitempty"`
}

type RoomsResponse struct {
	Rooms []types.Room `json:"rooms"`
}

type MessagesResponse struct {
	RoomId   string          `json:"room_id"`
	Messages []types.Message `json:"messages"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("json encode", "error", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, err error) {
	errResp := fromError(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "error", err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decode reads a JSON body into v and validates it.
func (s *GoChatApp) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError()
	}

	return s.validate.Struct(v)
}

func (s *GoChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	user, err := s.accounts.Register(r.Context(), account.RegisterParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil && !errors.Is(err, account.ErrVerificationNotSent) {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, RegisterResponse{
		User:             user,
		VerificationSent: err == nil,
	})
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	user, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrUnverified) {
			http.SetCookie(w, s.clearJwtCookie())
		}
		s.writeError(w, err)
		return
	}

	// a login replaces whatever session the browser had
	if err := s.guard.SignOut(r.Context(), s.sessionId(r)); err != nil {
		s.log.Warnw("failed to end previous session", "error", err)
	}

	sess, err := s.guard.SignIn(r.Context(), user, req.Remember)
	if err != nil {
		s.writeError(w, err)
		return
	}

	token, err := s.createJwtForSession(sess)
	if err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, s.createJwtCookie(token, sess))
	s.writeJson(w, http.StatusOK, sess)
}

func (s *GoChatApp) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.SignOut(r.Context(), s.sessionId(r)); err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, s.clearJwtCookie())
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	s.writeDecision(w, s.guard.Mount(r.Context(), s.sessionId(r), routeParam(r)))
}

func (s *GoChatApp) activity(w http.ResponseWriter, r *http.Request) {
	s.writeDecision(w, s.guard.Interact(r.Context(), s.sessionId(r), routeParam(r)))
}

func (s *GoChatApp) writeDecision(w http.ResponseWriter, d session.Decision) {
	if d.SignedOut || (d.Session == nil && !d.Allowed) {
		http.SetCookie(w, s.clearJwtCookie())
	}

	s.writeJson(w, http.StatusOK, SessionResponse{
		Allowed:   d.Allowed,
		Redirect:  d.Redirect,
		SignedOut: d.SignedOut,
		Session:   d.Session,
	})
}

func routeParam(r *http.Request) string {
	if route := r.URL.Query().Get("route"); route != "" {
		return route
	}
	return session.ChatRoute
}

func (s *GoChatApp) verifyEmail(w http.ResponseWriter, r *http.Request) {
	if _, err := s.accounts.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		s.writeError(w, err)
		return
	}

	http.Redirect(w, r, session.EntryRoute+"?verified=true", http.StatusSeeOther)
}

func (s *GoChatApp) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.accounts.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *GoChatApp) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	// the response is the same whether or not the address has an account
	if err := s.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.log.Errorw("failed to request password reset", "error", err)
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *GoChatApp) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.accounts.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) account(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.accounts.User(r.Context(), userId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	list, err := s.cs.Directory().List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, RoomsResponse{Rooms: list})
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	room, err := s.cs.Directory().Create(r.Context(), userId, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *GoChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	key := r.URL.Query().Get("id")
	if key == "" {
		s.writeError(w, NewValidationError("id is required"))
		return
	}

	if err := s.cs.Directory().Delete(r.Context(), userId, key); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("room_id")
	if key == "" {
		s.writeError(w, NewValidationError("room_id is required"))
		return
	}

	messages, err := s.cs.Directory().Messages(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, MessagesResponse{RoomId: key, Messages: messages})
}

func (s *GoChatApp) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Errorw("health check failed", "error", err)
		s.writeJson(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.accounts.User(r.Context(), sess.UserId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("error upgrading connection", "error", err)
		return
	}

	client := server.NewClient(user, sess, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
