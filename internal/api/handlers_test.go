package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testUser = types.User{Id: 1, Username: "alice", EmailAddress: "alice@example.com", Verified: true}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v))
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestHealthz(t *testing.T) {
	tcases := []struct {
		name       string
		pingErr    error
		statusCode int
	}{
		{name: "ok", statusCode: http.StatusOK},
		{name: "database down", pingErr: errors.New("db error"), statusCode: http.StatusServiceUnavailable},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t)
			ta.db.On("Ping").Return(tc.pingErr).Once()

			rr := ta.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.statusCode, rr.Code)
			ta.db.AssertExpectations(t)
		})
	}
}

func TestCreateAccount(t *testing.T) {
	acct := database.Account{Id: 5, EmailAddress: "bob@example.com", CreatedAt: time.Now()}

	tcases := []struct {
		name             string
		body             string
		setup            func(ta *testApp)
		statusCode       int
		verificationSent bool
		message          string
	}{
		{
			name: "created",
			body: `{"email":"bob@example.com","username":"Bob","password":"secret1"}`,
			setup: func(ta *testApp) {
				ta.db.On("UsernameExists", "bob").Return(false, nil)
				ta.db.On("CreateCredential", mock.Anything).Return(acct, nil)
				ta.db.On("CreateProfile", mock.Anything).Return(nil)
				ta.mailer.On("SendVerification", mock.Anything, "bob@example.com", mock.Anything).Return(nil)
			},
			statusCode:       http.StatusCreated,
			verificationSent: true,
		},
		{
			name: "created without verification email",
			body: `{"email":"bob@example.com","username":"bob","password":"secret1"}`,
			setup: func(ta *testApp) {
				ta.db.On("UsernameExists", "bob").Return(false, nil)
				ta.db.On("CreateCredential", mock.Anything).Return(acct, nil)
				ta.db.On("CreateProfile", mock.Anything).Return(nil)
				ta.mailer.On("SendVerification", mock.Anything, "bob@example.com", mock.Anything).Return(errors.New("smtp down"))
			},
			statusCode:       http.StatusCreated,
			verificationSent: false,
		},
		{
			name: "username taken",
			body: `{"email":"bob@example.com","username":"bob","password":"secret1"}`,
			setup: func(ta *testApp) {
				ta.db.On("UsernameExists", "bob").Return(true, nil)
			},
			statusCode: http.StatusConflict,
			message:    "username already exists",
		},
		{
			name: "email in use",
			body: `{"email":"bob@example.com","username":"bob","password":"secret1"}`,
			setup: func(ta *testApp) {
				ta.db.On("UsernameExists", "bob").Return(false, nil)
				ta.db.On("CreateCredential", mock.Anything).Return(database.Account{}, database.ErrEmailInUse)
			},
			statusCode: http.StatusConflict,
			message:    "email already in use",
		},
		{
			name:       "missing email",
			body:       `{"username":"bob","password":"secret1"}`,
			statusCode: http.StatusBadRequest,
			message:    "email is required",
		},
		{
			name:       "short password",
			body:       `{"email":"bob@example.com","username":"bob","password":"abc"}`,
			statusCode: http.StatusBadRequest,
			message:    "password must be at least 6 characters",
		},
		{
			name:       "malformed body",
			body:       `{`,
			statusCode: http.StatusBadRequest,
			message:    "bad request",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t)
			if tc.setup != nil {
				tc.setup(ta)
			}

			rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/register", tc.body))

			require.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusCreated {
				var resp RegisterResponse
				decodeBody(t, rr, &resp)
				assert.Equal(t, 5, resp.User.Id)
				assert.Equal(t, "bob", resp.User.Username)
				assert.Equal(t, tc.verificationSent, resp.VerificationSent)
			} else {
				var apiErr ApiError
				decodeBody(t, rr, &apiErr)
				assert.Equal(t, tc.message, apiErr.Message)
			}
			ta.db.AssertExpectations(t)
			ta.mailer.AssertExpectations(t)
		})
	}
}

func TestLogin(t *testing.T) {
	acct := database.Account{
		Id:           1,
		EmailAddress: "alice@example.com",
		PasswordHash: hashed(t, "secret1"),
		Username:     "alice",
		Verified:     true,
	}

	t.Run("success", func(t *testing.T) {
		ta := newTestApp(t)
		ta.db.On("GetAccountByEmail", "alice@example.com").Return(acct, nil)

		rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/login",
			`{"email":"alice@example.com","password":"secret1"}`))

		require.Equal(t, http.StatusOK, rr.Code)
		var sess types.Session
		decodeBody(t, rr, &sess)
		assert.Equal(t, 1, sess.UserId)
		assert.Equal(t, "alice", sess.DisplayName)
		assert.True(t, ta.clock.Now().Add(5*time.Minute).Equal(sess.ExpiresAt))

		cookie := findCookie(rr, tokenCookieKey)
		require.NotNil(t, cookie)
		claims, err := ta.app.parseToken(cookie.Value)
		require.NoError(t, err)
		assert.Equal(t, sess.Id, claims.SessionId)
		assert.True(t, cookie.Expires.IsZero(), "expected a browser-session cookie")
		assert.Equal(t, 1, ta.sessions.Puts())
	})

	t.Run("remember me", func(t *testing.T) {
		ta := newTestApp(t)
		ta.db.On("GetAccountByEmail", "alice@example.com").Return(acct, nil)

		rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/login",
			`{"email":"alice@example.com","password":"secret1","remember":true}`))

		require.Equal(t, http.StatusOK, rr.Code)
		cookie := findCookie(rr, tokenCookieKey)
		require.NotNil(t, cookie)
		assert.False(t, cookie.Expires.IsZero())
	})

	t.Run("wrong password", func(t *testing.T) {
		ta := newTestApp(t)
		ta.db.On("GetAccountByEmail", "alice@example.com").Return(acct, nil)

		rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/login",
			`{"email":"alice@example.com","password":"nope"}`))

		require.Equal(t, http.StatusUnauthorized, rr.Code)
		var apiErr ApiError
		decodeBody(t, rr, &apiErr)
		assert.Equal(t, "invalid email or password", apiErr.Message)
		assert.Nil(t, findCookie(rr, tokenCookieKey))
	})

	t.Run("unknown email", func(t *testing.T) {
		ta := newTestApp(t)
		ta.db.On("GetAccountByEmail", "nobody@example.com").Return(database.Account{}, sql.ErrNoRows)

		rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/login",
			`{"email":"nobody@example.com","password":"secret1"}`))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unverified", func(t *testing.T) {
		ta := newTestApp(t)
		unverified := acct
		unverified.Verified = false
		ta.db.On("GetAccountByEmail", "alice@example.com").Return(unverified, nil)

		rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/login",
			`{"email":"alice@example.com","password":"secret1"}`))

		require.Equal(t, http.StatusForbidden, rr.Code)
		cookie := findCookie(rr, tokenCookieKey)
		require.NotNil(t, cookie, "expected the session cookie to be cleared")
		assert.Empty(t, cookie.Value)
		assert.Equal(t, -1, cookie.MaxAge)
		assert.Equal(t, 0, ta.sessions.Puts(), "expected no session written for an unverified account")
	})
}

func TestLogout(t *testing.T) {
	ta := newTestApp(t)
	cookie, sess := ta.signIn(t, testUser)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	req.AddCookie(cookie)
	rr := ta.serve(req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	cleared := findCookie(rr, tokenCookieKey)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	d := ta.guard.Mount(req.Context(), sess.Id, "/chat-page")
	assert.False(t, d.Allowed)
	assert.Nil(t, d.Session)

	// logging out again is harmless
	req = httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	req.AddCookie(cookie)
	assert.Equal(t, http.StatusNoContent, ta.serve(req).Code)
}

func TestSessionEndpoint(t *testing.T) {
	ta := newTestApp(t)
	cookie, sess := ta.signIn(t, testUser)

	tcases := []struct {
		name     string
		target   string
		cookie   *http.Cookie
		allowed  bool
		redirect string
	}{
		{
			name:     "protected without session",
			target:   "/api/auth/session?route=/chat-page",
			redirect: "/",
		},
		{
			name:    "public without session",
			target:  "/api/auth/session?route=/login",
			allowed: true,
		},
		{
			name:    "protected with session",
			target:  "/api/auth/session",
			cookie:  cookie,
			allowed: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}
			rr := ta.serve(req)

			require.Equal(t, http.StatusOK, rr.Code)
			var resp SessionResponse
			decodeBody(t, rr, &resp)
			assert.Equal(t, tc.allowed, resp.Allowed)
			assert.Equal(t, tc.redirect, resp.Redirect)
			if tc.cookie != nil {
				require.NotNil(t, resp.Session)
				assert.Equal(t, sess.Id, resp.Session.Id)
			}
		})
	}
}

func TestActivity_Expiry(t *testing.T) {
	ta := newTestApp(t)
	cookie, _ := ta.signIn(t, testUser)

	interact := func() SessionResponse {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/activity?route=/chat-page", nil)
		req.AddCookie(cookie)
		rr := ta.serve(req)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp SessionResponse
		decodeBody(t, rr, &resp)
		return resp
	}

	ta.clock.Advance(4 * time.Minute)
	resp := interact()
	assert.True(t, resp.Allowed)
	assert.False(t, resp.SignedOut)

	// activity does not move the expiry
	ta.clock.Advance(time.Minute + time.Second)
	resp = interact()
	assert.False(t, resp.Allowed)
	assert.True(t, resp.SignedOut)
	assert.Equal(t, "/", resp.Redirect)

	resp = interact()
	assert.False(t, resp.SignedOut, "expected a single sign-out")
	assert.Equal(t, "/", resp.Redirect)
}

func TestVerifyEmail(t *testing.T) {
	ta := newTestApp(t)
	var link string
	ta.db.On("UsernameExists", "carol").Return(false, nil)
	ta.db.On("CreateCredential", mock.Anything).Return(database.Account{Id: 9, EmailAddress: "carol@example.com"}, nil)
	ta.db.On("CreateProfile", mock.Anything).Return(nil)
	ta.mailer.On("SendVerification", mock.Anything, "carol@example.com", mock.Anything).
		Run(func(args mock.Arguments) { link = args.String(2) }).
		Return(nil)
	ta.db.On("SetVerified", 9).Return(nil).Once()
	ta.db.On("GetAccountById", 9).Return(database.Account{Id: 9, Verified: true}, nil).Once()

	rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/register",
		`{"email":"carol@example.com","username":"carol","password":"secret1"}`))
	require.Equal(t, http.StatusCreated, rr.Code)

	target, ok := strings.CutPrefix(link, testOrigin)
	require.True(t, ok, "unexpected link %q", link)

	rr = ta.serve(httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/?verified=true", rr.Header().Get("Location"))

	// tokens are single use
	rr = ta.serve(httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	ta.db.AssertExpectations(t)
}

func TestResendVerification(t *testing.T) {
	tcases := []struct {
		name       string
		acct       database.Account
		getErr     error
		mailErr    error
		statusCode int
	}{
		{
			name:       "sent",
			acct:       database.Account{Id: 2, EmailAddress: "dan@example.com"},
			statusCode: http.StatusAccepted,
		},
		{
			name:       "unknown address",
			getErr:     sql.ErrNoRows,
			statusCode: http.StatusAccepted,
		},
		{
			name:       "already verified",
			acct:       database.Account{Id: 2, EmailAddress: "dan@example.com", Verified: true},
			statusCode: http.StatusConflict,
		},
		{
			name:       "mail failure",
			acct:       database.Account{Id: 2, EmailAddress: "dan@example.com"},
			mailErr:    errors.New("smtp down"),
			statusCode: http.StatusBadGateway,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t)
			ta.db.On("GetAccountByEmail", "dan@example.com").Return(tc.acct, tc.getErr)
			ta.mailer.On("SendVerification", mock.Anything, "dan@example.com", mock.Anything).Return(tc.mailErr).Maybe()

			rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/resend-verification", `{"email":"dan@example.com"}`))

			assert.Equal(t, tc.statusCode, rr.Code)
		})
	}
}

func TestForgotPassword(t *testing.T) {
	tcases := []struct {
		name   string
		acct   database.Account
		getErr error
	}{
		{name: "known address", acct: database.Account{Id: 2, EmailAddress: "dan@example.com"}},
		{name: "unknown address", getErr: sql.ErrNoRows},
		{name: "lookup failure", getErr: errors.New("db down")},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t)
			ta.db.On("GetAccountByEmail", "dan@example.com").Return(tc.acct, tc.getErr)
			ta.mailer.On("SendPasswordReset", mock.Anything, "dan@example.com", mock.Anything).Return(nil).Maybe()

			rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/forgot-password", `{"email":"dan@example.com"}`))

			assert.Equal(t, http.StatusAccepted, rr.Code)
			assert.Empty(t, rr.Body.String())
		})
	}
}

func TestResetPassword(t *testing.T) {
	ta := newTestApp(t)
	var link string
	ta.db.On("GetAccountByEmail", "dan@example.com").Return(database.Account{Id: 2, EmailAddress: "dan@example.com"}, nil)
	ta.mailer.On("SendPasswordReset", mock.Anything, "dan@example.com", mock.Anything).
		Run(func(args mock.Arguments) { link = args.String(2) }).
		Return(nil)
	ta.db.On("UpdatePassword", 2, mock.Anything).Return(nil).Once()

	rr := ta.serve(jsonRequest(http.MethodPost, "/api/auth/forgot-password", `{"email":"dan@example.com"}`))
	require.Equal(t, http.StatusAccepted, rr.Code)

	_, token, ok := strings.Cut(link, "token=")
	require.True(t, ok, "unexpected link %q", link)

	rr = ta.serve(jsonRequest(http.MethodPost, "/api/auth/reset-password",
		`{"token":"`+token+`","password":"newsecret"}`))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ta.serve(jsonRequest(http.MethodPost, "/api/auth/reset-password",
		`{"token":"`+token+`","password":"newsecret"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	ta.db.AssertExpectations(t)
}

func TestAccount(t *testing.T) {
	ta := newTestApp(t)
	cookie, _ := ta.signIn(t, testUser)
	ta.db.On("GetAccountById", 1).Return(database.Account{
		Id:           1,
		Username:     "alice",
		EmailAddress: "alice@example.com",
		Verified:     true,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	req.AddCookie(cookie)
	rr := ta.serve(req)

	require.Equal(t, http.StatusOK, rr.Code)
	var user types.User
	decodeBody(t, rr, &user)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@example.com", user.EmailAddress)
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
}

func TestAccount_ExpiredSession(t *testing.T) {
	ta := newTestApp(t)
	cookie, _ := ta.signIn(t, testUser)
	ta.clock.Advance(10 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	req.AddCookie(cookie)
	rr := ta.serve(req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	cleared := findCookie(rr, tokenCookieKey)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestListRooms(t *testing.T) {
	ta := newTestApp(t)
	cookie, _ := ta.signIn(t, testUser)
	ta.db.On("ListRooms").Return([]database.Room{
		{Id: 1, Key: "room1", Name: "general", OwnerId: 1},
		{Id: 2, Key: "room2", Name: "random"},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.AddCookie(cookie)
	rr := ta.serve(req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp RoomsResponse
	decodeBody(t, rr, &resp)
	require.Len(t, resp.Rooms, 2)
	assert.Equal(t, "room1", resp.Rooms[0].Key)
	assert.Equal(t, "random", resp.Rooms[1].Name)
}

func TestCreateRoom(t *testing.T) {
	tcases := []struct {
		name       string
		body       string
		setup      func(ta *testApp)
		statusCode int
	}{
		{
			name: "created",
			body: `{"name":"general"}`,
			setup: func(ta *testApp) {
				ta.db.On("CountRooms").Return(2, nil)
				ta.db.On("UpsertRoom", database.CreateRoomParams{Key: "room3", Name: "general", OwnerId: 1}).
					Return(database.Room{Id: 3, Key: "room3", Name: "general", OwnerId: 1}, nil)
				ta.db.On("ListRooms").Return([]database.Room{{Id: 3, Key: "room3", Name: "general", OwnerId: 1}}, nil)
			},
			statusCode: http.StatusCreated,
		},
		{
			name:       "missing name",
			body:       `{}`,
			statusCode: http.StatusBadRequest,
		},
		{
			name: "store failure",
			body: `{"name":"general"}`,
			setup: func(ta *testApp) {
				ta.db.On("CountRooms").Return(0, errors.New("db down"))
			},
			statusCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t)
			cookie, _ := ta.signIn(t, testUser)
			if tc.setup != nil {
				tc.setup(ta)
			}

			req := jsonRequest(http.MethodPost, "/api/rooms", tc.body)
			req.AddCookie(cookie)
			rr := ta.serve(req)

			require.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusCreated {
				var room types.Room
				decodeBody(t, rr, &room)
				assert.Equal(t, "room3", room.Key)
				assert.True(t, ta.hub.Retained("rooms"), "expected the room list to be published")
			}
			ta.db.AssertExpectations(t)
		})
	}
}

func TestDeleteRoom(t *testing.T) {
	tcases := []struct {
		name       string
		target     string
		setup      func(ta *testApp)
		statusCode int
	}{
		{
			name:   "deleted",
			target: "/api/rooms?id=room1",
			setup: func(ta *testApp) {
				ta.db.On("GetRoomByKey", "room1").Return(database.Room{Id: 1, Key: "room1", OwnerId: 1}, nil)
				ta.db.On("DeleteRoom", 1).Return(nil)
				ta.db.On("ListRooms").Return([]database.Room{}, nil)
			},
			statusCode: http.StatusNoContent,
		},
		{
			name:   "not owner",
			target: "/api/rooms?id=room1",
			setup: func(ta *testApp) {
				ta.db.On("GetRoomByKey", "room1").Return(database.Room{Id: 1, Key: "room1", OwnerId: 2}, nil)
			},
			statusCode: http.StatusForbidden,
		},
		{
			name:   "not found",
			target: "/api/rooms?id=room9",
			setup: func(ta *testApp) {
				ta.db.On("GetRoomByKey", "room9").Return(database.Room{}, sql.ErrNoRows)
			},
			statusCode: http.StatusNotFound,
		},
		{
			name:       "missing id",
			target:     "/api/rooms",
			statusCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t)
			cookie, _ := ta.signIn(t, testUser)
			if tc.setup != nil {
				tc.setup(ta)
			}

			req := httptest.NewRequest(http.MethodDelete, tc.target, nil)
			req.AddCookie(cookie)
			rr := ta.serve(req)

			assert.Equal(t, tc.statusCode, rr.Code)
			ta.db.AssertExpectations(t)
		})
	}
}

func TestGetMessages(t *testing.T) {
	ta := newTestApp(t)
	cookie, _ := ta.signIn(t, testUser)
	base := time.UnixMilli(1700000000000).UTC()
	ta.db.On("GetRoomByKey", "room1").Return(database.Room{Id: 1, Key: "room1"}, nil)
	ta.db.On("GetMessages", 1).Return([]database.Message{
		{RoomId: 1, Key: "message_1700000002000", AuthorName: "bob", Body: "third", SentAt: base.Add(2 * time.Second)},
		{RoomId: 1, Key: "message_1700000000000", AuthorName: "alice", Body: "first", SentAt: base},
		{RoomId: 1, Key: "message_1700000001000", AuthorName: "bob", Body: "second", SentAt: base.Add(time.Second)},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/messages?room_id=room1", nil)
	req.AddCookie(cookie)
	rr := ta.serve(req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp MessagesResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "room1", resp.RoomId)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{
		resp.Messages[0].Body, resp.Messages[1].Body, resp.Messages[2].Body,
	})
}

func TestGetMessages_MissingRoom(t *testing.T) {
	ta := newTestApp(t)
	cookie, _ := ta.signIn(t, testUser)

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.AddCookie(cookie)
	rr := ta.serve(req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServeWs_RejectsForeignOrigin(t *testing.T) {
	ta := newTestApp(t)
	cookie, _ := ta.signIn(t, testUser)
	ta.db.On("GetAccountById", 1).Return(database.Account{Id: 1, Username: "alice", Verified: true}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-Websocket-Version", "13")
	req.Header.Set("Sec-Websocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", "http://evil.test")
	req.AddCookie(cookie)
	rr := ta.serve(req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 0, ta.app.cs.NumClients())
}
