package account

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/mailer"
	"github.com/npezzotti/roomsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const publicURL = "http://localhost:8000"

var createdAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *database.MockGoChatRepository, *mailer.MockMailer) {
	db := &database.MockGoChatRepository{}
	m := &mailer.MockMailer{}
	t.Cleanup(func() {
		db.AssertExpectations(t)
		m.AssertExpectations(t)
	})

	s := NewService(testutil.TestLogger(t), db, m, NewTokenStore(), publicURL)
	s.hashCost = bcrypt.MinCost
	return s, db, m
}

func mustHash(t *testing.T, passwd string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func tokenFromLink(t *testing.T, link string) string {
	_, token, ok := strings.Cut(link, "?token=")
	require.True(t, ok, "expected token in link %q", link)
	return token
}

func TestRegister(t *testing.T) {
	s, db, m := newTestService(t)

	db.On("UsernameExists", "alice").Return(false, nil)
	db.On("CreateCredential", mock.MatchedBy(func(p database.CreateCredentialParams) bool {
		return p.EmailAddress == "alice@example.com" && verifyPassword(p.PasswordHash, "password")
	})).Return(database.Account{Id: 1, EmailAddress: "alice@example.com", CreatedAt: createdAt}, nil)
	db.On("CreateProfile", database.CreateProfileParams{
		AccountId:          1,
		Username:           "alice",
		VerificationSentAt: createdAt,
	}).Return(nil)

	var link string
	m.On("SendVerification", mock.Anything, "alice@example.com", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { link = args.String(2) }).
		Return(nil)

	user, err := s.Register(context.Background(), RegisterParams{
		Email:    "alice@example.com",
		Username: "  Alice ",
		Password: "password",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, user.Id)
	assert.Equal(t, "alice", user.Username)
	assert.False(t, user.Verified)
	assert.True(t, strings.HasPrefix(link, publicURL+"/api/auth/verify?token="), "unexpected link %q", link)
}

func TestRegister_Rejections(t *testing.T) {
	tcases := []struct {
		name   string
		params RegisterParams
		setup  func(db *database.MockGoChatRepository)
		err    error
		msg    string
	}{
		{
			name:   "empty username",
			params: RegisterParams{Email: "a@example.com", Username: "  ", Password: "password"},
			setup:  func(db *database.MockGoChatRepository) {},
			err:    ErrUsernameRequired,
		},
		{
			name:   "empty password",
			params: RegisterParams{Email: "a@example.com", Username: "alice"},
			setup:  func(db *database.MockGoChatRepository) {},
			err:    ErrPasswordRequired,
		},
		{
			name:   "username differs only by case",
			params: RegisterParams{Email: "a2@example.com", Username: "Alice", Password: "password"},
			setup: func(db *database.MockGoChatRepository) {
				db.On("UsernameExists", "alice").Return(true, nil)
			},
			err: ErrUsernameExists,
			msg: "username already exists",
		},
		{
			name:   "email in use",
			params: RegisterParams{Email: "a@example.com", Username: "bob", Password: "password"},
			setup: func(db *database.MockGoChatRepository) {
				db.On("UsernameExists", "bob").Return(false, nil)
				db.On("CreateCredential", mock.Anything).Return(database.Account{}, database.ErrEmailInUse)
			},
			err: ErrEmailInUse,
			msg: "email already in use",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			s, db, _ := newTestService(t)
			tc.setup(db)

			_, err := s.Register(context.Background(), tc.params)
			assert.ErrorIs(t, err, tc.err)
			if tc.msg != "" {
				assert.EqualError(t, err, tc.msg)
			}
		})
	}
}

func TestRegister_ProfileFailureRemovesCredential(t *testing.T) {
	tcases := []struct {
		name       string
		profileErr error
		expected   error
	}{
		{
			name:       "username taken concurrently",
			profileErr: database.ErrUsernameTaken,
			expected:   ErrUsernameExists,
		},
		{
			name:       "connection lost",
			profileErr: errors.New("connection reset"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			s, db, _ := newTestService(t)

			db.On("UsernameExists", "alice").Return(false, nil)
			db.On("CreateCredential", mock.Anything).Return(database.Account{Id: 9, EmailAddress: "alice@example.com"}, nil)
			db.On("CreateProfile", mock.Anything).Return(tc.profileErr)
			db.On("DeleteCredential", 9).Return(nil).Once()

			_, err := s.Register(context.Background(), RegisterParams{
				Email:    "alice@example.com",
				Username: "alice",
				Password: "password",
			})
			require.Error(t, err)
			if tc.expected != nil {
				assert.ErrorIs(t, err, tc.expected)
			} else {
				assert.ErrorIs(t, err, tc.profileErr)
			}
		})
	}
}

func TestRegister_EmailFailureKeepsAccount(t *testing.T) {
	s, db, m := newTestService(t)

	db.On("UsernameExists", "alice").Return(false, nil)
	db.On("CreateCredential", mock.Anything).Return(database.Account{Id: 1, EmailAddress: "alice@example.com"}, nil)
	db.On("CreateProfile", mock.Anything).Return(nil)
	m.On("SendVerification", mock.Anything, "alice@example.com", mock.Anything).Return(errors.New("smtp down"))

	user, err := s.Register(context.Background(), RegisterParams{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "password",
	})
	assert.ErrorIs(t, err, ErrVerificationNotSent)
	assert.ErrorContains(t, err, "smtp down")
	assert.Equal(t, 1, user.Id, "expected the created user alongside the error")
	db.AssertNotCalled(t, "DeleteCredential", mock.Anything)
}

func TestLogin(t *testing.T) {
	hash := mustHash(t, "password")

	tcases := []struct {
		name     string
		email    string
		password string
		setup    func(db *database.MockGoChatRepository)
		err      error
	}{
		{
			name:     "verified account",
			email:    "alice@example.com",
			password: "password",
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetAccountByEmail", "alice@example.com").
					Return(database.Account{Id: 1, Username: "alice", PasswordHash: hash, Verified: true}, nil)
			},
		},
		{
			name:     "unknown email",
			email:    "nobody@example.com",
			password: "password",
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetAccountByEmail", "nobody@example.com").Return(database.Account{}, sql.ErrNoRows)
			},
			err: ErrInvalidCredentials,
		},
		{
			name:     "wrong password",
			email:    "alice@example.com",
			password: "wrong",
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetAccountByEmail", "alice@example.com").
					Return(database.Account{Id: 1, PasswordHash: hash, Verified: true}, nil)
			},
			err: ErrInvalidCredentials,
		},
		{
			name:     "unverified account",
			email:    "alice@example.com",
			password: "password",
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetAccountByEmail", "alice@example.com").
					Return(database.Account{Id: 1, PasswordHash: hash}, nil)
			},
			err: ErrUnverified,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			s, db, _ := newTestService(t)
			tc.setup(db)

			user, err := s.Login(context.Background(), tc.email, tc.password)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice", user.Username)
			assert.True(t, user.Verified)
		})
	}
}

func TestVerifyEmail(t *testing.T) {
	s, db, m := newTestService(t)

	db.On("GetAccountByEmail", "alice@example.com").Return(database.Account{Id: 1, EmailAddress: "alice@example.com"}, nil)
	var link string
	m.On("SendVerification", mock.Anything, "alice@example.com", mock.Anything).
		Run(func(args mock.Arguments) { link = args.String(2) }).
		Return(nil)
	require.NoError(t, s.ResendVerification(context.Background(), "alice@example.com"))

	token := tokenFromLink(t, link)
	db.On("SetVerified", 1).Return(nil).Once()
	db.On("GetAccountById", 1).Return(database.Account{Id: 1, Username: "alice", Verified: true}, nil).Once()

	user, err := s.VerifyEmail(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, user.Verified)

	_, err = s.VerifyEmail(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expected token to be single use")

	_, err = s.VerifyEmail(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResendVerification(t *testing.T) {
	t.Run("unknown email is ignored", func(t *testing.T) {
		s, db, _ := newTestService(t)
		db.On("GetAccountByEmail", "nobody@example.com").Return(database.Account{}, sql.ErrNoRows)

		assert.NoError(t, s.ResendVerification(context.Background(), "nobody@example.com"))
	})

	t.Run("already verified", func(t *testing.T) {
		s, db, _ := newTestService(t)
		db.On("GetAccountByEmail", "alice@example.com").Return(database.Account{Id: 1, Verified: true}, nil)

		assert.ErrorIs(t, s.ResendVerification(context.Background(), "alice@example.com"), ErrAlreadyVerified)
	})
}

func TestPasswordReset(t *testing.T) {
	s, db, m := newTestService(t)

	db.On("GetAccountByEmail", "alice@example.com").Return(database.Account{Id: 1, EmailAddress: "alice@example.com"}, nil)
	var link string
	m.On("SendPasswordReset", mock.Anything, "alice@example.com", mock.Anything).
		Run(func(args mock.Arguments) { link = args.String(2) }).
		Return(nil)

	require.NoError(t, s.RequestPasswordReset(context.Background(), "alice@example.com"))
	assert.True(t, strings.HasPrefix(link, publicURL+"/forgot-password?token="))
	token := tokenFromLink(t, link)

	assert.ErrorIs(t, s.ResetPassword(context.Background(), token, ""), ErrPasswordRequired)

	db.On("UpdatePassword", 1, mock.MatchedBy(func(hash string) bool {
		return verifyPassword(hash, "new-password")
	})).Return(nil).Once()
	require.NoError(t, s.ResetPassword(context.Background(), token, "new-password"))

	assert.ErrorIs(t, s.ResetPassword(context.Background(), token, "again"), ErrInvalidToken)
}

func TestRequestPasswordReset_UnknownEmail(t *testing.T) {
	s, db, m := newTestService(t)
	db.On("GetAccountByEmail", "nobody@example.com").Return(database.Account{}, sql.ErrNoRows)

	assert.NoError(t, s.RequestPasswordReset(context.Background(), "nobody@example.com"))
	m.AssertNotCalled(t, "SendPasswordReset", mock.Anything, mock.Anything, mock.Anything)
}

func TestTokenStore(t *testing.T) {
	s := NewTokenStore()

	token := s.Issue(purposeVerify, 5, time.Minute)
	_, ok := s.Redeem(purposeReset, token)
	assert.False(t, ok, "expected token to be bound to its purpose")

	id, ok := s.Redeem(purposeVerify, token)
	assert.True(t, ok)
	assert.Equal(t, 5, id)

	_, ok = s.Redeem(purposeVerify, token)
	assert.False(t, ok)

	expiring := s.Issue(purposeReset, 6, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, ok = s.Redeem(purposeReset, expiring)
	assert.False(t, ok)
}
