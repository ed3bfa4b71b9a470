// Package account provisions and authenticates users.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/mailer"
	"github.com/npezzotti/roomsync/internal/types"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameRequired    = errors.New("username is required")
	ErrPasswordRequired    = errors.New("password is required")
	ErrUsernameExists      = errors.New("username already exists")
	ErrEmailInUse          = errors.New("email already in use")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrUnverified          = errors.New("email address not verified")
	ErrAlreadyVerified     = errors.New("email address already verified")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrVerificationNotSent = errors.New("verification email not sent")
)

const (
	verifyPath = "/api/auth/verify"
	resetPath  = "/forgot-password"
)

type RegisterParams struct {
	Email    string
	Username string
	Password string
}

type Service struct {
	log       *zap.SugaredLogger
	db        database.GoChatRepository
	mailer    mailer.Mailer
	tokens    *TokenStore
	publicURL string
	hashCost  int
}

func NewService(log *zap.SugaredLogger, db database.GoChatRepository, m mailer.Mailer, tokens *TokenStore, publicURL string) *Service {
	return &Service{
		log:       log,
		db:        db,
		mailer:    m,
		tokens:    tokens,
		publicURL: publicURL,
		hashCost:  bcrypt.DefaultCost,
	}
}

// Register creates an account and emails a verification link. Usernames are
// stored lower-cased and compared case-insensitively.
//
// If the profile cannot be written the credential is removed again. If the
// email cannot be sent the account is kept and the returned error wraps
// ErrVerificationNotSent alongside the created user.
func (s *Service) Register(ctx context.Context, p RegisterParams) (types.User, error) {
	username := normalizeUsername(p.Username)
	if username == "" {
		return types.User{}, ErrUsernameRequired
	}
	if p.Password == "" {
		return types.User{}, ErrPasswordRequired
	}

	exists, err := s.db.UsernameExists(username)
	if err != nil {
		return types.User{}, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return types.User{}, ErrUsernameExists
	}

	hash, err := s.hashPassword(p.Password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	acct, err := s.db.CreateCredential(database.CreateCredentialParams{
		EmailAddress: strings.TrimSpace(p.Email),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, database.ErrEmailInUse) {
			return types.User{}, ErrEmailInUse
		}
		return types.User{}, fmt.Errorf("create credential: %w", err)
	}

	err = s.db.CreateProfile(database.CreateProfileParams{
		AccountId:          acct.Id,
		Username:           username,
		VerificationSentAt: acct.CreatedAt,
	})
	if err != nil {
		if derr := s.db.DeleteCredential(acct.Id); derr != nil {
			s.log.Errorw("failed to remove credential after profile write failed",
				"account_id", acct.Id, "error", derr)
		}
		if errors.Is(err, database.ErrUsernameTaken) {
			return types.User{}, ErrUsernameExists
		}
		return types.User{}, fmt.Errorf("create profile: %w", err)
	}

	acct.Username = username
	user := toUser(acct)
	s.log.Infow("account registered", "user_id", user.Id, "username", username)

	if err := s.sendVerification(ctx, acct); err != nil {
		return user, err
	}

	return user, nil
}

// Login checks credentials. Unverified accounts are rejected.
func (s *Service) Login(_ context.Context, email, password string) (types.User, error) {
	acct, err := s.db.GetAccountByEmail(strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, fmt.Errorf("get account: %w", err)
	}

	if !verifyPassword(acct.PasswordHash, password) {
		return types.User{}, ErrInvalidCredentials
	}

	if !acct.Verified {
		s.log.Infow("rejected login for unverified account", "user_id", acct.Id)
		return types.User{}, ErrUnverified
	}

	return toUser(acct), nil
}

func (s *Service) User(_ context.Context, userId int) (types.User, error) {
	acct, err := s.db.GetAccountById(userId)
	if err != nil {
		return types.User{}, fmt.Errorf("get account: %w", err)
	}
	return toUser(acct), nil
}

// VerifyEmail marks the account behind token as verified.
func (s *Service) VerifyEmail(_ context.Context, token string) (types.User, error) {
	accountId, ok := s.tokens.Redeem(purposeVerify, token)
	if !ok {
		return types.User{}, ErrInvalidToken
	}

	if err := s.db.SetVerified(accountId); err != nil {
		return types.User{}, fmt.Errorf("set verified: %w", err)
	}

	acct, err := s.db.GetAccountById(accountId)
	if err != nil {
		return types.User{}, fmt.Errorf("get account: %w", err)
	}

	s.log.Infow("email verified", "user_id", accountId)
	return toUser(acct), nil
}

// ResendVerification sends a new verification link. Unknown addresses are
// ignored.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	acct, err := s.db.GetAccountByEmail(strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("get account: %w", err)
	}
	if acct.Verified {
		return ErrAlreadyVerified
	}

	return s.sendVerification(ctx, acct)
}

// RequestPasswordReset emails a reset link. It does not report whether the
// address belongs to an account.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	acct, err := s.db.GetAccountByEmail(strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("get account: %w", err)
	}

	token := s.tokens.Issue(purposeReset, acct.Id, resetTokenTTL)
	if err := s.mailer.SendPasswordReset(ctx, acct.EmailAddress, s.link(resetPath, token)); err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}

	return nil
}

func (s *Service) ResetPassword(_ context.Context, token, password string) error {
	if password == "" {
		return ErrPasswordRequired
	}

	accountId, ok := s.tokens.Redeem(purposeReset, token)
	if !ok {
		return ErrInvalidToken
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.db.UpdatePassword(accountId, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.log.Infow("password reset", "user_id", accountId)
	return nil
}

func (s *Service) sendVerification(ctx context.Context, acct database.Account) error {
	token := s.tokens.Issue(purposeVerify, acct.Id, verifyTokenTTL)
	if err := s.mailer.SendVerification(ctx, acct.EmailAddress, s.link(verifyPath, token)); err != nil {
		s.log.Warnw("verification email not sent", "user_id", acct.Id, "error", err)
		return fmt.Errorf("%w: %w", ErrVerificationNotSent, err)
	}
	return nil
}

func (s *Service) link(path, token string) string {
	return s.publicURL + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), s.hashCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func toUser(acct database.Account) types.User {
	return types.User{
		Id:           acct.Id,
		Username:     acct.Username,
		EmailAddress: acct.EmailAddress,
		Verified:     acct.Verified,
		CreatedAt:    acct.CreatedAt,
		UpdatedAt:    acct.UpdatedAt,
	}
}
