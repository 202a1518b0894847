// Package service contains application services for authentication, events and media.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/qr-media-share/internal/clock"
	pkgcrypto "github.com/and161185/qr-media-share/internal/crypto"
	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/limiter"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/repository"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 6

// Principal identifies the caller behind a verified access token.
type Principal struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
}

// AuthService defines account and session operations.
type AuthService interface {
	// SignUp creates a new account.
	SignUp(ctx context.Context, email, password string) (model.User, error)
	// SignIn applies rate limiting, verifies the password and opens a session.
	SignIn(ctx context.Context, email, password, ip string) (model.Session, error)
	// Refresh rotates the refresh token and issues a new access token.
	Refresh(ctx context.Context, refreshToken string) (model.Session, error)
	// SignOut closes the session.
	SignOut(ctx context.Context, sessionID uuid.UUID) error
	// Authenticate verifies an access token against its live session.
	Authenticate(ctx context.Context, accessToken string) (Principal, error)
	// GetUser loads the public identity of a user.
	GetUser(ctx context.Context, userID uuid.UUID) (model.User, error)
}

// AuthConfig holds token lifetimes and the HS256 signing key.
type AuthConfig struct {
	SignKey    []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	lim      limiter.Limiter
	cfg      AuthConfig
	clock    clock.Clock
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, sessions repository.SessionRepository, lim limiter.Limiter, cfg AuthConfig, clk clock.Clock) *AuthServiceImpl {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &AuthServiceImpl{users: users, sessions: sessions, lim: lim, cfg: cfg, clock: clk}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: bad email", errs.ErrInvalidArgument)
	}
	return email, nil
}

// SignUp validates input and stores an Argon2id-hashed account.
func (s *AuthServiceImpl) SignUp(ctx context.Context, email, password string) (model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return model.User{}, err
	}
	if len(password) < MinPasswordLen {
		return model.User{}, fmt.Errorf("%w: password shorter than %d", errs.ErrInvalidArgument, MinPasswordLen)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.User{}, err
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return model.User{}, err
	}

	acc := &model.Account{
		User:     model.User{ID: uid, Email: email, CreatedAt: s.clock.Now()},
		PwdHash:  pkgcrypto.HashPassword([]byte(password), salt),
		SaltAuth: salt,
	}
	if err := s.users.Create(ctx, acc); err != nil {
		return model.User{}, err
	}
	return acc.User, nil
}

// SignIn authenticates with rate limiting by (email, ip) and opens a session.
func (s *AuthServiceImpl) SignIn(ctx context.Context, email, password, ip string) (model.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Session{}, err
	}
	if !allowed {
		return model.Session{}, errs.ErrRateLimited
	}

	acc, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Session{}, err
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), acc.SaltAuth, acc.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Session{}, errs.ErrRateLimited
		}
		// unknown email and wrong password look the same
		return model.Session{}, errs.ErrUnauthorized
	}

	// best-effort
	_ = s.lim.Success(ctx, email, ipHash)

	return s.openSession(ctx, acc.User)
}

func (s *AuthServiceImpl) openSession(ctx context.Context, u model.User) (model.Session, error) {
	sid, err := uuid.NewV4()
	if err != nil {
		return model.Session{}, err
	}
	refresh, err := pkgcrypto.NewOpaqueToken()
	if err != nil {
		return model.Session{}, err
	}
	rec := &model.SessionRecord{
		ID:          sid,
		UserID:      u.ID,
		RefreshHash: pkgcrypto.HashToken(refresh),
		ExpiresAt:   s.clock.Now().Add(s.cfg.RefreshTTL),
	}
	if err := s.sessions.Create(ctx, rec); err != nil {
		return model.Session{}, err
	}
	access, exp, err := s.issueAccessToken(u.ID, sid)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp, User: u}, nil
}

// Refresh exchanges a refresh token for a new token pair on the same session.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Session, error) {
	if refreshToken == "" {
		return model.Session{}, errs.ErrUnauthorized
	}
	rec, err := s.sessions.GetByRefreshHash(ctx, pkgcrypto.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Session{}, errs.ErrUnauthorized
		}
		return model.Session{}, err
	}
	now := s.clock.Now()
	if !now.Before(rec.ExpiresAt) {
		_ = s.sessions.Delete(ctx, rec.ID)
		return model.Session{}, errs.ErrUnauthorized
	}

	acc, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		return model.Session{}, err
	}
	next, err := pkgcrypto.NewOpaqueToken()
	if err != nil {
		return model.Session{}, err
	}
	if err := s.sessions.Rotate(ctx, rec.ID, rec.RefreshHash, pkgcrypto.HashToken(next), now.Add(s.cfg.RefreshTTL)); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Session{}, errs.ErrUnauthorized
		}
		return model.Session{}, err
	}
	access, exp, err := s.issueAccessToken(rec.UserID, rec.ID)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{AccessToken: access, RefreshToken: next, ExpiresAt: exp, User: acc.User}, nil
}

// SignOut deletes the session so its access tokens stop verifying.
func (s *AuthServiceImpl) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return errs.ErrUnauthorized
	}
	return s.sessions.Delete(ctx, sessionID)
}

// issueAccessToken creates a signed HS256 JWT for the user, bound to the session by jti.
func (s *AuthServiceImpl) issueAccessToken(userID, sessionID uuid.UUID) (string, time.Time, error) {
	now := s.clock.Now()
	exp := now.Add(s.cfg.AccessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ID:        sessionID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.cfg.SignKey)
	return signed, exp, err
}

// Authenticate verifies HS256, expiry (30s leeway) and that the session still exists.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.cfg.SignKey, nil
	},
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}

	uid, err := uuid.FromString(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	sid, err := uuid.FromString(claims.ID)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad session id", errs.ErrUnauthorized)
	}

	rec, err := s.sessions.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return Principal{}, fmt.Errorf("%w: session closed", errs.ErrUnauthorized)
		}
		return Principal{}, err
	}
	if rec.UserID != uid {
		return Principal{}, fmt.Errorf("%w: session mismatch", errs.ErrUnauthorized)
	}
	return Principal{UserID: uid, SessionID: sid}, nil
}

// GetUser returns the public identity of userID.
func (s *AuthServiceImpl) GetUser(ctx context.Context, userID uuid.UUID) (model.User, error) {
	acc, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	return acc.User, nil
}
