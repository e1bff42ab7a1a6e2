package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"idport.org/internal/ids"
)

const (
	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour

	// refreshTokenBytes is the entropy of the opaque refresh token secret.
	refreshTokenBytes = 64
)

// TokenService mints and validates signed access tokens and manages the
// lifecycle of persisted refresh tokens.
type TokenService struct {
	users  UserStore
	tokens RefreshTokenStore

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService constructs a TokenService signing with HS256 and the given
// shared secret.
func NewTokenService(users UserStore, tokens RefreshTokenStore, secret string, opts ...TokenOption) (*TokenService, error) {
	if users == nil || tokens == nil {
		return nil, errors.New("user and refresh token stores are required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret is required")
	}
	svc := &TokenService{
		users:      users,
		tokens:     tokens,
		secret:     []byte(secret),
		issuer:     "idport",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// TokenPair carries both credentials returned by a successful authentication.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// GenerateAccessToken signs a JWT carrying the user id, issued-at and expiry.
func (s *TokenService) GenerateAccessToken(user *User) (string, time.Time, error) {
	if user == nil || user.ID == "" {
		return "", time.Time{}, errors.New("user is required")
	}
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccessToken validates signature and expiry and resolves the subject
// to a stored user. Expired tokens fail with ErrExpiredToken, any other
// signature or format defect with ErrInvalidToken, and a subject that no
// longer resolves with ErrUserNotFound.
func (s *TokenService) VerifyAccessToken(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	user, err := s.users.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// GenerateRefreshToken creates and persists an opaque random refresh token.
func (s *TokenService) GenerateRefreshToken(ctx context.Context, user *User) (*RefreshToken, error) {
	if user == nil || user.ID == "" {
		return nil, errors.New("user is required")
	}
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now().UTC()
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    user.ID,
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RefreshAccessToken exchanges a valid refresh token for a fresh access
// token. Refresh tokens are reusable until expiry; they are not rotated on
// use. An expired record is consumed (deleted) as it is discovered.
func (s *TokenService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, time.Time, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return "", time.Time{}, ErrInvalidRefreshToken
	}
	rec, err := s.tokens.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, ErrInvalidRefreshToken
		}
		return "", time.Time{}, err
	}
	if s.now().After(rec.ExpiresAt) {
		_, _ = s.tokens.DeleteByToken(ctx, refreshToken)
		return "", time.Time{}, ErrExpiredRefreshToken
	}
	user, err := s.users.Find(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, ErrInvalidRefreshToken
		}
		return "", time.Time{}, err
	}
	return s.GenerateAccessToken(user)
}

// RevokeRefreshToken deletes the refresh token record. Absence is not an
// error; revocation is idempotent.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	_, err := s.tokens.DeleteByToken(ctx, refreshToken)
	return err
}

// RevokeAllRefreshTokens deletes every refresh token owned by the user.
func (s *TokenService) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.tokens.DeleteByUser(ctx, userID)
}

// IssuePair mints a fresh access token and refresh token for the user.
func (s *TokenService) IssuePair(ctx context.Context, user *User) (TokenPair, error) {
	access, accessExp, err := s.GenerateAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.GenerateRefreshToken(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Login authenticates email/password credentials and issues a token pair.
// Every failure mode surfaces as ErrInvalidCredentials.
func (s *TokenService) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, err
	}
	if !user.IsActive {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	pair, err := s.IssuePair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}
