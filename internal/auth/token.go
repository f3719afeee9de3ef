package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const MinSecretLength = 32

// ErrTokenInvalid covers malformed, expired and forged tokens uniformly so
// callers cannot leak why a token failed.
var ErrTokenInvalid = errors.New("invalid token")

var ErrWeakSecret = fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)

const (
	tokenTypeSession    = "session"
	tokenTypeLoginStage = "login_stage"
)

type TokenCodec struct {
	secret []byte
}

func NewTokenCodec(secret string) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &TokenCodec{secret: []byte(secret)}, nil
}

type sessionTokenClaims struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	Role            string `json:"role"`
	CanCreateAdmins bool   `json:"cca,omitempty"`
	TokenType       string `json:"typ"`
	jwt.RegisteredClaims
}

type loginStageClaims struct {
	Email     string `json:"email"`
	Stage     string `json:"stage"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

func (c *TokenCodec) IssueSession(claims SessionClaims, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionTokenClaims{
		Email:           claims.Email,
		Name:            claims.Name,
		Role:            string(claims.Role),
		CanCreateAdmins: claims.CanCreateAdmins,
		TokenType:       tokenTypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	encoded, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}

	return encoded, expiresAt, nil
}

func (c *TokenCodec) VerifySession(token string) (SessionClaims, error) {
	var parsed sessionTokenClaims
	if err := c.parse(token, &parsed); err != nil {
		return SessionClaims{}, ErrTokenInvalid
	}
	if parsed.TokenType != tokenTypeSession || parsed.Subject == "" {
		return SessionClaims{}, ErrTokenInvalid
	}
	role, ok := ParseRole(parsed.Role)
	if !ok {
		return SessionClaims{}, ErrTokenInvalid
	}
	if parsed.IssuedAt == nil || parsed.ExpiresAt == nil {
		return SessionClaims{}, ErrTokenInvalid
	}

	return SessionClaims{
		AccountID:       parsed.Subject,
		Email:           parsed.Email,
		Name:            parsed.Name,
		Role:            role,
		CanCreateAdmins: parsed.CanCreateAdmins,
		IssuedAt:        parsed.IssuedAt.Time.UTC(),
		ExpiresAt:       parsed.ExpiresAt.Time.UTC(),
	}, nil
}

// LoginStage is the signed intermediate state of a multi-step login. It is
// the single source of truth for which stage an email is at; client-invented
// stage state is never trusted.
type LoginStage struct {
	AccountID string
	Email     string
	Stage     Stage
}

func (c *TokenCodec) IssueLoginStage(accountID, email string, stage Stage, ttl time.Duration) (string, error) {
	now := time.Now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, loginStageClaims{
		Email:     email,
		Stage:     string(stage),
		TokenType: tokenTypeLoginStage,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	encoded, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign login stage token: %w", err)
	}

	return encoded, nil
}

func (c *TokenCodec) VerifyLoginStage(token string) (LoginStage, error) {
	var parsed loginStageClaims
	if err := c.parse(token, &parsed); err != nil {
		return LoginStage{}, ErrTokenInvalid
	}
	if parsed.TokenType != tokenTypeLoginStage || parsed.Subject == "" {
		return LoginStage{}, ErrTokenInvalid
	}

	stage := Stage(parsed.Stage)
	if stage != StageFirstLogin && stage != StageTwoFactor {
		return LoginStage{}, ErrTokenInvalid
	}

	return LoginStage{
		AccountID: parsed.Subject,
		Email:     parsed.Email,
		Stage:     stage,
	}, nil
}

func (c *TokenCodec) parse(token string, into jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, into, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return ErrTokenInvalid
	}

	return nil
}
