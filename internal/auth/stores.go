package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeMismatch = errors.New("challenge mismatch")
)

// AccountStore is the account storage collaborator. Accounts are read-only
// from this package's perspective except for the first-login password write.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	Snapshot(ctx context.Context, id string) (AccountSnapshot, error)
	SetPassword(ctx context.Context, id, passwordHash string) error
}

// ChallengeStore persists two-factor challenges. Consume must atomically
// claim the newest unconsumed challenge for the account so that a code can be
// redeemed by at most one concurrent request: it compares codeHash under the
// claim, marks the challenge consumed on match, counts failed attempts and
// voids the challenge once they exceed the limit. It returns
// ErrChallengeExpired past expiry and ErrChallengeMismatch for a wrong code,
// a missing challenge, or an already-consumed one.
type ChallengeStore interface {
	Create(ctx context.Context, challenge TwoFactorChallenge) error
	Consume(ctx context.Context, accountID, codeHash string, now time.Time) error
}

type AttemptStore interface {
	GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, email string) error
}

type IPLimitStore interface {
	AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)
}

// CodeSender delivers a challenge code out of band (email, SMS).
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}
