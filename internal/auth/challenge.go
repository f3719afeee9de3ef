package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	challengeCodeDigits  = 6
	maxChallengeAttempts = 5
	defaultChallengeTTL  = 10 * time.Minute
)

type TwoFactorChallenger struct {
	store  ChallengeStore
	sender CodeSender
	ttl    time.Duration
}

func NewTwoFactorChallenger(store ChallengeStore, sender CodeSender, ttl time.Duration) *TwoFactorChallenger {
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	return &TwoFactorChallenger{store: store, sender: sender, ttl: ttl}
}

// Issue generates a fresh code, supersedes any prior unconsumed challenge for
// the account and hands the code to the delivery collaborator. Only the hash
// of the code is stored.
func (t *TwoFactorChallenger) Issue(ctx context.Context, account Account) error {
	code, err := generateChallengeCode()
	if err != nil {
		return fmt.Errorf("generate challenge code: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate challenge id: %w", err)
	}

	challenge := TwoFactorChallenge{
		ID:        id.String(),
		AccountID: account.ID,
		CodeHash:  hashChallengeCode(code),
		ExpiresAt: time.Now().UTC().Add(t.ttl),
	}
	if err := t.store.Create(ctx, challenge); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}

	if err := t.sender.SendCode(ctx, account.Email, code); err != nil {
		return fmt.Errorf("deliver challenge code: %w", err)
	}

	return nil
}

// Verify redeems the account's pending challenge. The store serializes
// concurrent attempts, so a code validates at most once.
func (t *TwoFactorChallenger) Verify(ctx context.Context, accountID, code string) error {
	code = strings.TrimSpace(code)
	if len(code) != challengeCodeDigits {
		return ErrChallengeMismatch
	}

	return t.store.Consume(ctx, accountID, hashChallengeCode(code), time.Now().UTC())
}

func (t *TwoFactorChallenger) TTL() time.Duration {
	return t.ttl
}

func generateChallengeCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashChallengeCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
