package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func mustCodec(t *testing.T) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(testSecret)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return codec
}

func hashPassword(t *testing.T, password string) *string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	value := string(hash)
	return &value
}

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func newMemoryAccounts(accounts ...Account) *memoryAccounts {
	store := &memoryAccounts{accounts: make(map[string]Account)}
	for _, account := range accounts {
		store.accounts[account.ID] = account
	}
	return store
}

func (s *memoryAccounts) FindByEmail(_ context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (s *memoryAccounts) FindByID(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *memoryAccounts) Snapshot(_ context.Context, id string) (AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return AccountSnapshot{}, ErrAccountNotFound
	}
	return AccountSnapshot{Role: account.Role, CanCreateAdmins: account.CanCreateAdmins}, nil
}

func (s *memoryAccounts) SetPassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = &passwordHash
	s.accounts[id] = account
	return nil
}

func (s *memoryAccounts) put(account Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

func (s *memoryAccounts) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
}

// memoryChallenges mirrors the Postgres claim semantics: one pending
// challenge per account, consumed at most once, voided after too many wrong
// codes.
type memoryChallenges struct {
	mu      sync.Mutex
	pending map[string]*TwoFactorChallenge
}

func newMemoryChallenges() *memoryChallenges {
	return &memoryChallenges{pending: make(map[string]*TwoFactorChallenge)}
}

func (s *memoryChallenges) Create(_ context.Context, challenge TwoFactorChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := challenge
	s.pending[challenge.AccountID] = &copied
	return nil
}

func (s *memoryChallenges) Consume(_ context.Context, accountID, codeHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.pending[accountID]
	if !ok || challenge.ConsumedAt != nil {
		return ErrChallengeMismatch
	}

	if now.After(challenge.ExpiresAt) {
		consumed := now
		challenge.ConsumedAt = &consumed
		return ErrChallengeExpired
	}

	if challenge.CodeHash != codeHash {
		challenge.Attempts++
		if challenge.Attempts >= maxChallengeAttempts {
			consumed := now
			challenge.ConsumedAt = &consumed
		}
		return ErrChallengeMismatch
	}

	consumed := now
	challenge.ConsumedAt = &consumed
	return nil
}

func (s *memoryChallenges) expirePending(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if challenge, ok := s.pending[accountID]; ok {
		challenge.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	}
}

type memoryAttempts struct {
	mu       sync.Mutex
	attempts map[string]LoginAttempt
}

func newMemoryAttempts() *memoryAttempts {
	return &memoryAttempts{attempts: make(map[string]LoginAttempt)}
}

func (s *memoryAttempts) GetLoginAttempt(_ context.Context, email string) (LoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[email], nil
}

func (s *memoryAttempts) RegisterFailedAttempt(_ context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := s.attempts[email]
	attempt.Email = email
	attempt.FailedAttempts++
	if attempt.FailedAttempts >= maxAttempts {
		lockedUntil := now.Add(lockDuration)
		attempt.LockedUntil = &lockedUntil
		attempt.FailedAttempts = 0
	}
	s.attempts[email] = attempt

	return attempt.LockedUntil, nil
}

func (s *memoryAttempts) ResetLoginAttempt(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, email)
	return nil
}

// captureSender records codes instead of delivering them.
type captureSender struct {
	mu    sync.Mutex
	email string
	code  string
	sent  int
}

func (s *captureSender) SendCode(_ context.Context, email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
	s.code = code
	s.sent++
	return nil
}

func (s *captureSender) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func (s *captureSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
