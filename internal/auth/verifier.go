package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type CheckOutcome int

const (
	// CheckRejected merges "no such email" and "wrong password" so callers
	// cannot enumerate accounts.
	CheckRejected CheckOutcome = iota
	CheckFirstLogin
	CheckTwoFactor
	CheckAuthenticated
)

type CheckResult struct {
	Outcome CheckOutcome
	Account Account
}

type CredentialVerifier struct {
	accounts AccountStore
}

func NewCredentialVerifier(accounts AccountStore) *CredentialVerifier {
	return &CredentialVerifier{accounts: accounts}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (v *CredentialVerifier) Check(ctx context.Context, email, password string) (CheckResult, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return CheckResult{Outcome: CheckRejected}, nil
	}

	account, err := v.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return CheckResult{Outcome: CheckRejected}, nil
		}
		return CheckResult{}, fmt.Errorf("find account by email: %w", err)
	}

	// A NULL hash means the account has never set a password; the submitted
	// password is irrelevant until the first-login step writes one.
	if account.PasswordHash == nil {
		return CheckResult{Outcome: CheckFirstLogin, Account: account}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*account.PasswordHash), []byte(password)); err != nil {
		return CheckResult{Outcome: CheckRejected}, nil
	}

	if account.RequiresTwoFactor {
		return CheckResult{Outcome: CheckTwoFactor, Account: account}, nil
	}

	return CheckResult{Outcome: CheckAuthenticated, Account: account}, nil
}
