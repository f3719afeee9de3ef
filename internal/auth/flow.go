package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type Stage string

const (
	StageCredentials Stage = "credentials"
	StageFirstLogin  Stage = "first_login"
	StageTwoFactor   Stage = "two_factor"
	StageIssued      Stage = "issued"
)

const (
	defaultSessionTTL  = 12 * time.Hour
	defaultStageTTL    = 10 * time.Minute
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

// LoginFlow is the multi-step login state machine:
//
//	credentials -> {first_login, two_factor, issued}
//	first_login -> {two_factor, issued}
//	two_factor  -> issued
//
// Intermediate stages are carried in a signed short-lived stage token, so the
// server never trusts client-supplied stage state.
type LoginFlow struct {
	verifier   *CredentialVerifier
	challenger *TwoFactorChallenger
	accounts   AccountStore
	attempts   AttemptStore
	codec      *TokenCodec

	sessionTTL   time.Duration
	stageTTL     time.Duration
	maxAttempts  int
	lockDuration time.Duration
}

func NewLoginFlow(verifier *CredentialVerifier, challenger *TwoFactorChallenger, accounts AccountStore, attempts AttemptStore, codec *TokenCodec) *LoginFlow {
	return &LoginFlow{
		verifier:     verifier,
		challenger:   challenger,
		accounts:     accounts,
		attempts:     attempts,
		codec:        codec,
		sessionTTL:   defaultSessionTTL,
		stageTTL:     defaultStageTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
	}
}

func (f *LoginFlow) WithSecurityConfig(maxAttempts int, lockDuration, sessionTTL, stageTTL time.Duration) {
	if maxAttempts > 0 {
		f.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		f.lockDuration = lockDuration
	}
	if sessionTTL > 0 {
		f.sessionTTL = sessionTTL
	}
	if stageTTL > 0 {
		f.stageTTL = stageTTL
	}
}

type FlowResult struct {
	Stage          Stage
	SessionToken   string
	SessionExpires time.Time
	StageToken     string
}

// SubmitCredentials runs the credentials stage. A missing email rejects
// immediately; lockout is checked before any credential work.
func (f *LoginFlow) SubmitCredentials(ctx context.Context, email, password string) (FlowResult, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return FlowResult{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	attempt, err := f.attempts.GetLoginAttempt(ctx, email)
	if err != nil {
		return FlowResult{}, fmt.Errorf("get login attempt: %w", err)
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return FlowResult{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	result, err := f.verifier.Check(ctx, email, password)
	if err != nil {
		return FlowResult{}, err
	}

	switch result.Outcome {
	case CheckRejected:
		lockedUntil, regErr := f.attempts.RegisterFailedAttempt(ctx, email, f.maxAttempts, f.lockDuration, now)
		if regErr != nil {
			return FlowResult{}, regErr
		}
		if lockedUntil != nil {
			return FlowResult{}, ErrLoginLocked{Until: *lockedUntil}
		}
		return FlowResult{}, ErrInvalidCredentials

	case CheckFirstLogin:
		return f.stageResult(result.Account, StageFirstLogin)

	case CheckTwoFactor:
		if err := f.attempts.ResetLoginAttempt(ctx, email); err != nil {
			return FlowResult{}, err
		}
		if err := f.challenger.Issue(ctx, result.Account); err != nil {
			return FlowResult{}, err
		}
		return f.stageResult(result.Account, StageTwoFactor)

	case CheckAuthenticated:
		if err := f.attempts.ResetLoginAttempt(ctx, email); err != nil {
			return FlowResult{}, err
		}
		return f.issueSession(result.Account)
	}

	return FlowResult{}, ErrInvalidCredentials
}

// SetInitialPassword completes the first-login stage. The stage token proves
// the credentials stage ran for this account; a replayed token is rejected
// once a password exists.
func (f *LoginFlow) SetInitialPassword(ctx context.Context, stageToken, newPassword string) (FlowResult, error) {
	stage, err := f.codec.VerifyLoginStage(stageToken)
	if err != nil || stage.Stage != StageFirstLogin {
		return FlowResult{}, ErrTokenInvalid
	}

	account, err := f.accounts.FindByID(ctx, stage.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return FlowResult{}, ErrTokenInvalid
		}
		return FlowResult{}, fmt.Errorf("find account: %w", err)
	}
	if account.PasswordHash != nil {
		return FlowResult{}, ErrTokenInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return FlowResult{}, fmt.Errorf("hash password: %w", err)
	}
	if err := f.accounts.SetPassword(ctx, account.ID, string(hash)); err != nil {
		return FlowResult{}, fmt.Errorf("set password: %w", err)
	}

	if account.RequiresTwoFactor {
		if err := f.challenger.Issue(ctx, account); err != nil {
			return FlowResult{}, err
		}
		return f.stageResult(account, StageTwoFactor)
	}

	return f.issueSession(account)
}

// SubmitCode completes the two-factor stage. Challenge errors propagate so
// the caller can distinguish "expired, re-issue" from "wrong code".
func (f *LoginFlow) SubmitCode(ctx context.Context, stageToken, code string) (FlowResult, error) {
	stage, err := f.codec.VerifyLoginStage(stageToken)
	if err != nil || stage.Stage != StageTwoFactor {
		return FlowResult{}, ErrTokenInvalid
	}

	if err := f.challenger.Verify(ctx, stage.AccountID, code); err != nil {
		return FlowResult{}, err
	}

	// Re-read the account so the issued claims reflect the live record, not
	// the record as of the credentials stage.
	account, err := f.accounts.FindByID(ctx, stage.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return FlowResult{}, ErrTokenInvalid
		}
		return FlowResult{}, fmt.Errorf("find account: %w", err)
	}

	return f.issueSession(account)
}

func (f *LoginFlow) stageResult(account Account, stage Stage) (FlowResult, error) {
	token, err := f.codec.IssueLoginStage(account.ID, account.Email, stage, f.stageTTL)
	if err != nil {
		return FlowResult{}, err
	}
	return FlowResult{Stage: stage, StageToken: token}, nil
}

func (f *LoginFlow) issueSession(account Account) (FlowResult, error) {
	token, expiresAt, err := f.codec.IssueSession(ClaimsForAccount(account), f.sessionTTL)
	if err != nil {
		return FlowResult{}, err
	}
	return FlowResult{Stage: StageIssued, SessionToken: token, SessionExpires: expiresAt}, nil
}
