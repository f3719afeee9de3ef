package auth

import "time"

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleResident   Role = "resident"
	RoleGatekeeper Role = "gatekeeper"
)

func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleAdmin, RoleResident, RoleGatekeeper:
		return Role(value), true
	}
	return "", false
}

type Account struct {
	ID                string
	Email             string
	Name              string
	Role              Role
	PasswordHash      *string
	RequiresTwoFactor bool
	CanCreateAdmins   bool
	CondominiumID     *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SessionClaims is the snapshot embedded in a signed session token. The
// snapshot can go stale (account deleted, admin demoted), which is what
// SessionIntegrityChecker exists for.
type SessionClaims struct {
	AccountID       string
	Email           string
	Name            string
	Role            Role
	CanCreateAdmins bool
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

func ClaimsForAccount(account Account) SessionClaims {
	return SessionClaims{
		AccountID:       account.ID,
		Email:           account.Email,
		Name:            account.Name,
		Role:            account.Role,
		CanCreateAdmins: account.Role == RoleAdmin && account.CanCreateAdmins,
	}
}

type AccountSnapshot struct {
	Role            Role
	CanCreateAdmins bool
}

type TwoFactorChallenge struct {
	ID         string
	AccountID  string
	CodeHash   string
	ExpiresAt  time.Time
	Attempts   int
	ConsumedAt *time.Time
}

type LoginAttempt struct {
	Email          string
	FailedAttempts int
	LockedUntil    *time.Time
}
