package auth

import (
	"context"
	"errors"
	"fmt"
)

// SessionIntegrityChecker re-confirms that the account behind an
// already-valid token still exists and still holds its claimed privileges.
// It closes the window between "token issued" and "privileges revoked" that
// a pure signature check cannot detect.
type SessionIntegrityChecker struct {
	accounts AccountStore
}

func NewSessionIntegrityChecker(accounts AccountStore) *SessionIntegrityChecker {
	return &SessionIntegrityChecker{accounts: accounts}
}

// Revalidate returns false when the account is gone or its role or admin
// privilege no longer matches the token's claims. The error is non-nil only
// for storage failures.
func (c *SessionIntegrityChecker) Revalidate(ctx context.Context, claims SessionClaims) (bool, error) {
	snapshot, err := c.accounts.Snapshot(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("snapshot account: %w", err)
	}

	if snapshot.Role != claims.Role {
		return false, nil
	}
	if claims.Role == RoleAdmin && snapshot.CanCreateAdmins != claims.CanCreateAdmins {
		return false, nil
	}

	return true, nil
}
