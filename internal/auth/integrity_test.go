package auth

import (
	"context"
	"testing"
)

func TestRevalidateAcceptsUnchangedAccount(t *testing.T) {
	accounts := newMemoryAccounts(Account{ID: "acc-1", Email: "ana@condo.test", Role: RoleAdmin, CanCreateAdmins: true})
	checker := NewSessionIntegrityChecker(accounts)

	fresh, err := checker.Revalidate(context.Background(), SessionClaims{AccountID: "acc-1", Role: RoleAdmin, CanCreateAdmins: true})
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if !fresh {
		t.Fatalf("expected fresh session for unchanged account")
	}
}

func TestRevalidateRejectsDeletedAccount(t *testing.T) {
	accounts := newMemoryAccounts(Account{ID: "acc-1", Role: RoleAdmin})
	checker := NewSessionIntegrityChecker(accounts)
	accounts.delete("acc-1")

	fresh, err := checker.Revalidate(context.Background(), SessionClaims{AccountID: "acc-1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if fresh {
		t.Fatalf("deleted account passed revalidation")
	}
}

func TestRevalidateRejectsRoleChange(t *testing.T) {
	accounts := newMemoryAccounts(Account{ID: "acc-1", Role: RoleResident})
	checker := NewSessionIntegrityChecker(accounts)

	fresh, err := checker.Revalidate(context.Background(), SessionClaims{AccountID: "acc-1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if fresh {
		t.Fatalf("role change passed revalidation")
	}
}

func TestRevalidateRejectsAdminPrivilegeChange(t *testing.T) {
	accounts := newMemoryAccounts(Account{ID: "acc-1", Role: RoleAdmin, CanCreateAdmins: false})
	checker := NewSessionIntegrityChecker(accounts)

	fresh, err := checker.Revalidate(context.Background(), SessionClaims{AccountID: "acc-1", Role: RoleAdmin, CanCreateAdmins: true})
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if fresh {
		t.Fatalf("revoked admin privilege passed revalidation")
	}
}

func TestRevalidateIgnoresPrivilegeFlagForNonAdmins(t *testing.T) {
	accounts := newMemoryAccounts(Account{ID: "acc-1", Role: RoleResident, CanCreateAdmins: true})
	checker := NewSessionIntegrityChecker(accounts)

	fresh, err := checker.Revalidate(context.Background(), SessionClaims{AccountID: "acc-1", Role: RoleResident, CanCreateAdmins: false})
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if !fresh {
		t.Fatalf("non-admin privilege flag should not affect revalidation")
	}
}
