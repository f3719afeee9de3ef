package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewTokenCodecRejectsShortSecret(t *testing.T) {
	if _, err := NewTokenCodec("too-short"); !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	codec := mustCodec(t)

	issued := SessionClaims{
		AccountID:       "acc-1",
		Email:           "ana@condo.test",
		Name:            "Ana",
		Role:            RoleAdmin,
		CanCreateAdmins: true,
	}

	token, expiresAt, err := codec.IssueSession(issued, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected expiry in the future, got %v", expiresAt)
	}

	claims, err := codec.VerifySession(token)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}

	if claims.AccountID != issued.AccountID {
		t.Fatalf("account id = %q, want %q", claims.AccountID, issued.AccountID)
	}
	if claims.Email != issued.Email || claims.Name != issued.Name {
		t.Fatalf("identity claims = %q/%q, want %q/%q", claims.Email, claims.Name, issued.Email, issued.Name)
	}
	if claims.Role != RoleAdmin || !claims.CanCreateAdmins {
		t.Fatalf("privilege claims = %v/%v, want admin/true", claims.Role, claims.CanCreateAdmins)
	}
	if claims.ExpiresAt.IsZero() || claims.IssuedAt.IsZero() {
		t.Fatalf("expected populated timestamps, got iat=%v exp=%v", claims.IssuedAt, claims.ExpiresAt)
	}
}

func TestVerifySessionRejectsExpiredToken(t *testing.T) {
	codec := mustCodec(t)

	token, _, err := codec.IssueSession(SessionClaims{AccountID: "acc-1", Role: RoleResident}, -time.Minute)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if _, err := codec.VerifySession(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}
}

func TestVerifySessionRejectsForeignSecret(t *testing.T) {
	codec := mustCodec(t)
	other, err := NewTokenCodec("ffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}

	token, _, err := other.IssueSession(SessionClaims{AccountID: "acc-1", Role: RoleResident}, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if _, err := codec.VerifySession(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}

func TestVerifySessionRejectsTamperedTokens(t *testing.T) {
	codec := mustCodec(t)

	token, _, err := codec.IssueSession(SessionClaims{AccountID: "acc-1", Role: RoleResident}, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	elevated, _, err := codec.IssueSession(SessionClaims{AccountID: "acc-2", Role: RoleAdmin, CanCreateAdmins: true}, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	parts := strings.Split(token, ".")
	elevatedParts := strings.Split(elevated, ".")
	if len(parts) != 3 || len(elevatedParts) != 3 {
		t.Fatalf("expected three token segments, got %d and %d", len(parts), len(elevatedParts))
	}

	cases := map[string]string{
		"empty":              "",
		"garbage":            "not-a-token",
		"missing signature":  parts[0] + "." + parts[1],
		"spliced payload":    parts[0] + "." + elevatedParts[1] + "." + parts[2],
		"spliced signature":  parts[0] + "." + parts[1] + "." + elevatedParts[2],
		"corrupted header":   corruptSegment(parts, 0),
		"corrupted payload":  corruptSegment(parts, 1),
		"corrupted sig byte": corruptSegment(parts, 2),
	}

	for name, candidate := range cases {
		if _, err := codec.VerifySession(candidate); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}
}

func corruptSegment(parts []string, index int) string {
	copied := make([]string, len(parts))
	copy(copied, parts)

	segment := []byte(copied[index])
	if segment[0] == 'A' {
		segment[0] = 'B'
	} else {
		segment[0] = 'A'
	}
	copied[index] = string(segment)

	return strings.Join(copied, ".")
}

func TestLoginStageTokenRoundTrip(t *testing.T) {
	codec := mustCodec(t)

	token, err := codec.IssueLoginStage("acc-1", "ana@condo.test", StageTwoFactor, 10*time.Minute)
	if err != nil {
		t.Fatalf("IssueLoginStage: %v", err)
	}

	stage, err := codec.VerifyLoginStage(token)
	if err != nil {
		t.Fatalf("VerifyLoginStage: %v", err)
	}
	if stage.AccountID != "acc-1" || stage.Email != "ana@condo.test" || stage.Stage != StageTwoFactor {
		t.Fatalf("stage = %+v, want acc-1/ana@condo.test/two_factor", stage)
	}
}

func TestLoginStageTokenRejectsExpiry(t *testing.T) {
	codec := mustCodec(t)

	token, err := codec.IssueLoginStage("acc-1", "ana@condo.test", StageFirstLogin, -time.Minute)
	if err != nil {
		t.Fatalf("IssueLoginStage: %v", err)
	}

	if _, err := codec.VerifyLoginStage(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired stage token, got %v", err)
	}
}

func TestLoginStageTokenRejectsUnknownStage(t *testing.T) {
	codec := mustCodec(t)

	token, err := codec.IssueLoginStage("acc-1", "ana@condo.test", StageIssued, 10*time.Minute)
	if err != nil {
		t.Fatalf("IssueLoginStage: %v", err)
	}

	if _, err := codec.VerifyLoginStage(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for non-intermediate stage, got %v", err)
	}
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	codec := mustCodec(t)

	stageToken, err := codec.IssueLoginStage("acc-1", "ana@condo.test", StageTwoFactor, 10*time.Minute)
	if err != nil {
		t.Fatalf("IssueLoginStage: %v", err)
	}
	sessionToken, _, err := codec.IssueSession(SessionClaims{AccountID: "acc-1", Role: RoleResident}, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if _, err := codec.VerifySession(stageToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("stage token accepted as session: %v", err)
	}
	if _, err := codec.VerifyLoginStage(sessionToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("session token accepted as login stage: %v", err)
	}
}
