package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"condogate/internal/account"
	"condogate/internal/auth"
	"condogate/internal/directory"
	"condogate/internal/maintenance"
	"condogate/internal/observability"
)

type stubAccounts struct {
	accounts map[string]auth.Account
}

func (s *stubAccounts) FindByEmail(_ context.Context, email string) (auth.Account, error) {
	for _, a := range s.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return auth.Account{}, auth.ErrAccountNotFound
}

func (s *stubAccounts) FindByID(_ context.Context, id string) (auth.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrAccountNotFound
	}
	return a, nil
}

func (s *stubAccounts) Snapshot(_ context.Context, id string) (auth.AccountSnapshot, error) {
	a, ok := s.accounts[id]
	if !ok {
		return auth.AccountSnapshot{}, auth.ErrAccountNotFound
	}
	return auth.AccountSnapshot{Role: a.Role, CanCreateAdmins: a.CanCreateAdmins}, nil
}

func (s *stubAccounts) SetPassword(_ context.Context, _, _ string) error {
	return nil
}

type stubChallenges struct{}

func (stubChallenges) Create(context.Context, auth.TwoFactorChallenge) error { return nil }
func (stubChallenges) Consume(context.Context, string, string, time.Time) error {
	return auth.ErrChallengeMismatch
}

type stubAttempts struct{}

func (stubAttempts) GetLoginAttempt(context.Context, string) (auth.LoginAttempt, error) {
	return auth.LoginAttempt{}, nil
}
func (stubAttempts) RegisterFailedAttempt(context.Context, string, int, time.Duration, time.Time) (*time.Time, error) {
	return nil, nil
}
func (stubAttempts) ResetLoginAttempt(context.Context, string) error { return nil }

type stubIPLimits struct{}

func (stubIPLimits) AllowLoginIP(context.Context, string, int, time.Duration, time.Time) (bool, time.Duration, error) {
	return true, 0, nil
}

type stubSender struct{}

func (stubSender) SendCode(context.Context, string, string) error { return nil }

type stubAccountStore struct{}

func (stubAccountStore) List(context.Context) ([]account.Summary, error) {
	return []account.Summary{}, nil
}
func (stubAccountStore) Create(_ context.Context, input account.CreateInput) (account.Summary, error) {
	return account.Summary{ID: "acc-new", Email: input.Email}, nil
}
func (stubAccountStore) Delete(context.Context, string) error { return nil }

type stubDirectoryStore struct{}

func (stubDirectoryStore) ListUnits(context.Context) ([]directory.Unit, error) {
	return []directory.Unit{}, nil
}
func (stubDirectoryStore) CreateUnit(_ context.Context, input directory.UnitInput) (directory.Unit, error) {
	return directory.Unit{ID: "unit-new", CondominiumID: input.CondominiumID, Label: input.Label}, nil
}
func (stubDirectoryStore) UpdateUnit(context.Context, string, directory.UnitInput) (directory.Unit, error) {
	return directory.Unit{}, directory.ErrUnitNotFound
}
func (stubDirectoryStore) DeleteUnit(context.Context, string) error {
	return directory.ErrUnitNotFound
}
func (stubDirectoryStore) UnitForAccount(context.Context, string) (directory.Unit, error) {
	return directory.Unit{}, directory.ErrNoUnitAssigned
}
func (stubDirectoryStore) CondominiumForAccount(context.Context, string) (string, error) {
	return "", directory.ErrNoCondominium
}
func (stubDirectoryStore) ResidentsForCondominium(context.Context, string) ([]directory.Resident, error) {
	return []directory.Resident{}, nil
}

// newTestHandler assembles the real route table on in-memory collaborators.
func newTestHandler(t *testing.T, accounts *stubAccounts) (http.Handler, *auth.TokenCodec) {
	t.Helper()

	codec, err := auth.NewTokenCodec("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}

	logger := observability.NewLogger()
	challenger := auth.NewTwoFactorChallenger(stubChallenges{}, stubSender{}, time.Minute)
	flow := auth.NewLoginFlow(auth.NewCredentialVerifier(accounts), challenger, accounts, stubAttempts{}, codec)

	areas := []auth.RoleArea{
		{Role: auth.RoleAdmin, PathPrefix: "/admin", LoginPath: "/admin/login", HomePath: "/admin"},
		{Role: auth.RoleResident, PathPrefix: "/resident", LoginPath: "/resident/login", HomePath: "/resident"},
		{Role: auth.RoleGatekeeper, PathPrefix: "/gate", LoginPath: "/gate/login", HomePath: "/gate"},
	}
	guard := auth.NewRouteGuard(codec, auth.NewSessionIntegrityChecker(accounts), areas)
	limiter := auth.NewLoginRateLimiter(stubIPLimits{}, 10, time.Minute)
	cleanup := maintenance.NewCleanupHandler(auth.NewRepository(nil), logger, "", time.Hour, time.Hour, 10)

	handler := buildHandler(nil, logger, flow, guard, areas, limiter,
		account.NewHandler(stubAccountStore{}), directory.NewHandler(stubDirectoryStore{}), cleanup)

	return handler, codec
}

// Every admin route must revalidate the session against storage: a signed,
// unexpired token whose account is gone gets redirected, never served.
func TestAdminRoutesRevalidateSessions(t *testing.T) {
	handler, codec := newTestHandler(t, &stubAccounts{accounts: map[string]auth.Account{}})

	token, _, err := codec.IssueSession(auth.SessionClaims{AccountID: "acc-gone", Role: auth.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	routes := []struct{ method, path string }{
		{http.MethodGet, "/admin"},
		{http.MethodGet, "/admin/api/accounts"},
		{http.MethodPost, "/admin/api/accounts"},
		{http.MethodDelete, "/admin/api/accounts/acc-2"},
		{http.MethodGet, "/admin/api/units"},
		{http.MethodPost, "/admin/api/units"},
		{http.MethodPut, "/admin/api/units/unit-1"},
		{http.MethodDelete, "/admin/api/units/unit-1"},
	}

	for _, route := range routes {
		request := httptest.NewRequest(route.method, route.path, nil)
		request.AddCookie(&http.Cookie{Name: "cg_session", Value: token})

		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)

		if recorder.Code != http.StatusSeeOther {
			t.Fatalf("%s %s: status = %d, want %d", route.method, route.path, recorder.Code, http.StatusSeeOther)
		}
		if location := recorder.Header().Get("Location"); location != "/admin/login" {
			t.Fatalf("%s %s: location = %q, want /admin/login", route.method, route.path, location)
		}
	}
}

func TestAdminUnitListServesFreshAdmin(t *testing.T) {
	accounts := &stubAccounts{accounts: map[string]auth.Account{
		"acc-1": {ID: "acc-1", Email: "root@condo.test", Role: auth.RoleAdmin},
	}}
	handler, codec := newTestHandler(t, accounts)

	token, _, err := codec.IssueSession(auth.SessionClaims{AccountID: "acc-1", Role: auth.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/admin/api/units", nil)
	request.AddCookie(&http.Cookie{Name: "cg_session", Value: token})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", recorder.Code, recorder.Body.String())
	}
}
