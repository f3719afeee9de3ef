package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"condogate/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

// Store is the account storage the management API depends on.
type Store interface {
	List(ctx context.Context) ([]Summary, error)
	Create(ctx context.Context, input CreateInput) (Summary, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	repo Store
}

func NewHandler(repo Store) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.repo.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input CreateInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	input.Email = auth.NormalizeEmail(input.Email)
	input.Name = strings.TrimSpace(input.Name)
	input.Role = strings.TrimSpace(input.Role)

	if input.Email == "" || len(input.Email) > 254 {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if parsed, err := mail.ParseAddress(input.Email); err != nil || parsed.Address != input.Email {
		writeError(w, http.StatusBadRequest, "email is invalid")
		return
	}
	if input.Name == "" || !utf8.ValidString(input.Name) || len(input.Name) > 150 {
		writeError(w, http.StatusBadRequest, "name is invalid")
		return
	}
	role, ok := auth.ParseRole(input.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "role must be admin, resident or gatekeeper")
		return
	}
	if input.CondominiumID != nil {
		if _, err := uuid.Parse(*input.CondominiumID); err != nil {
			writeError(w, http.StatusBadRequest, "condominium_id is invalid")
			return
		}
	}

	// Only admins holding the create-admins privilege may mint new admins.
	if role == auth.RoleAdmin && !session.CanCreateAdmins {
		writeError(w, http.StatusForbidden, "not allowed to create admin accounts")
		return
	}
	if role != auth.RoleAdmin {
		input.CanCreateAdmins = false
	}

	summary, err := h.repo.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	writeJSON(w, http.StatusCreated, summary)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if id == session.AccountID {
		writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
