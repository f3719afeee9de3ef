package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"condogate/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

// Store is the directory storage the handlers depend on.
type Store interface {
	ListUnits(ctx context.Context) ([]Unit, error)
	CreateUnit(ctx context.Context, input UnitInput) (Unit, error)
	UpdateUnit(ctx context.Context, id string, input UnitInput) (Unit, error)
	DeleteUnit(ctx context.Context, id string) error
	UnitForAccount(ctx context.Context, accountID string) (Unit, error)
	CondominiumForAccount(ctx context.Context, accountID string) (string, error)
	ResidentsForCondominium(ctx context.Context, condominiumID string) ([]Resident, error)
}

type Handler struct {
	repo Store
}

func NewHandler(repo Store) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.repo.ListUnits(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list units")
		return
	}

	writeJSON(w, http.StatusOK, units)
}

func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	input, ok := parseUnitInput(w, r)
	if !ok {
		return
	}

	unit, err := h.repo.CreateUnit(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, ErrCondominiumMissing):
			writeError(w, http.StatusBadRequest, "condominium not found")
		case errors.Is(err, ErrUnitLabelTaken):
			writeError(w, http.StatusConflict, "unit label already used")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to create unit")
		}
		return
	}

	writeJSON(w, http.StatusCreated, unit)
}

func (h *Handler) UpdateUnit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid unit id")
		return
	}

	input, ok := parseUnitInput(w, r)
	if !ok {
		return
	}

	unit, err := h.repo.UpdateUnit(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, ErrUnitNotFound) {
			writeError(w, http.StatusNotFound, "unit not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update unit")
		return
	}

	writeJSON(w, http.StatusOK, unit)
}

func (h *Handler) DeleteUnit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid unit id")
		return
	}

	if err := h.repo.DeleteUnit(r.Context(), id); err != nil {
		if errors.Is(err, ErrUnitNotFound) {
			writeError(w, http.StatusNotFound, "unit not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete unit")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MyUnit returns the signed-in resident's assigned unit.
func (h *Handler) MyUnit(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	unit, err := h.repo.UnitForAccount(r.Context(), session.AccountID)
	if err != nil {
		if errors.Is(err, ErrNoUnitAssigned) {
			writeError(w, http.StatusNotFound, "no unit assigned")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load unit")
		return
	}

	writeJSON(w, http.StatusOK, unit)
}

// Residents returns the roster for the gatekeeper's condominium.
func (h *Handler) Residents(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	condominiumID, err := h.repo.CondominiumForAccount(r.Context(), session.AccountID)
	if err != nil {
		if errors.Is(err, ErrNoCondominium) {
			writeError(w, http.StatusNotFound, "no condominium assigned")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to resolve condominium")
		return
	}

	residents, err := h.repo.ResidentsForCondominium(r.Context(), condominiumID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list residents")
		return
	}

	writeJSON(w, http.StatusOK, residents)
}

func parseUnitInput(w http.ResponseWriter, r *http.Request) (UnitInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input UnitInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return UnitInput{}, false
	}

	input.CondominiumID = strings.TrimSpace(input.CondominiumID)
	input.Label = strings.TrimSpace(input.Label)

	if _, err := uuid.Parse(input.CondominiumID); err != nil {
		writeError(w, http.StatusBadRequest, "condominium_id is invalid")
		return UnitInput{}, false
	}
	if input.Label == "" || !utf8.ValidString(input.Label) || len(input.Label) > 50 {
		writeError(w, http.StatusBadRequest, "label is invalid")
		return UnitInput{}, false
	}
	if input.Floor < -10 || input.Floor > 200 {
		writeError(w, http.StatusBadRequest, "floor is out of range")
		return UnitInput{}, false
	}
	if input.ResidentAccountID != nil {
		if _, err := uuid.Parse(*input.ResidentAccountID); err != nil {
			writeError(w, http.StatusBadRequest, "resident_account_id is invalid")
			return UnitInput{}, false
		}
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
