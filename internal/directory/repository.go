package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnitNotFound       = errors.New("unit not found")
	ErrNoCondominium      = errors.New("account has no condominium")
	ErrUnitLabelTaken     = errors.New("unit label already used in condominium")
	ErrNoUnitAssigned     = errors.New("no unit assigned to account")
	ErrCondominiumMissing = errors.New("condominium not found")
)

type Unit struct {
	ID                string    `json:"id"`
	CondominiumID     string    `json:"condominium_id"`
	Label             string    `json:"label"`
	Floor             int       `json:"floor"`
	ResidentAccountID *string   `json:"resident_account_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type UnitInput struct {
	CondominiumID     string  `json:"condominium_id"`
	Label             string  `json:"label"`
	Floor             int     `json:"floor"`
	ResidentAccountID *string `json:"resident_account_id"`
}

type Resident struct {
	AccountID string  `json:"account_id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	UnitLabel *string `json:"unit_label"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const unitColumns = `id, condominium_id, label, floor, resident_account_id, created_at, updated_at`

func (r *Repository) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM units
		ORDER BY condominium_id, label
	`)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	units := make([]Unit, 0)
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit rows: %w", err)
	}

	return units, nil
}

func (r *Repository) CreateUnit(ctx context.Context, input UnitInput) (Unit, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Unit{}, fmt.Errorf("generate unit id: %w", err)
	}

	now := time.Now().UTC()
	var exists bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM condominiums WHERE id = $1)
	`, input.CondominiumID).Scan(&exists); err != nil {
		return Unit{}, fmt.Errorf("check condominium: %w", err)
	}
	if !exists {
		return Unit{}, ErrCondominiumMissing
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO units (id, condominium_id, label, floor, resident_account_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (condominium_id, label) DO NOTHING
	`, id.String(), input.CondominiumID, input.Label, input.Floor, input.ResidentAccountID, now)
	if err != nil {
		return Unit{}, fmt.Errorf("insert unit: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Unit{}, fmt.Errorf("insert unit rows affected: %w", err)
	}
	if affected == 0 {
		return Unit{}, ErrUnitLabelTaken
	}

	return Unit{
		ID:                id.String(),
		CondominiumID:     input.CondominiumID,
		Label:             input.Label,
		Floor:             input.Floor,
		ResidentAccountID: input.ResidentAccountID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (r *Repository) UpdateUnit(ctx context.Context, id string, input UnitInput) (Unit, error) {
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		UPDATE units
		SET label = $2, floor = $3, resident_account_id = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+unitColumns+`
	`, id, input.Label, input.Floor, input.ResidentAccountID, now)

	unit, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Unit{}, ErrUnitNotFound
		}
		return Unit{}, err
	}

	return unit, nil
}

func (r *Repository) DeleteUnit(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM units WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete unit: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete unit rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUnitNotFound
	}

	return nil
}

// UnitForAccount resolves a resident's unit through the explicit assignment
// column, never by picking an arbitrary record.
func (r *Repository) UnitForAccount(ctx context.Context, accountID string) (Unit, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+unitColumns+`
		FROM units
		WHERE resident_account_id = $1
	`, accountID)

	unit, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Unit{}, ErrNoUnitAssigned
		}
		return Unit{}, err
	}

	return unit, nil
}

// CondominiumForAccount reads the account's condominium foreign key.
func (r *Repository) CondominiumForAccount(ctx context.Context, accountID string) (string, error) {
	var condominiumID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT condominium_id
		FROM accounts
		WHERE id = $1
	`, accountID).Scan(&condominiumID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoCondominium
		}
		return "", fmt.Errorf("query account condominium: %w", err)
	}
	if !condominiumID.Valid {
		return "", ErrNoCondominium
	}

	return condominiumID.String, nil
}

// ResidentsForCondominium is the gate roster: every resident of the
// condominium with their unit label when one is assigned.
func (r *Repository) ResidentsForCondominium(ctx context.Context, condominiumID string) ([]Resident, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.email, u.label
		FROM accounts a
		LEFT JOIN units u ON u.resident_account_id = a.id
		WHERE a.role = 'resident' AND a.condominium_id = $1
		ORDER BY a.name
	`, condominiumID)
	if err != nil {
		return nil, fmt.Errorf("list residents: %w", err)
	}
	defer rows.Close()

	residents := make([]Resident, 0)
	for rows.Next() {
		var resident Resident
		var unitLabel sql.NullString
		if err := rows.Scan(&resident.AccountID, &resident.Name, &resident.Email, &unitLabel); err != nil {
			return nil, fmt.Errorf("scan resident row: %w", err)
		}
		if unitLabel.Valid {
			value := unitLabel.String
			resident.UnitLabel = &value
		}
		residents = append(residents, resident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resident rows: %w", err)
	}

	return residents, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (Unit, error) {
	var unit Unit
	var residentAccountID sql.NullString

	err := row.Scan(
		&unit.ID,
		&unit.CondominiumID,
		&unit.Label,
		&unit.Floor,
		&residentAccountID,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Unit{}, sql.ErrNoRows
		}
		return Unit{}, fmt.Errorf("scan unit row: %w", err)
	}

	if residentAccountID.Valid {
		value := residentAccountID.String
		unit.ResidentAccountID = &value
	}

	return unit, nil
}
