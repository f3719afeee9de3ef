package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"condogate/internal/auth"
)

var (
	ErrEmailTaken = errors.New("email already registered")
	ErrNotFound   = errors.New("account not found")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Summary is the management view of an account; the password hash never
// leaves the repository.
type Summary struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	Role              string    `json:"role"`
	RequiresTwoFactor bool      `json:"requires_two_factor"`
	CanCreateAdmins   bool      `json:"can_create_admins"`
	HasPassword       bool      `json:"has_password"`
	CondominiumID     *string   `json:"condominium_id"`
	CreatedAt         time.Time `json:"created_at"`
}

type CreateInput struct {
	Email             string  `json:"email"`
	Name              string  `json:"name"`
	Role              string  `json:"role"`
	RequiresTwoFactor bool    `json:"requires_two_factor"`
	CanCreateAdmins   bool    `json:"can_create_admins"`
	CondominiumID     *string `json:"condominium_id"`
}

func (r *Repository) List(ctx context.Context) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, name, role, requires_two_factor, can_create_admins,
		       password_hash IS NOT NULL, condominium_id, created_at
		FROM accounts
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var s Summary
		var condominiumID sql.NullString
		if err := rows.Scan(&s.ID, &s.Email, &s.Name, &s.Role, &s.RequiresTwoFactor,
			&s.CanCreateAdmins, &s.HasPassword, &condominiumID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		if condominiumID.Valid {
			value := condominiumID.String
			s.CondominiumID = &value
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}

	return summaries, nil
}

// Create inserts an account with no password hash; the NULL hash is what
// routes the account into the first-login flow.
func (r *Repository) Create(ctx context.Context, input CreateInput) (Summary, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Summary{}, fmt.Errorf("generate account id: %w", err)
	}

	now := time.Now().UTC()
	email := auth.NormalizeEmail(input.Email)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, name, role, password_hash, requires_two_factor, can_create_admins, condominium_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5, $6, $7, $8, $8)
		ON CONFLICT (email) DO NOTHING
	`, id.String(), email, input.Name, input.Role, input.RequiresTwoFactor, input.CanCreateAdmins, input.CondominiumID, now)
	if err != nil {
		return Summary{}, fmt.Errorf("insert account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Summary{}, fmt.Errorf("insert account rows affected: %w", err)
	}
	if affected == 0 {
		return Summary{}, ErrEmailTaken
	}

	return Summary{
		ID:                id.String(),
		Email:             email,
		Name:              input.Name,
		Role:              input.Role,
		RequiresTwoFactor: input.RequiresTwoFactor,
		CanCreateAdmins:   input.CanCreateAdmins,
		CondominiumID:     input.CondominiumID,
		CreatedAt:         now,
	}, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete account rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// BootstrapAdmin seeds the first admin account from deploy configuration so a
// fresh installation has a way in. It does nothing once any admin exists.
func (r *Repository) BootstrapAdmin(ctx context.Context, email, plainPassword string) error {
	email = auth.NormalizeEmail(email)
	if email == "" && plainPassword == "" {
		return nil
	}
	if email == "" || plainPassword == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM accounts WHERE role = 'admin')
	`).Scan(&exists); err != nil {
		return fmt.Errorf("check existing admins: %w", err)
	}
	if exists {
		return nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate admin id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, name, role, password_hash, requires_two_factor, can_create_admins, created_at, updated_at)
		VALUES ($1, $2, 'Administrator', 'admin', $3, FALSE, TRUE, $4, $4)
		ON CONFLICT (email) DO NOTHING
	`, id.String(), email, string(hash), now)
	if err != nil {
		return fmt.Errorf("insert bootstrap admin: %w", err)
	}

	return nil
}
