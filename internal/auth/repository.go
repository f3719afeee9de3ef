package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository implements the storage collaborators over Postgres. Every
// statement is parameterized; the challenge claim is serialized with a row
// lock so a code redeems at most once.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type CleanupResult struct {
	DeletedChallenges    int64 `json:"deleted_challenges"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
	DeletedIPLimits      int64 `json:"deleted_ip_limits"`
}

const accountColumns = `id, email, name, role, password_hash, requires_two_factor, can_create_admins, condominium_id, created_at, updated_at`

func (r *Repository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
	`, NormalizeEmail(email)))
}

func (r *Repository) FindByID(ctx context.Context, id string) (Account, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id))
}

func (r *Repository) scanAccount(row *sql.Row) (Account, error) {
	var account Account
	var role string
	var passwordHash sql.NullString
	var condominiumID sql.NullString

	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Name,
		&role,
		&passwordHash,
		&account.RequiresTwoFactor,
		&account.CanCreateAdmins,
		&condominiumID,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}

	parsedRole, ok := ParseRole(role)
	if !ok {
		return Account{}, fmt.Errorf("account %s has unknown role %q", account.ID, role)
	}
	account.Role = parsedRole

	if passwordHash.Valid {
		value := passwordHash.String
		account.PasswordHash = &value
	}
	if condominiumID.Valid {
		value := condominiumID.String
		account.CondominiumID = &value
	}

	return account, nil
}

func (r *Repository) Snapshot(ctx context.Context, id string) (AccountSnapshot, error) {
	var role string
	var canCreateAdmins bool

	err := r.db.QueryRowContext(ctx, `
		SELECT role, can_create_admins
		FROM accounts
		WHERE id = $1
	`, id).Scan(&role, &canCreateAdmins)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccountSnapshot{}, ErrAccountNotFound
		}
		return AccountSnapshot{}, fmt.Errorf("query account snapshot: %w", err)
	}

	parsedRole, ok := ParseRole(role)
	if !ok {
		return AccountSnapshot{}, fmt.Errorf("account %s has unknown role %q", id, role)
	}

	return AccountSnapshot{Role: parsedRole, CanCreateAdmins: canCreateAdmins}, nil
}

func (r *Repository) SetPassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *Repository) Create(ctx context.Context, challenge TwoFactorChallenge) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin challenge tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE auth_two_factor_challenges
		SET consumed_at = $2
		WHERE account_id = $1 AND consumed_at IS NULL
	`, challenge.AccountID, now)
	if err != nil {
		return fmt.Errorf("supersede prior challenges: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_two_factor_challenges (id, account_id, code_hash, expires_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, challenge.ID, challenge.AccountID, challenge.CodeHash, challenge.ExpiresAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit challenge tx: %w", err)
	}

	return nil
}

func (r *Repository) Consume(ctx context.Context, accountID, codeHash string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin challenge claim tx: %w", err)
	}
	defer tx.Rollback()

	var id string
	var storedHash string
	var expiresAt time.Time
	var attempts int
	err = tx.QueryRowContext(ctx, `
		SELECT id, code_hash, expires_at, attempts
		FROM auth_two_factor_challenges
		WHERE account_id = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, accountID).Scan(&id, &storedHash, &expiresAt, &attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChallengeMismatch
		}
		return fmt.Errorf("lock challenge row: %w", err)
	}

	if now.After(expiresAt.UTC()) {
		if err := r.markConsumed(ctx, tx, id, now); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit expired challenge tx: %w", err)
		}
		return ErrChallengeExpired
	}

	if storedHash != codeHash {
		attempts++
		if attempts >= maxChallengeAttempts {
			if err := r.markConsumed(ctx, tx, id, now); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE auth_two_factor_challenges
				SET attempts = $2
				WHERE id = $1
			`, id, attempts); err != nil {
				return fmt.Errorf("bump challenge attempts: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit mismatched challenge tx: %w", err)
		}
		return ErrChallengeMismatch
	}

	if err := r.markConsumed(ctx, tx, id, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit challenge claim tx: %w", err)
	}

	return nil
}

func (r *Repository) markConsumed(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE auth_two_factor_challenges
		SET consumed_at = $2
		WHERE id = $1
	`, id, now.UTC()); err != nil {
		return fmt.Errorf("mark challenge consumed: %w", err)
	}
	return nil
}

func (r *Repository) GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error) {
	var attempt LoginAttempt
	attempt.Email = email

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE email = $1
	`, email).Scan(&attempt.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt, nil
		}
		return LoginAttempt{}, fmt.Errorf("query login attempt: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}

	return attempt, nil
}

func (r *Repository) RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin login attempt tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE email = $1
		FOR UPDATE
	`, email).Scan(&failed, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			failed = 0
			lockedUntil = sql.NullTime{}
		} else {
			return nil, fmt.Errorf("lock login attempt row: %w", err)
		}
	}

	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return &until, nil
	}

	failed++
	var nextLock *time.Time
	var nextLockValue any = nil
	if failed >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		nextLock = &until
		nextLockValue = until
		failed = 0
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_login_attempts (email, failed_attempts, locked_until, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email)
		DO UPDATE SET
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until = EXCLUDED.locked_until,
			updated_at = EXCLUDED.updated_at
	`, email, failed, nextLockValue, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("upsert failed login attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit login attempt tx: %w", err)
	}

	return nextLock, nil
}

func (r *Repository) ResetLoginAttempt(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_login_attempts
		WHERE email = $1
	`, email)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}

	return nil
}

func (r *Repository) AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	threshold := now.UTC().Add(-window)

	var hits int
	var windowStartedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		WITH upsert AS (
			INSERT INTO auth_login_ip_limits (ip, window_started_at, hits, updated_at)
			VALUES ($1, $2, 1, $2)
			ON CONFLICT (ip) DO UPDATE
			SET
				hits = CASE
					WHEN auth_login_ip_limits.window_started_at <= $3 THEN 1
					ELSE auth_login_ip_limits.hits + 1
				END,
				window_started_at = CASE
					WHEN auth_login_ip_limits.window_started_at <= $3 THEN $2
					ELSE auth_login_ip_limits.window_started_at
				END,
				updated_at = $2
			RETURNING hits, window_started_at
		)
		SELECT hits, window_started_at FROM upsert
	`, ip, now.UTC(), threshold).Scan(&hits, &windowStartedAt)
	if err != nil {
		return false, 0, fmt.Errorf("upsert login ip rate limit: %w", err)
	}

	if hits <= maxHits {
		return true, 0, nil
	}

	retryAfter := windowStartedAt.Add(window).Sub(now.UTC())
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return false, retryAfter, nil
}

func (r *Repository) CleanupStaleAuthData(ctx context.Context, challengeRetention, loginAttemptRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if challengeRetention <= 0 {
		challengeRetention = 24 * time.Hour
	}
	if loginAttemptRetention <= 0 {
		loginAttemptRetention = 30 * 24 * time.Hour
	}

	challengeCutoff := time.Now().UTC().Add(-challengeRetention)
	loginCutoff := time.Now().UTC().Add(-loginAttemptRetention)

	deletedChallenges, err := r.deleteStaleChallenges(ctx, challengeCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedLoginAttempts, err := r.deleteStaleLoginAttempts(ctx, loginCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedIPLimits, err := r.deleteStaleIPLimits(ctx, loginCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedChallenges:    deletedChallenges,
		DeletedLoginAttempts: deletedLoginAttempts,
		DeletedIPLimits:      deletedIPLimits,
	}, nil
}

func (r *Repository) deleteStaleChallenges(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_two_factor_challenges
			WHERE expires_at < $1 OR (consumed_at IS NOT NULL AND consumed_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_two_factor_challenges t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale challenges: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale challenges rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleLoginAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT email
			FROM auth_login_attempts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_attempts t
		USING stale
		WHERE t.email = stale.email
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login attempts rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleIPLimits(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT ip
			FROM auth_login_ip_limits
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_ip_limits t
		USING stale
		WHERE t.ip = stale.ip
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login ip limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login ip limits rows affected: %w", err)
	}

	return affected, nil
}
