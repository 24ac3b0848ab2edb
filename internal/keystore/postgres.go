package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantleap/stockcast/internal/models"
	"github.com/quantleap/stockcast/pkg/crypto"
	"github.com/quantleap/stockcast/pkg/database"
)

// Postgres is the table-backed Store.
type Postgres struct {
	db            *database.DB
	encryptionKey string
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *database.DB, encryptionKey string) *Postgres {
	return &Postgres{db: db, encryptionKey: encryptionKey}
}

const apiKeyColumns = `id, owner_id, secret_digest, tier, minute_limit, day_limit,
	price_id, subscription_id, name, revealed, usage_count, last_used_at, created_at`

func scanKey(row pgx.Row) (*models.ApiKey, error) {
	var k models.ApiKey
	err := row.Scan(&k.ID, &k.OwnerID, &k.SecretDigest, &k.Tier, &k.MinuteLimit, &k.DayLimit,
		&k.PriceID, &k.SubscriptionID, &k.Name, &k.Revealed, &k.UsageCount, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keystore: scan key: %w", err)
	}
	return &k, nil
}

func (s *Postgres) CreatePrincipal(ctx context.Context, email, credentialHash string) (*models.Principal, error) {
	p := &models.Principal{
		ID:             uuid.New().String(),
		Email:          email,
		CredentialHash: credentialHash,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO principals (id, email, credential_hash, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Email, p.CredentialHash, p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("keystore: create principal: %w", err)
	}
	return p, nil
}

func (s *Postgres) FindPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	return s.findPrincipal(ctx, `SELECT id, email, credential_hash, created_at FROM principals WHERE email = $1`, email)
}

func (s *Postgres) FindPrincipalByID(ctx context.Context, id string) (*models.Principal, error) {
	return s.findPrincipal(ctx, `SELECT id, email, credential_hash, created_at FROM principals WHERE id = $1`, id)
}

func (s *Postgres) findPrincipal(ctx context.Context, query string, arg any) (*models.Principal, error) {
	var p models.Principal
	err := s.db.Pool.QueryRow(ctx, query, arg).Scan(&p.ID, &p.Email, &p.CredentialHash, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keystore: find principal: %w", err)
	}
	return &p, nil
}

func (s *Postgres) AddKey(ctx context.Context, ownerID string, spec KeySpec) (*models.ApiKey, error) {
	secret, err := crypto.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("keystore: generate secret: %w", err)
	}
	encrypted, err := crypto.Encrypt(s.encryptionKey, secret)
	if err != nil {
		return nil, fmt.Errorf("keystore: encrypt secret: %w", err)
	}

	key := &models.ApiKey{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		Secret:         secret,
		SecretDigest:   crypto.Digest(secret),
		Tier:           spec.Tier,
		MinuteLimit:    spec.MinuteLimit,
		DayLimit:       spec.DayLimit,
		PriceID:        spec.PriceID,
		SubscriptionID: spec.SubscriptionID,
		Name:           spec.Name,
		CreatedAt:      time.Now().UTC(),
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("keystore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Grant-time enforcement of the single-paid-key rule. The owner row is
	// locked so two concurrent grants serialize here instead of both passing
	// the existence check.
	if spec.Tier == models.TierPaid {
		var ownerExists bool
		err = tx.QueryRow(ctx, `SELECT true FROM principals WHERE id = $1 FOR UPDATE`, ownerID).Scan(&ownerExists)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("keystore: lock owner: %w", err)
		}

		var count int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM api_keys WHERE owner_id = $1 AND tier = $2`,
			ownerID, models.TierPaid).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("keystore: count paid keys: %w", err)
		}
		if count > 0 {
			return nil, ErrPaidKeyExists
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO api_keys (id, owner_id, secret_digest, encrypted_secret, tier,
			minute_limit, day_limit, price_id, subscription_id, name, revealed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, $11)`,
		key.ID, key.OwnerID, key.SecretDigest, encrypted, key.Tier,
		key.MinuteLimit, key.DayLimit, key.PriceID, key.SubscriptionID, key.Name, key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("keystore: insert key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("keystore: commit: %w", err)
	}
	return key, nil
}

func (s *Postgres) ListKeys(ctx context.Context, ownerID string) ([]models.ApiKey, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_id = $1 ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("keystore: list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]models.ApiKey, 0)
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *Postgres) GetKey(ctx context.Context, keyID string) (*models.ApiKey, error) {
	return scanKey(s.db.Pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, keyID))
}

func (s *Postgres) HasPaidKey(ctx context.Context, ownerID string) (bool, error) {
	var count int
	err := s.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE owner_id = $1 AND tier = $2`,
		ownerID, models.TierPaid).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("keystore: count paid keys: %w", err)
	}
	return count > 0, nil
}

func (s *Postgres) Rename(ctx context.Context, keyID, name string) error {
	tag, err := s.db.Pool.Exec(ctx, `UPDATE api_keys SET name = $1 WHERE id = $2`, name, keyID)
	if err != nil {
		return fmt.Errorf("keystore: rename key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Rotate(ctx context.Context, keyID string) (string, error) {
	secret, err := crypto.NewSecret()
	if err != nil {
		return "", fmt.Errorf("keystore: generate secret: %w", err)
	}
	encrypted, err := crypto.Encrypt(s.encryptionKey, secret)
	if err != nil {
		return "", fmt.Errorf("keystore: encrypt secret: %w", err)
	}

	// Single UPDATE: the swap is atomic, the old secret stops matching the
	// digest index the instant this commits.
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE api_keys SET secret_digest = $1, encrypted_secret = $2, revealed = FALSE WHERE id = $3`,
		crypto.Digest(secret), encrypted, keyID)
	if err != nil {
		return "", fmt.Errorf("keystore: rotate key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return secret, nil
}

func (s *Postgres) Remove(ctx context.Context, keyID string) error {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("keystore: remove key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) FindBySecret(ctx context.Context, secret string) (*models.Principal, *models.ApiKey, error) {
	key, err := scanKey(s.db.Pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE secret_digest = $1`, crypto.Digest(secret)))
	if err != nil {
		return nil, nil, err
	}
	principal, err := s.FindPrincipalByID(ctx, key.OwnerID)
	if err != nil {
		return nil, nil, err
	}
	return principal, key, nil
}

func (s *Postgres) RevealSecret(ctx context.Context, keyID string) (string, error) {
	// Flip the flag first; only the winner of the flip gets the plaintext.
	var encrypted string
	err := s.db.Pool.QueryRow(ctx,
		`UPDATE api_keys SET revealed = TRUE WHERE id = $1 AND revealed = FALSE RETURNING encrypted_secret`,
		keyID).Scan(&encrypted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.GetKey(ctx, keyID); getErr != nil {
				return "", getErr
			}
			return "", ErrAlreadyRevealed
		}
		return "", fmt.Errorf("keystore: reveal secret: %w", err)
	}

	secret, err := crypto.Decrypt(s.encryptionKey, encrypted)
	if err != nil {
		return "", fmt.Errorf("keystore: decrypt secret: %w", err)
	}
	return secret, nil
}

func (s *Postgres) RecordUsage(ctx context.Context, keyID string) error {
	_, err := s.db.Pool.Exec(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = NOW() WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("keystore: record usage: %w", err)
	}
	return nil
}

func (s *Postgres) AppendAudit(ctx context.Context, audit models.PaymentAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO payment_audits (id, principal_id, price_id, amount_cents, external_payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		audit.ID, audit.PrincipalID, audit.PriceID, audit.AmountCents, audit.ExternalPaymentID, audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("keystore: append audit: %w", err)
	}
	return nil
}

func (s *Postgres) ListAudits(ctx context.Context, principalID string) ([]models.PaymentAudit, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, principal_id, price_id, amount_cents, external_payment_id, created_at
		FROM payment_audits WHERE principal_id = $1 ORDER BY created_at ASC`, principalID)
	if err != nil {
		return nil, fmt.Errorf("keystore: list audits: %w", err)
	}
	defer rows.Close()

	audits := make([]models.PaymentAudit, 0)
	for rows.Next() {
		var a models.PaymentAudit
		if err := rows.Scan(&a.ID, &a.PrincipalID, &a.PriceID, &a.AmountCents, &a.ExternalPaymentID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("keystore: scan audit: %w", err)
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
