package registrant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"confreg/internal/registration/models"
	"confreg/pkg/platform/sentinel"
	txcontext "confreg/pkg/platform/tx"
)

// PostgresStore persists registrants in PostgreSQL. The unique constraints
// on email and national_id are the authoritative duplicate guard; unique
// violations surface as sentinel.ErrConflict.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, registrant *models.Registrant) error {
	query := `
		INSERT INTO registrants (id, full_name, email, national_id, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		registrant.ID,
		registrant.FullName,
		registrant.Email,
		registrant.NationalID,
		registrant.Phone,
		registrant.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert registrant: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Registrant, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) FindByEmailOrNationalID(ctx context.Context, email, nationalID string) (*models.Registrant, error) {
	return s.findOne(ctx, `WHERE lower(email) = lower($1) OR national_id = $2`, email, nationalID)
}

func (s *PostgresStore) FindByNationalID(ctx context.Context, nationalID string) (*models.Registrant, error) {
	return s.findOne(ctx, `WHERE national_id = $1`, nationalID)
}

// FindByNameFragment matches the oldest registrant whose name contains the
// fragment, case-insensitively. Used by the manual-approval path.
func (s *PostgresStore) FindByNameFragment(ctx context.Context, fragment string) (*models.Registrant, error) {
	return s.findOne(ctx,
		`WHERE full_name ILIKE '%' || $1 || '%' ORDER BY created_at ASC LIMIT 1`,
		fragment)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, args ...any) (*models.Registrant, error) {
	query := `
		SELECT id, full_name, email, national_id, phone, created_at
		FROM registrants ` + where

	var registrant models.Registrant
	err := s.execer(ctx).QueryRowContext(ctx, query, args...).Scan(
		&registrant.ID,
		&registrant.FullName,
		&registrant.Email,
		&registrant.NationalID,
		&registrant.Phone,
		&registrant.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find registrant: %w", err)
	}
	return &registrant, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrants`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count registrants: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*models.Registrant, error) {
	return s.list(ctx, `
		SELECT id, full_name, email, national_id, phone, created_at
		FROM registrants
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Registrant, error) {
	return s.list(ctx, `
		SELECT id, full_name, email, national_id, phone, created_at
		FROM registrants
		ORDER BY created_at DESC
	`)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Registrant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query registrants: %w", err)
	}
	defer rows.Close()

	var registrants []*models.Registrant
	for rows.Next() {
		var registrant models.Registrant
		if err := rows.Scan(
			&registrant.ID,
			&registrant.FullName,
			&registrant.Email,
			&registrant.NationalID,
			&registrant.Phone,
			&registrant.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan registrant: %w", err)
		}
		registrants = append(registrants, &registrant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrants: %w", err)
	}
	return registrants, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
