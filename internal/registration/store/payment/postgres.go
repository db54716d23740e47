package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"confreg/internal/registration/models"
	"confreg/pkg/platform/sentinel"
	txcontext "confreg/pkg/platform/tx"
)

// PostgresStore persists payments in PostgreSQL. The unique constraint on
// gateway_id is the authoritative guard against double-recording one
// provider payment; state transitions are serialized by a guarded row
// update so concurrent webhook and poll deliveries cannot lose writes.
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

const paymentColumns = `id, registrant_id, amount, state, gateway_id, gateway_status, companions, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		payment.ID,
		payment.RegistrantID,
		payment.Amount,
		string(payment.State),
		nullString(payment.GatewayID),
		payment.GatewayStatus,
		pq.Array(payment.Companions),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) FindByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	if gatewayID == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.findOne(ctx, `WHERE gateway_id = $1`, gatewayID)
}

func (s *PostgresStore) FindLatestByRegistrant(ctx context.Context, registrantID uuid.UUID) (*models.Payment, error) {
	return s.findOne(ctx, `WHERE registrant_id = $1 ORDER BY created_at DESC LIMIT 1`, registrantID)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, args ...any) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ` + where

	payment, err := scanPayment(s.execer(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return payment, nil
}

// ListByRegistrant returns a registrant's payments newest-first.
func (s *PostgresStore) ListByRegistrant(ctx context.Context, registrantID uuid.UUID) ([]*models.Payment, error) {
	return s.list(ctx, `WHERE registrant_id = $1 ORDER BY created_at DESC`, registrantID)
}

func (s *PostgresStore) ListByState(ctx context.Context, state models.PaymentState) ([]*models.Payment, error) {
	return s.list(ctx, `WHERE state = $1 ORDER BY created_at DESC`, string(state))
}

func (s *PostgresStore) list(ctx context.Context, where string, args ...any) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ` + where

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

func (s *PostgresStore) CountByState(ctx context.Context, state models.PaymentState) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE state = $1`, string(state)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SumAmountByState(ctx context.Context, state models.PaymentState) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE state = $1`, string(state)).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	return sum, nil
}

// UpdateState applies a state transition with a guarded row-level update:
// only PENDING rows move, so concurrent transition attempts on the same
// payment serialize at the database and the last write is a valid single
// transition, never a lost update. A row already in the requested state is
// returned unchanged; any other terminal row yields sentinel.ErrInvalidState.
func (s *PostgresStore) UpdateState(ctx context.Context, paymentID uuid.UUID, newState models.PaymentState, rawGatewayStatus string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET state = $2, gateway_status = $3, updated_at = $4
		WHERE id = $1 AND state = 'PENDING'
		RETURNING ` + paymentColumns

	payment, err := scanPayment(s.execer(ctx).QueryRowContext(ctx, query,
		paymentID, string(newState), rawGatewayStatus, time.Now()))
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update payment state: %w", err)
	}

	// No PENDING row matched: either the payment does not exist or it is
	// already terminal. Re-read to distinguish.
	current, findErr := s.FindByID(ctx, paymentID)
	if findErr != nil {
		return nil, findErr
	}
	if current.State == newState {
		return current, nil
	}
	return nil, sentinel.ErrInvalidState
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		payment   models.Payment
		state     string
		gatewayID sql.NullString
	)
	err := row.Scan(
		&payment.ID,
		&payment.RegistrantID,
		&payment.Amount,
		&state,
		&gatewayID,
		&payment.GatewayStatus,
		pq.Array(&payment.Companions),
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	payment.State = models.PaymentState(state)
	payment.GatewayID = gatewayID.String
	if payment.Companions == nil {
		payment.Companions = []string{}
	}
	return &payment, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
