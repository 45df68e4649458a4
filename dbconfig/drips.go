package dbconfig

import (
	"context"
	"database/sql"
	"math/big"
	"time"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/pkg/errors"
)

// ReserveClaim atomically checks the identity's cooldown and inserts a reservation row.
// Concurrent reservations for the same identity are serialized by a transaction-scoped
// advisory lock, so at most one of them can succeed inside the window.
//
// Parameters:
// - ctx: the context for managing the request.
// - record: the drip to reserve. Identity and CreatedAt are required, TxHash is ignored.
// - window: the cooldown window.
//
// Returns:
// - int64: the reservation id.
// - error: a *commonerrors.CooldownError if the identity claimed inside the window,
// or an error if the database operation fails.
func (r *DBConfig) ReserveClaim(ctx context.Context, record *types.DripRecord, window time.Duration) (int64, error) {
	if record == nil || record.Identity == "" {
		return 0, ErrInvalidIdentity
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(ErrDatabaseConnect, err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, record.Identity); err != nil {
		return 0, errors.Wrap(err, "failed to lock identity")
	}

	var last time.Time
	err = tx.QueryRowContext(ctx, `
      SELECT created_at
      FROM drips
      WHERE identity = $1
      ORDER BY created_at DESC
      LIMIT 1`,
		record.Identity,
	).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, errors.Wrap(err, "failed to get last claim")
	case record.CreatedAt.Sub(last) < window:
		return 0, &commonerrors.CooldownError{LastClaimAt: last, NextClaimAt: last.Add(window)}
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
      INSERT INTO drips (
          chain_id,
          token_address,
          from_address,
          to_address,
          identity,
          amount,
          created_at
      ) VALUES ($1, $2, $3, $4, $5, $6, $7)
      RETURNING id`,
		record.ChainID,
		record.TokenAddress,
		record.From,
		record.To,
		record.Identity,
		amountString(record.Amount),
		record.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert claim")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit claim")
	}

	return id, nil
}

// CompleteClaim stores the transaction hash of a reserved claim.
//
// Parameters:
// - ctx: the context for managing the request.
// - id: the reservation id.
// - txHash: the drip transaction hash.
//
// Returns:
// - error: ErrClaimNotFound if the reservation does not exist, or an error if the update fails.
func (r *DBConfig) CompleteClaim(ctx context.Context, id int64, txHash string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE drips SET tx_hash = $1 WHERE id = $2`, txHash, id)
	if err != nil {
		return errors.Wrap(err, "failed to complete claim")
	}
	return expectOneRow(result)
}

// ReleaseClaim deletes a reservation whose transfer was never submitted, reopening the identity's window.
func (r *DBConfig) ReleaseClaim(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM drips WHERE id = $1 AND tx_hash IS NULL`, id)
	if err != nil {
		return errors.Wrap(err, "failed to release claim")
	}
	return expectOneRow(result)
}

// LatestClaim returns the identity's most recent claim.
//
// Parameters:
// - ctx: the context for managing the request.
// - identity: the chat identity.
//
// Returns:
// - *types.DripRecord: the claim.
// - error: ErrClaimNotFound if the identity never claimed, or an error if the query fails.
func (r *DBConfig) LatestClaim(ctx context.Context, identity string) (*types.DripRecord, error) {
	var (
		record types.DripRecord
		txHash sql.NullString
		amount string
	)

	err := r.db.QueryRowContext(ctx, `
      SELECT
          id,
          chain_id,
          tx_hash,
          token_address,
          from_address,
          to_address,
          identity,
          amount,
          created_at
      FROM drips
      WHERE identity = $1
      ORDER BY created_at DESC
      LIMIT 1`,
		identity,
	).Scan(
		&record.ID,
		&record.ChainID,
		&txHash,
		&record.TokenAddress,
		&record.From,
		&record.To,
		&record.Identity,
		&amount,
		&record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest claim")
	}

	if txHash.Valid {
		record.TxHash = txHash.String
	}

	parsed, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, errors.Errorf("invalid stored amount %q", amount)
	}
	record.Amount = parsed

	return &record, nil
}

func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return ErrClaimNotFound
	}
	return nil
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
