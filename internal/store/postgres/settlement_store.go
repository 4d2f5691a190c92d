package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
// Amounts are stored as NUMERIC and read back as text so no precision is
// lost through float conversion.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementSelectCols = `auction_id, winner_id, amount::text, stage, failed_stage,
	tx_refs, asset_ref, last_error, blocked, attempts, created_at, updated_at`

// Get returns the record for auctionID or domain.ErrNotFound.
func (s *SettlementStore) Get(ctx context.Context, auctionID string) (domain.SettlementRecord, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlement_records WHERE auction_id = $1`

	rec, err := scanSettlement(s.pool.QueryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementRecord{}, domain.ErrNotFound
		}
		return domain.SettlementRecord{}, fmt.Errorf("postgres: get settlement %s: %w", auctionID, err)
	}
	return rec, nil
}

// Save upserts rec. CreatedAt is kept from the first insert.
func (s *SettlementStore) Save(ctx context.Context, rec domain.SettlementRecord) error {
	refs := rec.TxRefs
	if refs == nil {
		refs = []domain.TxRef{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("postgres: marshal tx refs: %w", err)
	}

	const query = `
		INSERT INTO settlement_records (
			auction_id, winner_id, amount, stage, failed_stage,
			tx_refs, asset_ref, last_error, blocked, attempts,
			created_at, updated_at
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (auction_id) DO UPDATE SET
			winner_id    = EXCLUDED.winner_id,
			amount       = EXCLUDED.amount,
			stage        = EXCLUDED.stage,
			failed_stage = EXCLUDED.failed_stage,
			tx_refs      = EXCLUDED.tx_refs,
			asset_ref    = EXCLUDED.asset_ref,
			last_error   = EXCLUDED.last_error,
			blocked      = EXCLUDED.blocked,
			attempts     = EXCLUDED.attempts,
			updated_at   = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		rec.AuctionID, rec.WinnerID, rec.Amount.String(),
		string(rec.Stage), string(rec.FailedStage),
		refsJSON, rec.AssetRef, rec.LastError, rec.Blocked, rec.Attempts,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save settlement %s: %w", rec.AuctionID, err)
	}
	return nil
}

// ListPending returns records that have not completed, oldest first.
func (s *SettlementStore) ListPending(ctx context.Context) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlement_records
		WHERE stage <> $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, string(domain.StageComplete))
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending settlements rows: %w", err)
	}
	return out, nil
}

func scanSettlement(scanner interface{ Scan(dest ...any) error }) (domain.SettlementRecord, error) {
	var (
		rec                domain.SettlementRecord
		amount             string
		stage, failedStage string
		refsJSON           []byte
	)
	err := scanner.Scan(
		&rec.AuctionID, &rec.WinnerID, &amount, &stage, &failedStage,
		&refsJSON, &rec.AssetRef, &rec.LastError, &rec.Blocked, &rec.Attempts,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.SettlementRecord{}, err
	}

	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	rec.Stage = domain.SettlementStage(stage)
	rec.FailedStage = domain.SettlementStage(failedStage)
	if len(refsJSON) > 0 {
		if err := json.Unmarshal(refsJSON, &rec.TxRefs); err != nil {
			return domain.SettlementRecord{}, fmt.Errorf("unmarshal tx refs: %w", err)
		}
	}
	return rec, nil
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
