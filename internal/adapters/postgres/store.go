// Package postgres persists scored records, run summaries and the
// known-address store, and serves prior transactions as velocity history.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/shopspring/decimal"
)

// Store is a pgx pool backed store. It also implements sink.Sink.
type Store struct {
	pool   *pgxpool.Pool
	runID  string
	logger logger.Logger
}

// Open connects to url and pings the server.
func Open(ctx context.Context, url string) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrNoURL
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return NewStore(pool), nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, logger: logger.Get().Named("postgres")}
}

// SetRunID stamps subsequently written records with runID.
func (s *Store) SetRunID(runID string) {
	s.runID = runID
}

// Name implements sink.Sink.
func (s *Store) Name() string { return "postgres" }

// Close implements sink.Sink.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const upsertRecord = `
INSERT INTO scored_transactions
    (tx_id, ts, from_address, to_address, amount, token, method, chain,
     score, reasons, hits, velocity_last_window, run_id, scored_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11::jsonb, $12, NULLIF($13, ''), now())
ON CONFLICT (tx_id) DO UPDATE SET
    score = EXCLUDED.score,
    reasons = EXCLUDED.reasons,
    hits = EXCLUDED.hits,
    velocity_last_window = EXCLUDED.velocity_last_window,
    run_id = EXCLUDED.run_id,
    scored_at = EXCLUDED.scored_at`

// Write implements sink.Sink. Records are upserted by tx_id in one batch.
func (s *Store) Write(ctx context.Context, records []model.ScoredRecord) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range records {
		hits := r.Hits
		if hits == nil {
			hits = map[string]int{}
		}
		hb, err := json.Marshal(hits)
		if err != nil {
			return fmt.Errorf("encode hits %s: %w", r.TxID, err)
		}
		reasons := r.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		b.Queue(upsertRecord,
			r.TxID, r.Timestamp.UTC(), r.From, r.To, r.Amount.String(), r.Token,
			string(r.Method), r.Chain, r.Score, reasons, string(hb), r.VelocityCount, s.runID,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert %s: %w", r.TxID, err)
		}
	}
	return br.Close()
}

// PriorTransactions returns stored transactions with a timestamp at or after
// since, newest first, capped at limit when limit > 0.
func (s *Store) PriorTransactions(ctx context.Context, since time.Time, limit int) ([]model.Transaction, error) {
	q := `SELECT tx_id, ts, from_address, to_address, amount::text, token, method, chain
	      FROM scored_transactions WHERE ts >= $1 ORDER BY ts DESC`
	args := []any{since.UTC()}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("prior transactions: %w", err)
	}
	defer rows.Close()

	out := []model.Transaction{}
	for rows.Next() {
		var (
			tx     model.Transaction
			amount string
			method string
		)
		if err := rows.Scan(&tx.TxID, &tx.Timestamp, &tx.From, &tx.To, &amount, &tx.Token, &method, &tx.Chain); err != nil {
			return nil, fmt.Errorf("prior transactions: %w", err)
		}
		tx.Timestamp = tx.Timestamp.UTC()
		tx.Method = model.Method(method)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			s.logger.Warn(ctx, "skipping stored transaction with bad amount",
				logger.String("tx", tx.TxID),
				logger.Error(err),
			)
			continue
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// KnownAddresses returns every stored known address, lowercase.
func (s *Store) KnownAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT address FROM known_addresses ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("known addresses: %w", err)
	}
	addrs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("known addresses: %w", err)
	}
	return addrs, nil
}

// AddKnownAddresses inserts addresses, ignoring ones already known. It
// returns how many were new.
func (s *Store) AddKnownAddresses(ctx context.Context, addresses []string) (int, error) {
	added := 0
	for _, a := range addresses {
		a = model.NormalizeAddress(a)
		if a == "" {
			continue
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO known_addresses (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, a)
		if err != nil {
			return added, fmt.Errorf("add known address %s: %w", a, err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// RecordRun stores a run summary, replacing any earlier row for the run.
func (s *Store) RecordRun(ctx context.Context, meta model.RunMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO runs (run_id, chain, endpoint, collected, error, started_at, finished_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
ON CONFLICT (run_id) DO UPDATE SET
    collected = EXCLUDED.collected,
    error = EXCLUDED.error,
    finished_at = EXCLUDED.finished_at,
    metadata = EXCLUDED.metadata`,
		meta.RunID, meta.Chain, meta.Endpoint, meta.Collected, meta.Error,
		meta.StartedAt.UTC(), meta.FinishedAt.UTC(), string(b))
	if err != nil {
		return fmt.Errorf("record run %s: %w", meta.RunID, err)
	}
	return nil
}
