package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given connection
// pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Insert records one decision cycle result.
func (s *DecisionStore) Insert(ctx context.Context, d domain.Decision) error {
	// Gate outcomes carry no side; persist those as an empty string.
	side := ""
	if d.Side == book.SideAsk || d.Side == book.SideBid {
		side = d.Side.String()
	}

	const query = `
		INSERT INTO decisions (
			id, venue, counterpart, pair, side, outcome, strategy, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.Venue, d.Counterpart, d.Pair.String(),
		side, string(d.Outcome), d.Strategy, d.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// ListRecent returns the most recent decisions, newest first.
func (s *DecisionStore) ListRecent(ctx context.Context, limit int) ([]domain.Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, venue, counterpart, pair, side, outcome, strategy, decided_at
		 FROM decisions
		 ORDER BY decided_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent decisions: %w", err)
	}
	defer rows.Close()

	var decisions []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var pair, side, outcome string

		if err := rows.Scan(&d.ID, &d.Venue, &d.Counterpart, &pair, &side, &outcome, &d.Strategy, &d.At); err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}

		d.Pair, err = domain.ParsePair(pair)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		if side != "" {
			d.Side, err = book.ParseSide(side)
			if err != nil {
				return nil, fmt.Errorf("postgres: scan decision: %w", err)
			}
		}
		d.Outcome = domain.Outcome(outcome)

		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent decisions: %w", err)
	}
	return decisions, nil
}

// Compile-time interface check.
var _ domain.DecisionStore = (*DecisionStore)(nil)
