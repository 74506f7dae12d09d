package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. It also serves as
// a domain.OwnOrderSource: the resting orders it tracks are the netting input
// for the stranger-liquidity view when the venue API is not queried directly.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order into the database.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, exchange_id, venue, pair, side, order_type,
			price, volume, filled, status, strategy,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.ExchangeID, o.Venue, o.Pair.String(),
		string(o.Side), string(o.Type),
		o.Price, o.Volume, o.Filled,
		string(o.Status), o.Strategy,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// MarkPlaced records the venue-assigned id for an order and moves it to open.
func (s *OrderStore) MarkPlaced(ctx context.Context, id, exchangeID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET exchange_id = $2, status = 'open', updated_at = NOW() WHERE id = $1`,
		id, exchangeID)
	if err != nil {
		return fmt.Errorf("postgres: mark order placed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus changes the status of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// orderSelectCols lists the columns selected when reading orders.
const orderSelectCols = `id, exchange_id, venue, pair, side, order_type,
	price, volume, filled, status, strategy, created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Order, error) {
	var o domain.Order
	var pair, side, orderType, status string

	err := scanner.Scan(
		&o.ID, &o.ExchangeID, &o.Venue, &pair,
		&side, &orderType,
		&o.Price, &o.Volume, &o.Filled,
		&status, &o.Strategy,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Pair, err = domain.ParsePair(pair)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)

	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListActive returns resting limit orders (pending or open) for the given
// venue and pair, newest first.
func (s *OrderStore) ListActive(ctx context.Context, venue string, pair domain.Pair) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE venue = $1 AND pair = $2
		   AND order_type = 'limit'
		   AND status IN ('pending', 'open')
		 ORDER BY created_at DESC`, venue, pair.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active orders: %w", err)
	}
	return orders, nil
}

// ActiveOrders implements domain.OwnOrderSource by netting the tracked
// resting orders into per-side own-order sets.
func (s *OrderStore) ActiveOrders(ctx context.Context, venue string, pair domain.Pair) (book.OwnOrderSet, error) {
	orders, err := s.ListActive(ctx, venue, pair)
	if err != nil {
		return book.OwnOrderSet{}, err
	}
	return netOwnOrders(orders), nil
}

// netOwnOrders converts tracked orders to own-order levels, counting only the
// unfilled remainder of each order.
func netOwnOrders(orders []domain.Order) book.OwnOrderSet {
	var own book.OwnOrderSet
	for _, o := range orders {
		remaining := o.Volume - o.Filled
		if remaining <= 0 {
			continue
		}
		lvl := book.OwnOrder{Price: o.Price, Volume: remaining}
		if o.Side.Ladder() == book.SideAsk {
			own.Asks = append(own.Asks, lvl)
		} else {
			own.Bids = append(own.Bids, lvl)
		}
	}
	return own
}

// Compile-time interface checks.
var (
	_ domain.OrderStore     = (*OrderStore)(nil)
	_ domain.OwnOrderSource = (*OrderStore)(nil)
)
