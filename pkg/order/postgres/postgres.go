package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"pmsdesk/pkg/menu"
	"pmsdesk/pkg/order"
)

const (
	insertOrderSQL   = `INSERT INTO orders (id, location_id, type, status, created_at) VALUES ($1, $2, $3, $4, $5)`
	insertItemSQL    = `INSERT INTO order_items (order_id, position, item_id, name, quantity, unit_price) VALUES ($1, $2, $3, $4, $5, $6)`
	selectOrderSQL   = `SELECT id, location_id, type, status, version, created_at FROM orders WHERE id = $1`
	selectOrdersSQL  = `SELECT id, location_id, type, status, version, created_at FROM orders ORDER BY seq`
	selectPendingSQL = `SELECT id, location_id, type, status, version, created_at FROM orders WHERE location_id = $1 AND type = $2 AND status = $3`
	selectItemsSQL   = `SELECT item_id, name, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY position`
	updateOrderSQL   = `UPDATE orders SET status = $2, version = version + 1 WHERE id = $1 AND status = $3 AND version = $4`
	orderExistsSQL   = `SELECT 1 FROM orders WHERE id = $1`
	deleteItemsSQL   = `DELETE FROM order_items WHERE order_id = $1`
)

const uniqueViolation = "23505"

// Repository persists orders in PostgreSQL.
type Repository struct {
	db *sql.DB
}

// New creates a PostgreSQL repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new order with its lines.
func (r *Repository) Create(ctx context.Context, o order.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertOrderSQL, o.ID, o.LocationID, string(o.Type), string(o.Status), o.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return order.ErrConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}
	if err := insertItems(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

// Get retrieves an order by ID.
func (r *Repository) Get(ctx context.Context, id string) (order.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderSQL, id))
	if err != nil {
		return order.Order{}, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

// List fetches all orders in creation order.
func (r *Repository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.db.QueryContext(ctx, selectOrdersSQL)
	if err != nil {
		return nil, err
	}
	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range orders {
		if orders[i].Items, err = r.items(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Update replaces the status and lines of a pending order. The row is only
// written while it is still pending at o.Version; the update holds its row
// lock until the lines are rewritten.
func (r *Repository) Update(ctx context.Context, o order.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, updateOrderSQL, o.ID, string(o.Status), string(order.StatusPending), o.Version)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n == 0 {
		return staleOrMissing(ctx, tx, o.ID)
	}
	if _, err := tx.ExecContext(ctx, deleteItemsSQL, o.ID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	if err := insertItems(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

// staleOrMissing tells an unknown order apart from one that was completed or
// changed since it was read.
func staleOrMissing(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, orderExistsSQL, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return order.ErrNotFound
	case err != nil:
		return fmt.Errorf("check order: %w", err)
	}
	return order.ErrConflict
}

// FindPending returns the pending order for a location.
func (r *Repository) FindPending(ctx context.Context, locationID string, t order.Type) (order.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, selectPendingSQL, locationID, string(t), string(order.StatusPending)))
	if err != nil {
		return order.Order{}, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, o order.Order) error {
	for i, l := range o.Items {
		if _, err := tx.ExecContext(ctx, insertItemSQL, o.ID, i, string(l.ItemID), l.Name, l.Quantity, l.UnitPrice.String()); err != nil {
			return fmt.Errorf("insert order item %s: %w", l.ItemID, err)
		}
	}
	return nil
}

func (r *Repository) items(ctx context.Context, orderID string) ([]order.Line, error) {
	rows, err := r.db.QueryContext(ctx, selectItemsSQL, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []order.Line{}
	for rows.Next() {
		var (
			l  order.Line
			id string
		)
		if err := rows.Scan(&id, &l.Name, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		l.ItemID = menu.ItemID(id)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (order.Order, error) {
	var (
		o         order.Order
		typ, stat string
	)
	err := s.Scan(&o.ID, &o.LocationID, &typ, &stat, &o.Version, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, err
	}
	o.Type, o.Status = order.Type(typ), order.Status(stat)
	return o, nil
}
