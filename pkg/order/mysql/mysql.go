package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"pmsdesk/pkg/menu"
	"pmsdesk/pkg/order"
)

// MySQL has no partial indexes; pending_key is NULL for completed orders so
// the unique key only constrains pending ones.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		seq         BIGINT AUTO_INCREMENT PRIMARY KEY,
		id          VARCHAR(64) NOT NULL UNIQUE,
		location_id VARCHAR(128) NOT NULL,
		type        VARCHAR(16) NOT NULL,
		status      VARCHAR(16) NOT NULL,
		version     INT NOT NULL DEFAULT 0,
		created_at  DATETIME(6) NOT NULL,
		pending_key VARCHAR(160) GENERATED ALWAYS AS
			(IF(status = 'pending', CONCAT(type, ':', location_id), NULL)) STORED,
		UNIQUE KEY orders_pending_location (pending_key)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id   VARCHAR(64) NOT NULL,
		position   INT NOT NULL,
		item_id    VARCHAR(128) NOT NULL,
		name       VARCHAR(255) NOT NULL,
		quantity   INT NOT NULL,
		unit_price DECIMAL(20, 6) NOT NULL,
		PRIMARY KEY (order_id, position),
		FOREIGN KEY (order_id) REFERENCES orders (id) ON DELETE CASCADE
	)`,
}

const (
	insertOrderSQL   = `INSERT INTO orders (id, location_id, type, status, created_at) VALUES (?, ?, ?, ?, ?)`
	insertItemSQL    = `INSERT INTO order_items (order_id, position, item_id, name, quantity, unit_price) VALUES (?, ?, ?, ?, ?, ?)`
	selectOrderSQL   = `SELECT id, location_id, type, status, version, created_at FROM orders WHERE id = ?`
	selectOrdersSQL  = `SELECT id, location_id, type, status, version, created_at FROM orders ORDER BY seq`
	selectPendingSQL = `SELECT id, location_id, type, status, version, created_at FROM orders WHERE location_id = ? AND type = ? AND status = ?`
	selectItemsSQL   = `SELECT item_id, name, quantity, unit_price FROM order_items WHERE order_id = ? ORDER BY position`
	updateOrderSQL   = `UPDATE orders SET status = ?, version = version + 1 WHERE id = ? AND status = ? AND version = ?`
	deleteItemsSQL   = `DELETE FROM order_items WHERE order_id = ?`
	selectExistsSQL  = `SELECT COUNT(*) FROM orders WHERE id = ?`
)

const errDuplicateEntry = 1062

// Repository persists orders in MySQL. The DSN must set parseTime=true.
type Repository struct {
	db *sql.DB
}

// New creates a MySQL repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the order tables when they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Create inserts a new order with its lines. A second pending order for the
// same location fails with order.ErrConflict.
func (r *Repository) Create(ctx context.Context, o order.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, insertOrderSQL, o.ID, o.LocationID, string(o.Type), string(o.Status), o.CreatedAt)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
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
	return r.one(ctx, selectOrderSQL, id)
}

// FindPending returns the pending order for a location.
func (r *Repository) FindPending(ctx context.Context, locationID string, t order.Type) (order.Order, error) {
	return r.one(ctx, selectPendingSQL, locationID, string(t), string(order.StatusPending))
}

// List fetches all orders in creation order.
func (r *Repository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.db.QueryContext(ctx, selectOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
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
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].Items, err = r.items(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Update replaces the status and lines of a pending order still at
// o.Version. The version bump makes every accepted update change the row, so
// zero affected rows always means a missing or stale order.
func (r *Repository) Update(ctx context.Context, o order.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, updateOrderSQL, string(o.Status), o.ID, string(order.StatusPending), o.Version)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if affected == 0 {
		var n int
		if err := tx.QueryRowContext(ctx, selectExistsSQL, o.ID).Scan(&n); err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		if n == 0 {
			return order.ErrNotFound
		}
		return order.ErrConflict
	}
	if _, err := tx.ExecContext(ctx, deleteItemsSQL, o.ID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	if err := insertItems(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) one(ctx context.Context, query string, args ...any) (order.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
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
		return nil, fmt.Errorf("query order items: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (order.Order, error) {
	var (
		o         order.Order
		typ, stat string
	)
	err := s.Scan(&o.ID, &o.LocationID, &typ, &stat, &o.Version, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("scan order: %w", err)
	}
	o.Type, o.Status = order.Type(typ), order.Status(stat)
	return o, nil
}
