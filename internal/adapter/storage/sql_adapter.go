package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/port"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const (
	userColumns     = `id, name, email, telegram_chat_id, created_at`
	storeColumns    = `id, owner_id, name, slug, description, created_at, updated_at`
	productColumns  = `id, store_id, name, description, price, stock, published, created_at, updated_at`
	customerColumns = `id, store_id, name, phone, created_at`
	orderColumns    = `id, store_id, customer_id, customer_name, customer_phone, address, notes, status, created_at, updated_at`
	itemColumns     = `id, order_id, product_id, quantity, price`
)

// SQLAdapter implements DatabaseRepository on MySQL or Postgres.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect}
}

var _ port.DatabaseRepository = (*SQLAdapter)(nil)

func (m *SQLAdapter) q(query string) string {
	return m.dialect.rebind(query)
}

func (m *SQLAdapter) CreateUser(ctx context.Context, u domain.User) error {
	_, err := m.db.ExecContext(ctx, m.q(`
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)`),
		u.ID, u.Name, u.Email, nullInt64(u.TelegramChatID), u.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewValidationError("email", "already registered", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (m *SQLAdapter) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return m.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (m *SQLAdapter) GetUserByTelegramChat(ctx context.Context, chatID int64) (*domain.User, error) {
	return m.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_chat_id = ?`, chatID)
}

func (m *SQLAdapter) getUser(ctx context.Context, query string, arg interface{}) (*domain.User, error) {
	u, err := scanUser(m.db.QueryRowContext(ctx, m.q(query), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (m *SQLAdapter) SetUserTelegramChat(ctx context.Context, userID string, chatID *int64) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		if chatID != nil {
			// a chat links to at most one account
			if _, err := tx.ExecContext(ctx, m.q(`
				UPDATE users SET telegram_chat_id = NULL WHERE telegram_chat_id = ? AND id <> ?`),
				*chatID, userID,
			); err != nil {
				return fmt.Errorf("release telegram chat: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, m.q(`UPDATE users SET telegram_chat_id = ? WHERE id = ?`),
			nullInt64(chatID), userID)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return m.requireRow(ctx, tx, result, "users", "user", userID)
	})
}

func (m *SQLAdapter) CreateStore(ctx context.Context, s domain.Store) error {
	_, err := m.db.ExecContext(ctx, m.q(`
		INSERT INTO stores (`+storeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		s.ID, s.OwnerID, s.Name, s.Slug, s.Description, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewValidationError("slug", "already taken", s.Slug)
		}
		return fmt.Errorf("insert store: %w", err)
	}
	return nil
}

func (m *SQLAdapter) GetStore(ctx context.Context, id string) (*domain.Store, error) {
	return m.getStore(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = ?`, id)
}

func (m *SQLAdapter) GetStoreBySlug(ctx context.Context, slug string) (*domain.Store, error) {
	return m.getStore(ctx, `SELECT `+storeColumns+` FROM stores WHERE slug = ?`, slug)
}

func (m *SQLAdapter) getStore(ctx context.Context, query string, arg interface{}) (*domain.Store, error) {
	s, err := scanStore(m.db.QueryRowContext(ctx, m.q(query), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	return s, nil
}

func (m *SQLAdapter) ListStoresByOwner(ctx context.Context, ownerID string) ([]domain.Store, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT `+storeColumns+` FROM stores WHERE owner_id = ? ORDER BY created_at, id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Store, 0)
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (m *SQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, m.q(`
		INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.StoreID, p.Name, p.Description, p.Price, p.Stock, p.Published,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (m *SQLAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx, m.q(`
		SELECT `+productColumns+` FROM products WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (m *SQLAdapter) ListProducts(ctx context.Context, storeID string, publishedOnly bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE store_id = ?`
	args := []interface{}{storeID}
	if publishedOnly {
		query += ` AND published = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at, id`

	rows, err := m.db.QueryContext(ctx, m.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (m *SQLAdapter) UpdateProduct(ctx context.Context, p domain.Product) error {
	result, err := m.db.ExecContext(ctx, m.q(`
		UPDATE products
		SET name = ?, description = ?, price = ?, published = ?, updated_at = ?
		WHERE id = ?`),
		p.Name, p.Description, p.Price, p.Published, p.UpdatedAt.UTC(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return m.requireRow(ctx, m.db, result, "products", "product", p.ID)
}

func (m *SQLAdapter) DeleteProduct(ctx context.Context, id string) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		var referenced int
		err := tx.QueryRowContext(ctx, m.q(`SELECT COUNT(*) FROM order_items WHERE product_id = ?`), id).Scan(&referenced)
		if err != nil {
			return fmt.Errorf("count order items: %w", err)
		}
		if referenced > 0 {
			return port.ErrProductInUse
		}

		result, err := tx.ExecContext(ctx, m.q(`DELETE FROM products WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return domain.NewNotFoundError("product", id)
		}
		return nil
	})
}

func (m *SQLAdapter) CreateCustomer(ctx context.Context, c domain.Customer) error {
	_, err := m.db.ExecContext(ctx, m.q(`
		INSERT INTO customers (`+customerColumns+`) VALUES (?, ?, ?, ?, ?)`),
		c.ID, c.StoreID, c.Name, c.Phone, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (m *SQLAdapter) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, m.db, m.dialect, id)
}

func (m *SQLAdapter) ListCustomers(ctx context.Context, storeID string) ([]domain.Customer, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT `+customerColumns+` FROM customers WHERE store_id = ? ORDER BY name, id`), storeID)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (m *SQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, m.db, m.dialect, id)
}

func (m *SQLAdapter) ListOrders(ctx context.Context, storeID string) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT `+orderColumns+` FROM orders WHERE store_id = ? ORDER BY created_at DESC, id DESC`), storeID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	orders := make([]domain.Order, 0)
	index := make(map[string]int)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		index[o.ID] = len(orders)
		orders = append(orders, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	itemRows, err := m.db.QueryContext(ctx, m.q(`
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price
		FROM order_items oi JOIN orders o ON o.id = oi.order_id
		WHERE o.store_id = ? ORDER BY oi.id`), storeID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	return orders, itemRows.Err()
}

func (m *SQLAdapter) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	result, err := m.db.ExecContext(ctx, m.q(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return m.requireRow(ctx, m.db, result, "orders", "order", id)
}

// WithinTx runs fn in a READ COMMITTED transaction. Products are read with
// locking reads, so concurrent orders on the same product serialize on the
// row lock and the second one sees the first one's decrement.
func (m *SQLAdapter) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx, dialect: m.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *SQLAdapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// requireRow turns a zero-row update into NotFound. MySQL reports changed
// rather than matched rows, so a no-op update is confirmed with a lookup.
func (m *SQLAdapter) requireRow(ctx context.Context, q queryer, result sql.Result, table, resource, id string) error {
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}
	var n int
	err := q.QueryRowContext(ctx, m.q(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`), id).Scan(&n)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", resource, err)
	}
	if n == 0 {
		return domain.NewNotFoundError(resource, id)
	}
	return nil
}

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *sqlTx) LockProducts(ctx context.Context, storeID string, productIDs []string) ([]domain.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	// stable lock order across concurrent transactions
	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, storeID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := t.tx.QueryContext(ctx, t.dialect.rebind(`
		SELECT `+productColumns+` FROM products
		WHERE store_id = ? AND id IN (`+placeholders(len(ids))+`)
		ORDER BY id
		FOR UPDATE`), args...)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (t *sqlTx) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, t.tx, t.dialect, id)
}

func (t *sqlTx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, t.tx, t.dialect, id)
}

func (t *sqlTx) InsertOrder(ctx context.Context, o domain.Order) error {
	var customerID interface{}
	if o.CustomerID != nil {
		customerID = *o.CustomerID
	}

	_, err := t.tx.ExecContext(ctx, t.dialect.rebind(`
		INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		o.ID, o.StoreID, customerID, o.CustomerName, o.CustomerPhone, o.Address, o.Notes,
		string(o.Status), o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if len(o.Items) == 0 {
		return nil
	}

	query := `INSERT INTO order_items (` + itemColumns + `) VALUES `
	args := make([]interface{}, 0, len(o.Items)*5)
	for i, item := range o.Items {
		if i > 0 {
			query += `, `
		}
		query += `(?, ?, ?, ?, ?)`
		args = append(args, item.ID, o.ID, item.ProductID, item.Quantity, item.Price)
	}
	if _, err := t.tx.ExecContext(ctx, t.dialect.rebind(query), args...); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

func (t *sqlTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	result, err := t.tx.ExecContext(ctx, t.dialect.rebind(`
		UPDATE products
		SET stock = stock + ?, updated_at = ?
		WHERE id = ? AND stock + ? >= 0`),
		delta, time.Now().UTC(), productID, delta,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var n int
		err := t.tx.QueryRowContext(ctx, t.dialect.rebind(`SELECT COUNT(*) FROM products WHERE id = ?`), productID).Scan(&n)
		if err != nil {
			return fmt.Errorf("confirm product: %w", err)
		}
		if n == 0 {
			return domain.NewNotFoundError("product", productID)
		}
		return port.ErrStockConflict
	}

	return nil
}

func (t *sqlTx) DeleteOrder(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, t.dialect.rebind(`DELETE FROM order_items WHERE order_id = ?`), id); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, t.dialect.rebind(`DELETE FROM orders WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.NewNotFoundError("order", id)
	}
	return nil
}

func getCustomer(ctx context.Context, q queryer, d Dialect, id string) (*domain.Customer, error) {
	c, err := scanCustomer(q.QueryRowContext(ctx, d.rebind(`
		SELECT `+customerColumns+` FROM customers WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	return c, nil
}

func getOrder(ctx context.Context, q queryer, d Dialect, id string) (*domain.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, d.rebind(`
		SELECT `+orderColumns+` FROM orders WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := q.QueryContext(ctx, d.rebind(`
		SELECT `+itemColumns+` FROM order_items WHERE order_id = ? ORDER BY id`), id)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

func scanUser(s rowScanner) (*domain.User, error) {
	var (
		u    domain.User
		chat sql.NullInt64
	)
	if err := s.Scan(&u.ID, &u.Name, &u.Email, &chat, &u.CreatedAt); err != nil {
		return nil, err
	}
	if chat.Valid {
		v := chat.Int64
		u.TelegramChatID = &v
	}
	return &u, nil
}

func scanStore(s rowScanner) (*domain.Store, error) {
	var st domain.Store
	err := s.Scan(&st.ID, &st.OwnerID, &st.Name, &st.Slug, &st.Description, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func scanProduct(s rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := s.Scan(&p.ID, &p.StoreID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Published,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProducts(rows *sql.Rows) ([]domain.Product, error) {
	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanCustomer(s rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	if err := s.Scan(&c.ID, &c.StoreID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanOrder(s rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		customerID sql.NullString
		status     string
	)
	err := s.Scan(&o.ID, &o.StoreID, &customerID, &o.CustomerName, &o.CustomerPhone, &o.Address,
		&o.Notes, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		v := customerID.String
		o.CustomerID = &v
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func scanItem(s rowScanner) (domain.OrderItem, error) {
	var item domain.OrderItem
	err := s.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price)
	return item, err
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
