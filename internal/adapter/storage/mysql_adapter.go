package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	mysqlDuplicateEntry = 1062

	productColumns = `id, seller_id, name, description, category, brand, image, price, stock, active, created_at, updated_at`
	orderColumns   = `id, buyer_id, total_price, status, shipping_address, created_at, updated_at, delivered_at`
	accountColumns = `id, role, name, login, address, password_hash, created_at`
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Description, &p.Category, &p.Brand, &p.Image,
		&p.Price, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}

func (m *MySQLAdapter) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (m *MySQLAdapter) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (m *MySQLAdapter) FindProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return m.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE id IN (`+placeholders(len(ids))+`)`, args...)
}

func (m *MySQLAdapter) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "active = TRUE")
	}
	if filter.SellerID != "" {
		where = append(where, "seller_id = ?")
		args = append(args, filter.SellerID)
	}
	if filter.Category != "" {
		where = append(where, "LOWER(category) LIKE ?")
		args = append(args, likePattern(filter.Category))
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return m.queryProducts(ctx, query, args...)
}

func (m *MySQLAdapter) SearchProducts(ctx context.Context, term string, limit int) ([]domain.Product, error) {
	pattern := likePattern(term)
	return m.queryProducts(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE active = TRUE
		  AND (LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(category) LIKE ?)
		ORDER BY name
		LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
}

func (m *MySQLAdapter) InsertProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SellerID, p.Name, p.Description, p.Category, p.Brand, p.Image,
		p.Price, p.Stock, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// UpdateSellerProducts bumps version on every matched row so RowsAffected
// counts matches even when the patched values are unchanged.
func (m *MySQLAdapter) UpdateSellerProducts(ctx context.Context, sellerID string, ids []string, patch domain.ProductPatch) (int64, error) {
	if len(ids) == 0 || patch.IsEmpty() {
		return 0, nil
	}

	var (
		set  []string
		args []any
	)
	add := func(column string, value any) {
		set = append(set, column+" = ?")
		args = append(args, value)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.Brand != nil {
		add("brand", *patch.Brand)
	}
	if patch.Image != nil {
		add("image", *patch.Image)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Stock != nil {
		add("stock", *patch.Stock)
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	add("updated_at", time.Now())

	args = append(args, sellerID)
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET `+strings.Join(set, ", ")+`, version = version + 1
		WHERE seller_id = ? AND id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("update products: %w", err)
	}
	return result.RowsAffected()
}

func (m *MySQLAdapter) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, version = version + 1, updated_at = NOW(3)
		WHERE id = ? AND stock >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (m *MySQLAdapter) IncrementStock(ctx context.Context, productID string, quantity int) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, version = version + 1, updated_at = NOW(3)
		WHERE id = ?`,
		quantity, productID,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (m *MySQLAdapter) FindCart(ctx context.Context, buyerID string) (*domain.Cart, error) {
	cart := domain.Cart{BuyerID: buyerID, Items: []domain.CartItem{}}
	err := m.db.QueryRowContext(ctx,
		`SELECT updated_at FROM carts WHERE buyer_id = ?`, buyerID,
	).Scan(&cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, quantity FROM cart_items
		WHERE buyer_id = ? ORDER BY position`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	return &cart, rows.Err()
}

func (m *MySQLAdapter) SaveCart(ctx context.Context, cart domain.Cart) error {
	return m.writeCart(ctx, cart.BuyerID, cart.Items, cart.UpdatedAt)
}

func (m *MySQLAdapter) ClearCart(ctx context.Context, buyerID string) error {
	return m.writeCart(ctx, buyerID, nil, time.Now())
}

func (m *MySQLAdapter) writeCart(ctx context.Context, buyerID string, items []domain.CartItem, updatedAt time.Time) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO carts (buyer_id, updated_at) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`,
		buyerID, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE buyer_id = ?`, buyerID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}

	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (buyer_id, product_id, quantity, position)
			VALUES (?, ?, ?, ?)`,
			buyerID, item.ProductID, item.Quantity, i,
		)
		if err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLAdapter) InsertOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.BuyerID, order.TotalPrice, order.Status, order.ShippingAddress,
		order.CreatedAt, order.UpdatedAt, order.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line, product_id, seller_id, name, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			order.ID, i, item.ProductID, item.SellerID, item.Name, item.Quantity, item.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o         domain.Order
		delivered sql.NullTime
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.TotalPrice, &o.Status, &o.ShippingAddress,
		&o.CreatedAt, &o.UpdatedAt, &delivered)
	if err != nil {
		return nil, err
	}
	if delivered.Valid {
		o.DeliveredAt = &delivered.Time
	}
	o.Items = []domain.OrderItem{}
	return &o, nil
}

func (m *MySQLAdapter) FindOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(m.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	orders := []domain.Order{*order}
	if err := m.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (m *MySQLAdapter) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return m.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = ?
		ORDER BY created_at DESC`, buyerID)
}

func (m *MySQLAdapter) ListOrdersBySeller(ctx context.Context, sellerID string) ([]domain.Order, error) {
	return m.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE id IN (SELECT order_id FROM order_items WHERE seller_id = ?)
		ORDER BY created_at DESC`, sellerID)
}

func (m *MySQLAdapter) ListRecentOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	return m.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		ORDER BY created_at DESC
		LIMIT ?`, limit)
}

func (m *MySQLAdapter) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := m.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads the lines of all orders with one query.
func (m *MySQLAdapter) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[string]int, len(orders))
	args := make([]any, len(orders))
	for i, o := range orders {
		index[o.ID] = i
		args[i] = o.ID
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT order_id, product_id, seller_id, name, quantity, unit_price
		FROM order_items
		WHERE order_id IN (`+placeholders(len(orders))+`)
		ORDER BY order_id, line`, args...)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.SellerID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return rows.Err()
}

func (m *MySQLAdapter) UpdateOrderStatus(ctx context.Context, change domain.StatusChange) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, updated_at = ?, delivered_at = COALESCE(?, delivered_at)
		WHERE id = ? AND status = ?`,
		change.To, change.At, change.DeliveredAt, change.OrderID, change.From,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Role, &a.Name, &a.Login, &a.Address, &a.PasswordHash, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (m *MySQLAdapter) FindAccount(ctx context.Context, id string) (*domain.Account, error) {
	a, err := scanAccount(m.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

func (m *MySQLAdapter) FindAccountByLogin(ctx context.Context, role domain.Role, login string) (*domain.Account, error) {
	a, err := scanAccount(m.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE role = ? AND login = ?`, role, login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

func (m *MySQLAdapter) InsertAccount(ctx context.Context, a domain.Account) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Role, a.Name, a.Login, a.Address, a.PasswordHash, a.CreatedAt,
	)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return domain.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}
