package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tx interface para transações.
type Tx interface {
	Commit() error
	Rollback() error
}

// OrderFilter narrows the admin order listing.
type OrderFilter struct {
	Status         string
	DeliveryStatus string
	UserID         string
	Page           int
	PageSize       int
}

// Repository define a interface para operações de banco de dados da loja.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	// Pessimistic reads (SELECT ... FOR UPDATE) used inside the checkout and
	// retry transactions.
	GetProductForUpdate(ctx context.Context, tx Tx, productID string) (*Product, error)
	GetUserForUpdate(ctx context.Context, tx Tx, userID string) (*User, error)
	GetOrderForUpdate(ctx context.Context, tx Tx, orderID string) (*Order, error)

	CreateOrder(ctx context.Context, tx Tx, order *Order) error
	CreateOrderItems(ctx context.Context, tx Tx, items []OrderItem) error
	GetOrderItems(ctx context.Context, tx Tx, orderID string) ([]OrderItem, error)
	UpdateDeliveryStatus(ctx context.Context, tx Tx, orderID, status string) error
	DebitUserBalance(ctx context.Context, tx Tx, userID string, amount int64) error
	AdjustStockCount(ctx context.Context, tx Tx, productID string, delta int) error
	ClaimStock(ctx context.Context, tx Tx, productID, orderID string, limit int) ([]Stock, error)
	CountClaimedByProduct(ctx context.Context, tx Tx, orderID string) (map[string]int, error)
	InsertDeliveryLog(ctx context.Context, tx Tx, entry *DeliveryLog) error
	ExistingStockContents(ctx context.Context, tx Tx, productID string, contents []string) (map[string]bool, error)
	InsertStocks(ctx context.Context, tx Tx, productID string, contents []string) (int, error)

	// Plain reads and admin mutations outside the fulfillment transactions.
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderStocks(ctx context.Context, orderID string) ([]Stock, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, int, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
	GetUser(ctx context.Context, userID string) (*User, error)
}

// PostgresRepository implementa Repository usando PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) Repository {
	return &PostgresRepository{
		db: db,
	}
}

// PostgresTx implementa a interface Tx.
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// BeginTx inicia uma nova transação.
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

// GetProductForUpdate obtém o produto com lock pessimista (FOR UPDATE).
func (r *PostgresRepository) GetProductForUpdate(ctx context.Context, tx Tx, productID string) (*Product, error) {
	pgTx := tx.(*PostgresTx).tx

	query := `
		SELECT id, name, price, stock_count, published, created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`

	var product Product
	err := pgTx.QueryRow(ctx, query, productID).Scan(
		&product.ID,
		&product.Name,
		&product.Price,
		&product.StockCount,
		&product.Published,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product with lock: %w", err)
	}

	return &product, nil
}

// GetUserForUpdate obtém o usuário com lock pessimista (FOR UPDATE).
func (r *PostgresRepository) GetUserForUpdate(ctx context.Context, tx Tx, userID string) (*User, error) {
	pgTx := tx.(*PostgresTx).tx

	query := `
		SELECT id, email, name, balance, is_admin
		FROM users
		WHERE id = $1
		FOR UPDATE
	`

	var user User
	err := pgTx.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Balance,
		&user.IsAdmin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user with lock: %w", err)
	}

	return &user, nil
}

// GetOrderForUpdate obtém o pedido com lock pessimista (FOR UPDATE).
func (r *PostgresRepository) GetOrderForUpdate(ctx context.Context, tx Tx, orderID string) (*Order, error) {
	pgTx := tx.(*PostgresTx).tx

	query := `
		SELECT id, user_id, total_amount, status, delivery_status, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`

	var order Order
	err := pgTx.QueryRow(ctx, query, orderID).Scan(
		&order.ID,
		&order.UserID,
		&order.TotalAmount,
		&order.Status,
		&order.DeliveryStatus,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order with lock: %w", err)
	}

	return &order, nil
}

// CreateOrder cria um novo pedido no banco de dados.
func (r *PostgresRepository) CreateOrder(ctx context.Context, tx Tx, order *Order) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO orders (id, user_id, total_amount, status, delivery_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.UserID, order.TotalAmount, order.Status, order.DeliveryStatus, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// CreateOrderItems insere os itens do pedido.
func (r *PostgresRepository) CreateOrderItems(ctx context.Context, tx Tx, items []OrderItem) error {
	pgTx := tx.(*PostgresTx).tx

	for _, item := range items {
		_, err := pgTx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.Price)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

// GetOrderItems busca os itens de um pedido dentro da transação.
func (r *PostgresRepository) GetOrderItems(ctx context.Context, tx Tx, orderID string) ([]OrderItem, error) {
	pgTx := tx.(*PostgresTx).tx

	rows, err := pgTx.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, price
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateDeliveryStatus atualiza o status de entrega do pedido.
func (r *PostgresRepository) UpdateDeliveryStatus(ctx context.Context, tx Tx, orderID, status string) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		UPDATE orders
		SET delivery_status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, orderID)
	if err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	return nil
}

// DebitUserBalance debita o valor do saldo do usuário. The balance guard in
// the WHERE clause is a last defense; the use case re-checks under lock.
func (r *PostgresRepository) DebitUserBalance(ctx context.Context, tx Tx, userID string, amount int64) error {
	pgTx := tx.(*PostgresTx).tx

	ct, err := pgTx.Exec(ctx, `
		UPDATE users
		SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
	`, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// AdjustStockCount soma delta ao contador denormalizado de estoque.
func (r *PostgresRepository) AdjustStockCount(ctx context.Context, tx Tx, productID string, delta int) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		UPDATE products
		SET stock_count = stock_count + $1, updated_at = NOW()
		WHERE id = $2
	`, delta, productID)
	if err != nil {
		return fmt.Errorf("failed to adjust stock count: %w", err)
	}
	return nil
}

// ClaimStock marca até limit credenciais não entregues do produto como
// entregues para o pedido. SKIP LOCKED keeps two concurrent checkouts from
// ever selecting the same row; a delivered row is filtered out forever.
func (r *PostgresRepository) ClaimStock(ctx context.Context, tx Tx, productID, orderID string, limit int) ([]Stock, error) {
	pgTx := tx.(*PostgresTx).tx

	query := `
		UPDATE stocks
		SET is_delivered = TRUE, order_id = $2, delivered_at = NOW()
		WHERE id IN (
			SELECT id FROM stocks
			WHERE product_id = $1 AND is_delivered = FALSE
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, product_id, content, is_delivered, order_id, delivered_at, created_at
	`

	rows, err := pgTx.Query(ctx, query, productID, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim stock: %w", err)
	}
	defer rows.Close()

	var claimed []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.ID, &s.ProductID, &s.Content, &s.IsDelivered, &s.OrderID, &s.DeliveredAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claimed stock: %w", err)
		}
		claimed = append(claimed, s)
	}
	return claimed, rows.Err()
}

// CountClaimedByProduct conta, por produto, as credenciais já entregues a um pedido.
func (r *PostgresRepository) CountClaimedByProduct(ctx context.Context, tx Tx, orderID string) (map[string]int, error) {
	pgTx := tx.(*PostgresTx).tx

	rows, err := pgTx.Query(ctx, `
		SELECT product_id, COUNT(*)
		FROM stocks
		WHERE order_id = $1
		GROUP BY product_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to count claimed stock: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var productID string
		var n int
		if err := rows.Scan(&productID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan claimed count: %w", err)
		}
		counts[productID] = n
	}
	return counts, rows.Err()
}

// InsertDeliveryLog insere o registro de auditoria da tentativa de entrega.
func (r *PostgresRepository) InsertDeliveryLog(ctx context.Context, tx Tx, entry *DeliveryLog) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO delivery_logs (id, order_id, status, message, delivered_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.OrderID, entry.Status, entry.Message, entry.DeliveredCount, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert delivery log: %w", err)
	}
	return nil
}

// ExistingStockContents retorna quais conteúdos já existem para o produto.
func (r *PostgresRepository) ExistingStockContents(ctx context.Context, tx Tx, productID string, contents []string) (map[string]bool, error) {
	pgTx := tx.(*PostgresTx).tx

	rows, err := pgTx.Query(ctx, `
		SELECT content FROM stocks
		WHERE product_id = $1 AND content = ANY($2::text[])
	`, productID, contents)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing stock: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan existing stock: %w", err)
		}
		existing[content] = true
	}
	return existing, rows.Err()
}

// InsertStocks insere credenciais não entregues e retorna quantas linhas
// realmente entraram. ON CONFLICT keeps the per-product unique index as the
// final arbiter, so the returned count is exact.
func (r *PostgresRepository) InsertStocks(ctx context.Context, tx Tx, productID string, contents []string) (int, error) {
	pgTx := tx.(*PostgresTx).tx

	inserted := 0
	for _, content := range contents {
		ct, err := pgTx.Exec(ctx, `
			INSERT INTO stocks (id, product_id, content, is_delivered, created_at)
			VALUES (gen_random_uuid(), $1, $2, FALSE, NOW())
			ON CONFLICT (product_id, content) DO NOTHING
		`, productID, content)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert stock: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}
	return inserted, nil
}

// GetOrder busca um pedido pelo ID, com seus itens.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, total_amount, status, delivery_status, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &order.UserID, &order.TotalAmount, &order.Status, &order.DeliveryStatus, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, price
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	return &order, rows.Err()
}

// GetOrderStocks busca as credenciais entregues a um pedido.
func (r *PostgresRepository) GetOrderStocks(ctx context.Context, orderID string) ([]Stock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, product_id, content, is_delivered, order_id, delivered_at, created_at
		FROM stocks
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order stocks: %w", err)
	}
	defer rows.Close()

	var stocks []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.ID, &s.ProductID, &s.Content, &s.IsDelivered, &s.OrderID, &s.DeliveredAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stocks = append(stocks, s)
	}
	return stocks, rows.Err()
}

// orderFilterSQL monta a cláusula WHERE da listagem de pedidos.
func orderFilterSQL(filter OrderFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	add("status", filter.Status)
	add("delivery_status", filter.DeliveryStatus)
	add("user_id", filter.UserID)

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListOrders lista pedidos com filtros e paginação, mais recentes primeiro.
func (r *PostgresRepository) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, int, error) {
	where, args := orderFilterSQL(filter)

	var total int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	limit := filter.PageSize
	offset := (filter.Page - 1) * filter.PageSize
	pageArgs := append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT id, user_id, total_amount, status, delivery_status, created_at, updated_at
		FROM orders%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)

	rows, err := r.db.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var order Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.TotalAmount, &order.Status, &order.DeliveryStatus, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, total, rows.Err()
}

// UpdateOrderStatus atualiza o status de um pedido.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetUser busca um usuário pelo ID.
func (r *PostgresRepository) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	err := r.db.QueryRow(ctx, `
		SELECT id, email, name, balance, is_admin
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &user.Balance, &user.IsAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
