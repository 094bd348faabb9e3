package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Domain errors surfaced to the HTTP layer. Validation and resource errors
// abort the whole transaction; nothing below ever turns a paid order into a
// user-visible failure.
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrPriceMismatch       = errors.New("price mismatch")
	ErrTotalMismatch       = errors.New("total amount mismatch")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidStatus       = errors.New("invalid order status")
)

// CheckoutItem é um item do carrinho enviado pelo cliente. Price is the
// price the client saw; it must still match the live product price.
type CheckoutItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	Price     int64  `json:"price" binding:"gte=0"`
}

// CheckoutRequest representa a requisição de checkout com saldo.
type CheckoutRequest struct {
	Items       []CheckoutItem `json:"items" binding:"required,min=1,dive"`
	TotalAmount int64          `json:"total_amount" binding:"required,gt=0"`
}

// CheckoutResult é o resultado de um checkout bem-sucedido.
type CheckoutResult struct {
	OrderID        string `json:"order_id"`
	DeliveryStatus string `json:"delivery_status"`
	DeliveredCount int    `json:"delivered_count"`
}

// DeliveryResult relata uma tentativa manual de entrega.
type DeliveryResult struct {
	OrderID        string `json:"order_id"`
	Delivered      int    `json:"delivered"`
	Outstanding    int    `json:"outstanding"`
	LogStatus      string `json:"log_status"`
	DeliveryStatus string `json:"delivery_status"`
	Message        string `json:"message"`
}

// UploadResult relata uma ingestão de credenciais.
type UploadResult struct {
	Count      int `json:"count"`
	Duplicates int `json:"duplicates"`
}

// OrderDetails é a visão de um pedido com itens e credenciais entregues.
type OrderDetails struct {
	Order
	Stocks []Stock `json:"stocks"`
}

// StoreUseCase contém a lógica de negócio da loja.
type StoreUseCase struct {
	repository      Repository
	mailer          Mailer
	checkoutCounter metric.Int64Counter
	deliveryCounter metric.Int64Counter
	uploadCounter   metric.Int64Counter
}

// NewStoreUseCase cria uma nova instância de StoreUseCase.
func NewStoreUseCase(repository Repository, mailer Mailer) *StoreUseCase {
	meter := otel.Meter("storefront")
	checkoutCounter, _ := meter.Int64Counter("storefront.checkouts",
		metric.WithDescription("Balance checkouts by outcome"))
	deliveryCounter, _ := meter.Int64Counter("storefront.deliveries",
		metric.WithDescription("Credentials delivered, auto and manual"))
	uploadCounter, _ := meter.Int64Counter("storefront.stock_uploads",
		metric.WithDescription("Credentials ingested via upload"))

	return &StoreUseCase{
		repository:      repository,
		mailer:          mailer,
		checkoutCounter: checkoutCounter,
		deliveryCounter: deliveryCounter,
		uploadCounter:   uploadCounter,
	}
}

// CheckoutWithBalance valida o carrinho, debita o saldo, cria o pedido e
// aloca as credenciais, tudo dentro de uma única transação.
func (uc *StoreUseCase) CheckoutWithBalance(ctx context.Context, sess *Session, req CheckoutRequest) (*CheckoutResult, error) {
	log.Printf("➡️ [CHECKOUT] UserID: %s | Items: %d | Total: %d", sess.UserID, len(req.Items), req.TotalAmount)

	// Lock products in a stable order so concurrent checkouts cannot deadlock.
	items := make([]CheckoutItem, len(req.Items))
	copy(items, req.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	// 1. Inicia a transação
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 2. Valida cada produto sob LOCK PESSIMISTA (SELECT FOR UPDATE)
	var total int64
	products := make(map[string]*Product, len(items))
	for _, item := range items {
		product, err := uc.repository.GetProductForUpdate(ctx, tx, item.ProductID)
		if err != nil {
			log.Printf("❌ CHECKOUT FAILED: GetProductForUpdate | ProductID=%s | Error=%v", item.ProductID, err)
			return nil, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		if !product.Published {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, ErrProductNotFound)
		}
		if product.StockCount < item.Quantity {
			return nil, fmt.Errorf("%w: product %q has %d unit(s) left, %d requested",
				ErrInsufficientStock, product.Name, product.StockCount, item.Quantity)
		}
		if product.Price != item.Price {
			return nil, fmt.Errorf("%w: product %q now costs %d, cart has %d",
				ErrPriceMismatch, product.Name, product.Price, item.Price)
		}
		products[item.ProductID] = product
		total += item.Price * int64(item.Quantity)
	}

	// 3. O total declarado precisa bater com os preços vigentes
	if total != req.TotalAmount {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrTotalMismatch, total, req.TotalAmount)
	}

	// 4. Verifica o saldo sob lock
	user, err := uc.repository.GetUserForUpdate(ctx, tx, sess.UserID)
	if err != nil {
		log.Printf("❌ CHECKOUT FAILED: GetUserForUpdate | UserID=%s | Error=%v", sess.UserID, err)
		return nil, err
	}
	if user.Balance < total {
		return nil, fmt.Errorf("%w: balance %d, order total %d", ErrInsufficientBalance, user.Balance, total)
	}

	// 5. Cria o pedido e os itens
	order := NewOrder(user.ID, total)
	order.Complete()
	if err := uc.repository.CreateOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	orderItems := make([]OrderItem, 0, len(items))
	for _, item := range items {
		orderItems = append(orderItems, NewOrderItem(order.ID, item.ProductID, products[item.ProductID].Name, item.Quantity, item.Price))
	}
	if err := uc.repository.CreateOrderItems(ctx, tx, orderItems); err != nil {
		return nil, err
	}

	// 6. Debita o saldo
	if err := uc.repository.DebitUserBalance(ctx, tx, user.ID, total); err != nil {
		log.Printf("❌ CHECKOUT FAILED: DebitUserBalance | UserID=%s | Error=%v", user.ID, err)
		return nil, err
	}

	// 7. Aloca credenciais por item. The counter is adjusted by what was
	// actually claimed so it keeps matching the undelivered rows even if the
	// pool was oversold; payment success is not blocked on full allocation.
	requested := 0
	claimedTotal := 0
	var deliveries []Delivery
	for _, item := range items {
		requested += item.Quantity

		claimed, err := uc.repository.ClaimStock(ctx, tx, item.ProductID, order.ID, item.Quantity)
		if err != nil {
			return nil, err
		}
		if len(claimed) > 0 {
			if err := uc.repository.AdjustStockCount(ctx, tx, item.ProductID, -len(claimed)); err != nil {
				return nil, err
			}
			deliveries = append(deliveries, Delivery{
				ProductName: products[item.ProductID].Name,
				Codes:       stockContents(claimed),
			})
		}
		claimedTotal += len(claimed)
	}

	// 8. Status de entrega e trilha de auditoria
	deliveryStatus := deliveryStatusFor(claimedTotal, requested)
	order.DeliveryStatus = deliveryStatus
	if err := uc.repository.UpdateDeliveryStatus(ctx, tx, order.ID, deliveryStatus); err != nil {
		return nil, err
	}
	if claimedTotal > 0 {
		entry := NewDeliveryLog(order.ID, DeliveryLogSuccess,
			fmt.Sprintf("auto-delivered %d of %d credential(s) at checkout", claimedTotal, requested), claimedTotal)
		if err := uc.repository.InsertDeliveryLog(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	// 9. Commit da transação
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit checkout: %w", err)
	}

	uc.checkoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("delivery_status", deliveryStatus)))
	uc.deliveryCounter.Add(ctx, int64(claimedTotal), metric.WithAttributes(attribute.String("path", "checkout")))
	log.Printf("✅ [CHECKOUT] Success: OrderID=%s | Delivered=%d/%d | Status=%s", order.ID, claimedTotal, requested, deliveryStatus)

	// 10. Notificações fora da transação, nunca bloqueiam a resposta
	uc.notify(user, order.ID, orderItems, deliveries)

	return &CheckoutResult{
		OrderID:        order.ID,
		DeliveryStatus: deliveryStatus,
		DeliveredCount: claimedTotal,
	}, nil
}

// DeliverOrder re-executa a alocação de estoque para um pedido (retry manual).
// A no-op retry on a fully delivered order succeeds without writing a second
// success log; an attempt that delivers nothing writes a failed log and never
// upgrades the delivery status.
func (uc *StoreUseCase) DeliverOrder(ctx context.Context, orderID string) (*DeliveryResult, error) {
	log.Printf("➡️ [DELIVER] OrderID: %s", orderID)

	// 1. Inicia a transação
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 2. Lock do pedido, itens e progresso de entrega
	order, err := uc.repository.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := uc.repository.GetOrderItems(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	claimedBefore, err := uc.repository.CountClaimedByProduct(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	alreadyDelivered := 0
	outstanding := 0
	for _, item := range items {
		alreadyDelivered += claimedBefore[item.ProductID]
		if missing := item.Quantity - claimedBefore[item.ProductID]; missing > 0 {
			outstanding += missing
		}
	}

	// 3. Nada pendente: no-op idempotente
	if outstanding == 0 {
		log.Printf("ℹ️ [DELIVER] Nothing outstanding for OrderID=%s", orderID)
		return &DeliveryResult{
			OrderID:        orderID,
			LogStatus:      DeliveryLogSuccess,
			DeliveryStatus: order.DeliveryStatus,
			Message:        "all items already delivered",
		}, nil
	}

	// 4. Tenta alocar o restante de cada item
	claimedNow := 0
	var deliveries []Delivery
	for _, item := range items {
		missing := item.Quantity - claimedBefore[item.ProductID]
		if missing <= 0 {
			continue
		}
		claimed, err := uc.repository.ClaimStock(ctx, tx, item.ProductID, orderID, missing)
		if err != nil {
			return nil, err
		}
		if len(claimed) == 0 {
			continue
		}
		if err := uc.repository.AdjustStockCount(ctx, tx, item.ProductID, -len(claimed)); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, Delivery{
			ProductName: item.ProductName,
			Codes:       stockContents(claimed),
		})
		claimedNow += len(claimed)
	}

	result := &DeliveryResult{
		OrderID:     orderID,
		Delivered:   claimedNow,
		Outstanding: outstanding - claimedNow,
	}

	// 5. Trilha de auditoria e status de entrega
	if claimedNow == 0 {
		entry := NewDeliveryLog(orderID, DeliveryLogFailed,
			fmt.Sprintf("no stock available, %d credential(s) still outstanding", outstanding), 0)
		if err := uc.repository.InsertDeliveryLog(ctx, tx, entry); err != nil {
			return nil, err
		}
		result.LogStatus = DeliveryLogFailed
		result.Message = entry.Message
		result.DeliveryStatus = order.DeliveryStatus
		// Only an order that never delivered anything is marked failed; a
		// partial order keeps its status.
		if alreadyDelivered == 0 && order.DeliveryStatus != DeliveryStatusFailed {
			if err := uc.repository.UpdateDeliveryStatus(ctx, tx, orderID, DeliveryStatusFailed); err != nil {
				return nil, err
			}
			result.DeliveryStatus = DeliveryStatusFailed
		}
	} else {
		deliveryStatus := DeliveryStatusPartial
		if result.Outstanding == 0 {
			deliveryStatus = DeliveryStatusDelivered
		}
		if err := uc.repository.UpdateDeliveryStatus(ctx, tx, orderID, deliveryStatus); err != nil {
			return nil, err
		}
		entry := NewDeliveryLog(orderID, DeliveryLogSuccess,
			fmt.Sprintf("manually delivered %d credential(s)", claimedNow), claimedNow)
		if err := uc.repository.InsertDeliveryLog(ctx, tx, entry); err != nil {
			return nil, err
		}
		result.LogStatus = DeliveryLogSuccess
		result.Message = entry.Message
		result.DeliveryStatus = deliveryStatus
	}

	// 6. Commit da transação
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delivery: %w", err)
	}

	uc.deliveryCounter.Add(ctx, int64(claimedNow), metric.WithAttributes(attribute.String("path", "manual")))
	log.Printf("✅ [DELIVER] OrderID=%s | Delivered=%d | Log=%s", orderID, claimedNow, result.LogStatus)

	if claimedNow > 0 {
		uc.notifyDeliveredLater(order.UserID, orderID, deliveries)
	}
	return result, nil
}

// UploadStock ingere credenciais em massa para um produto.
func (uc *StoreUseCase) UploadStock(ctx context.Context, productID string, file io.Reader) (*UploadResult, error) {
	lines, fileDupes, err := ParseStockLines(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stock file: %w", err)
	}
	if len(lines) == 0 {
		return &UploadResult{Count: 0, Duplicates: fileDupes}, nil
	}

	// 1. Inicia a transação
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 2. Lock do produto: o contador e as linhas mudam juntos
	if _, err := uc.repository.GetProductForUpdate(ctx, tx, productID); err != nil {
		return nil, err
	}

	// 3. Remove credenciais que já existem para este produto
	existing, err := uc.repository.ExistingStockContents(ctx, tx, productID, lines)
	if err != nil {
		return nil, err
	}
	fresh := make([]string, 0, len(lines))
	for _, line := range lines {
		if existing[line] {
			continue
		}
		fresh = append(fresh, line)
	}
	duplicates := fileDupes + (len(lines) - len(fresh))

	// 4. Insere e incrementa o contador exatamente pelo que entrou
	inserted := 0
	if len(fresh) > 0 {
		inserted, err = uc.repository.InsertStocks(ctx, tx, productID, fresh)
		if err != nil {
			return nil, err
		}
		duplicates += len(fresh) - inserted
		if inserted > 0 {
			if err := uc.repository.AdjustStockCount(ctx, tx, productID, inserted); err != nil {
				return nil, err
			}
		}
	}

	// 5. Commit da transação
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stock upload: %w", err)
	}

	uc.uploadCounter.Add(ctx, int64(inserted))
	log.Printf("✅ [STOCK UPLOAD] ProductID=%s | Inserted=%d | Duplicates=%d", productID, inserted, duplicates)
	return &UploadResult{Count: inserted, Duplicates: duplicates}, nil
}

// GetOrderDetails busca um pedido com itens e credenciais, restrito ao dono
// (admins podem ler qualquer pedido).
func (uc *StoreUseCase) GetOrderDetails(ctx context.Context, sess *Session, orderID string) (*OrderDetails, error) {
	order, err := uc.repository.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !sess.IsAdmin && order.UserID != sess.UserID {
		return nil, ErrOrderNotFound
	}

	stocks, err := uc.repository.GetOrderStocks(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderDetails{Order: *order, Stocks: stocks}, nil
}

// ListOrders lista pedidos para o painel administrativo.
func (uc *StoreUseCase) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	return uc.repository.ListOrders(ctx, filter)
}

// UpdateOrderStatus atualiza o status administrativo de um pedido.
func (uc *StoreUseCase) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	if !ValidOrderStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return uc.repository.UpdateOrderStatus(ctx, orderID, status)
}

// notify envia confirmação (sempre) e credenciais (se algo foi alocado) em
// fire-and-forget. Falhas de e-mail são registradas e nunca propagadas.
func (uc *StoreUseCase) notify(user *User, orderID string, items []OrderItem, deliveries []Delivery) {
	lines := make([]OrderItemLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderItemLine{ProductName: item.ProductName, Quantity: item.Quantity, Price: item.Price})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := uc.mailer.SendOrderConfirmation(ctx, user.Email, user.Name, orderID, lines); err != nil {
			log.Printf("⚠️ [MAIL] Confirmation failed for OrderID=%s: %v", orderID, err)
		}
		if len(deliveries) > 0 {
			if err := uc.mailer.SendOrderDelivered(ctx, user.Email, user.Name, orderID, deliveries); err != nil {
				log.Printf("⚠️ [MAIL] Delivery notice failed for OrderID=%s: %v", orderID, err)
			}
		}
	}()
}

// notifyDeliveredLater resolve o destinatário e envia o aviso de entrega do
// caminho manual, fora da transação.
func (uc *StoreUseCase) notifyDeliveredLater(userID, orderID string, deliveries []Delivery) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		user, err := uc.repository.GetUser(ctx, userID)
		if err != nil {
			log.Printf("⚠️ [MAIL] Could not resolve recipient for OrderID=%s: %v", orderID, err)
			return
		}
		if err := uc.mailer.SendOrderDelivered(ctx, user.Email, user.Name, orderID, deliveries); err != nil {
			log.Printf("⚠️ [MAIL] Delivery notice failed for OrderID=%s: %v", orderID, err)
		}
	}()
}

func stockContents(stocks []Stock) []string {
	codes := make([]string, 0, len(stocks))
	for _, s := range stocks {
		codes = append(codes, s.Content)
	}
	return codes
}
