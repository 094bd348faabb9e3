package main

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StoreUseCaseInterface define a interface para o use case.
type StoreUseCaseInterface interface {
	CheckoutWithBalance(ctx context.Context, sess *Session, req CheckoutRequest) (*CheckoutResult, error)
	GetOrderDetails(ctx context.Context, sess *Session, orderID string) (*OrderDetails, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, int, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
	DeliverOrder(ctx context.Context, orderID string) (*DeliveryResult, error)
	UploadStock(ctx context.Context, productID string, file io.Reader) (*UploadResult, error)
}

// StoreHandler contém os handlers HTTP da loja.
type StoreHandler struct {
	useCase StoreUseCaseInterface
	tracer  trace.Tracer
}

// NewStoreHandler cria uma nova instância de StoreHandler.
func NewStoreHandler(useCase StoreUseCaseInterface, tracer trace.Tracer) *StoreHandler {
	return &StoreHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

// writeError mapeia os erros de domínio para códigos HTTP.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrPriceMismatch),
		errors.Is(err, ErrTotalMismatch),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Checkout trata o checkout pago com saldo.
func (h *StoreHandler) Checkout(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "checkout_with_balance")
	defer span.End()

	session := sessionFrom(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("user_id", session.UserID),
		attribute.Int("items", len(req.Items)),
		attribute.Int64("total_amount", req.TotalAmount),
	)

	result, err := h.useCase.CheckoutWithBalance(ctx, session, req)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	span.SetAttributes(attribute.String("order_id", result.OrderID))
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"order_id":        result.OrderID,
		"delivery_status": result.DeliveryStatus,
		"delivered_count": result.DeliveredCount,
	})
}

// GetOrder retorna um pedido do usuário autenticado.
func (h *StoreHandler) GetOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_order_details")
	defer span.End()

	session := sessionFrom(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	details, err := h.useCase.GetOrderDetails(ctx, session, orderID)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

// ListOrders lista pedidos para o painel administrativo.
func (h *StoreHandler) ListOrders(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "list_orders")
	defer span.End()

	var query struct {
		Status         string `form:"status"`
		DeliveryStatus string `form:"delivery_status"`
		UserID         string `form:"user_id"`
		Page           int    `form:"page"`
		PageSize       int    `form:"page_size"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orders, total, err := h.useCase.ListOrders(ctx, OrderFilter{
		Status:         query.Status,
		DeliveryStatus: query.DeliveryStatus,
		UserID:         query.UserID,
		Page:           query.Page,
		PageSize:       query.PageSize,
	})
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  total,
	})
}

// UpdateOrderStatus atualiza o status de um pedido (admin).
func (h *StoreHandler) UpdateOrderStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "update_order_status")
	defer span.End()

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID := c.Param("id")
	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", req.Status),
	)

	if err := h.useCase.UpdateOrderStatus(ctx, orderID, req.Status); err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// DeliverOrder dispara o retry manual de entrega (admin).
func (h *StoreHandler) DeliverOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "deliver_order")
	defer span.End()

	var req struct {
		OrderID string `json:"order_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.String("order_id", req.OrderID))

	result, err := h.useCase.DeliverOrder(ctx, req.OrderID)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         result.LogStatus == DeliveryLogSuccess,
		"delivered":       result.Delivered,
		"outstanding":     result.Outstanding,
		"delivery_status": result.DeliveryStatus,
		"message":         result.Message,
	})
}

// UploadStock recebe o multipart com o arquivo de credenciais (admin).
func (h *StoreHandler) UploadStock(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "upload_stock")
	defer span.End()

	productID := c.PostForm("product_id")
	if productID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer file.Close()

	span.SetAttributes(
		attribute.String("product_id", productID),
		attribute.String("file_name", fileHeader.Filename),
	)

	result, err := h.useCase.UploadStock(ctx, productID, file)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HealthCheck verifica a saúde do serviço.
func (h *StoreHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "storefront",
	})
}
