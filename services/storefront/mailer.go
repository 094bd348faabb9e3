package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// OrderItemLine é uma linha de pedido em um e-mail de confirmação.
type OrderItemLine struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

// Delivery agrupa as credenciais entregues de um produto para o e-mail de
// entrega.
type Delivery struct {
	ProductName string   `json:"product_name"`
	Codes       []string `json:"codes"`
}

// Mailer abstrai o provedor de e-mail transacional. Callers treat every send
// as best effort: errors are logged, never propagated to the buyer.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, toEmail, toName, orderID string, items []OrderItemLine) error
	SendOrderDelivered(ctx context.Context, toEmail, toName, orderID string, deliveries []Delivery) error
}

// Mail templates handled by the provider.
const (
	mailTemplateOrderConfirmation = "order-confirmation"
	mailTemplateOrderDelivered    = "order-delivered"
)

// HTTPMailer implementa Mailer chamando a API HTTP do provedor de e-mail.
type HTTPMailer struct {
	client *resty.Client
}

// NewHTTPMailer cria uma nova instância de HTTPMailer.
func NewHTTPMailer(baseURL, apiKey string) *HTTPMailer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)

	return &HTTPMailer{client: client}
}

type mailRecipient struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type mailRequest struct {
	Template string                 `json:"template"`
	To       mailRecipient          `json:"to"`
	Data     map[string]interface{} `json:"data"`
}

// SendOrderConfirmation envia o e-mail de confirmação do pedido.
func (m *HTTPMailer) SendOrderConfirmation(ctx context.Context, toEmail, toName, orderID string, items []OrderItemLine) error {
	return m.send(ctx, mailRequest{
		Template: mailTemplateOrderConfirmation,
		To:       mailRecipient{Email: toEmail, Name: toName},
		Data: map[string]interface{}{
			"order_id": orderID,
			"items":    items,
		},
	})
}

// SendOrderDelivered envia o e-mail com os nomes dos produtos e as
// credenciais entregues.
func (m *HTTPMailer) SendOrderDelivered(ctx context.Context, toEmail, toName, orderID string, deliveries []Delivery) error {
	return m.send(ctx, mailRequest{
		Template: mailTemplateOrderDelivered,
		To:       mailRecipient{Email: toEmail, Name: toName},
		Data: map[string]interface{}{
			"order_id":   orderID,
			"deliveries": deliveries,
		},
	})
}

func (m *HTTPMailer) send(ctx context.Context, req mailRequest) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/api/v1/send")
	if err != nil {
		return fmt.Errorf("mail provider unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail provider returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
