// Package stripe: адаптер платёжного шлюза поверх stripe-go:
// checkout-сессии для пополнений, Connect-переводы для выводов и проверка вебхуков.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/provider"
)

// checkoutProductName: название позиции в checkout.
const checkoutProductName = "Пополнение кошелька"

// Gateway реализует provider.Gateway.
type Gateway struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

// Options: настройки адаптера.
type Options struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// New создаёт адаптер Stripe.
func New(opts Options) *Gateway {
	return &Gateway{
		api:           client.New(opts.SecretKey, nil),
		webhookSecret: opts.WebhookSecret,
		successURL:    opts.SuccessURL,
		cancelURL:     opts.CancelURL,
	}
}

// CreateCheckoutSession создаёт checkout-сессию на одну позицию.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	params := &stripeapi.CheckoutSessionParams{
		Mode:       stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL: stripeapi.String(g.successURL),
		CancelURL:  stripeapi.String(g.cancelURL),
		ExpiresAt:  stripeapi.Int64(req.ExpiresAt.Unix()),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{{
			Quantity: stripeapi.Int64(1),
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripeapi.String(common.ResolveCurrency(req.Currency)),
				UnitAmount: stripeapi.Int64(common.ToMinorUnits(req.Amount)),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String(checkoutProductName),
				},
			},
		}},
	}
	if id, ok := req.Metadata[provider.MetaTransactionID]; ok {
		params.ClientReferenceID = stripeapi.String(id)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrCheckoutFailed, errorMessage(err))
	}
	return &provider.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// CreateTransfer переводит средства на подключённый аккаунт.
// Ключ идемпотентности защищает от двойной выплаты при повторе запроса.
func (g *Gateway) CreateTransfer(ctx context.Context, req provider.TransferRequest) (*provider.Transfer, error) {
	params := &stripeapi.TransferParams{
		Amount:      stripeapi.Int64(common.ToMinorUnits(req.Amount)),
		Currency:    stripeapi.String(common.ResolveCurrency(req.Currency)),
		Destination: stripeapi.String(req.Destination),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	t, err := g.api.Transfers.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrTransferFailed, errorMessage(err))
	}

	status := "completed"
	if t.Reversed {
		status = "reversed"
	}
	return &provider.Transfer{ID: t.ID, Status: status}, nil
}

// ParseWebhook проверяет подпись Stripe-Signature и разбирает checkout-сессию.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (*provider.WebhookEvent, error) {
	return parseWebhook(payload, signature, g.webhookSecret)
}

func parseWebhook(payload []byte, signature, secret string) (*provider.WebhookEvent, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: нет заголовка Stripe-Signature", common.ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)
	}

	out := &provider.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case provider.EventCheckoutCompleted, provider.EventCheckoutAsyncSucceeded, provider.EventCheckoutExpired,
		provider.EventCheckoutAsyncFailed:
		var session stripeapi.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
		}
		out.SessionID = session.ID
		out.PaymentStatus = string(session.PaymentStatus)
		out.Metadata = session.Metadata
	default:
		log.WithFields(log.Fields{
			"event_id":   event.ID,
			"event_type": out.Type,
		}).Debug("Событие Stripe без checkout-сессии")
	}
	return out, nil
}

// errorMessage достаёт человекочитаемый текст из ошибки Stripe.
func errorMessage(err error) string {
	var se *stripeapi.Error
	if errors.As(err, &se) && se.Msg != "" {
		return se.Msg
	}
	return err.Error()
}
