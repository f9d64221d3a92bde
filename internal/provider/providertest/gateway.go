// Package providertest: поддельный платёжный шлюз для тестов сервисов.
// Вебхуки подписываются HMAC-SHA256 от тела, событие передаётся как JSON WebhookEvent.
package providertest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/provider"
)

// Gateway реализует provider.Gateway в памяти.
type Gateway struct {
	Secret string

	mu        sync.Mutex
	checkouts []provider.CheckoutRequest
	transfers []provider.TransferRequest
	seq       int

	CheckoutErr error // ошибка создания сессии
	TransferErr error // ошибка перевода (например, отказ провайдера)
}

// New создаёт шлюз с секретом вебхуков.
func New(secret string) *Gateway {
	return &Gateway{Secret: secret}
}

func (g *Gateway) CreateCheckoutSession(_ context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, req)
	if g.CheckoutErr != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCheckoutFailed, g.CheckoutErr)
	}
	g.seq++
	id := fmt.Sprintf("cs_test_%d", g.seq)
	return &provider.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (g *Gateway) CreateTransfer(_ context.Context, req provider.TransferRequest) (*provider.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers = append(g.transfers, req)
	if g.TransferErr != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTransferFailed, g.TransferErr)
	}
	g.seq++
	return &provider.Transfer{ID: fmt.Sprintf("tr_test_%d", g.seq), Status: "completed"}, nil
}

func (g *Gateway) ParseWebhook(payload []byte, signature string) (*provider.WebhookEvent, error) {
	if !hmac.Equal([]byte(signature), []byte(g.Sign(payload))) {
		return nil, common.ErrInvalidSignature
	}
	var ev provider.WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
	}
	return &ev, nil
}

// Sign подписывает тело вебхука.
func (g *Gateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Event сериализует событие и возвращает тело и подпись.
func (g *Gateway) Event(ev provider.WebhookEvent) ([]byte, string) {
	payload, _ := json.Marshal(ev)
	return payload, g.Sign(payload)
}

// Checkouts возвращает запросы на создание сессий.
func (g *Gateway) Checkouts() []provider.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]provider.CheckoutRequest(nil), g.checkouts...)
}

// Transfers возвращает запросы на переводы.
func (g *Gateway) Transfers() []provider.TransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]provider.TransferRequest(nil), g.transfers...)
}
