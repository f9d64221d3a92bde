package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/features/deposit"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/features/ledger/ledgertest"
	"serotonyl.ru/wallet-ledger/internal/httpapi"
	"serotonyl.ru/wallet-ledger/internal/provider/providertest"
)

const testSecret = "router-secret"

func newTestRouter(t *testing.T, health func(context.Context) error) (http.Handler, uuid.UUID) {
	t.Helper()
	store := ledgertest.New()
	userID := uuid.New()
	store.AddWallet(userID, decimal.NewFromInt(42))

	depositHandler := deposit.NewHandler(deposit.NewService(store, providertest.New("whsec"), nil, common.RealClock{}, 30*time.Minute))
	return NewRouter(RouterDeps{
		Verifier:   httpapi.NewJWTVerifier(testSecret),
		Webhooks:   []WebhookRegistrar{depositHandler},
		UserRoutes: []RouteRegistrar{ledger.NewHandler(ledger.NewService(store)), depositHandler},
		Health:     health,
		Timeout:    5 * time.Second,
	}), userID
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ok, _ := newTestRouter(t, func(context.Context) error { return nil })
	if rec := serve(ok, httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}

	down, _ := newTestRouter(t, func(context.Context) error { return errors.New("db down") })
	if rec := serve(down, httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with db down: %d", rec.Code)
	}
}

func TestMetricsExposed(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestUserRoutesRequireToken(t *testing.T) {
	h, userID := newTestRouter(t, nil)

	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token: %d", rec.Code)
	}

	token, err := httpapi.NewJWTVerifier(testSecret).Issue(userID, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := serve(h, req); rec.Code != http.StatusOK {
		t.Fatalf("with token: %d %s", rec.Code, rec.Body)
	}
}

func TestWebhookSkipsJWT(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set(deposit.SignatureHeader, "t=1,v1=bad")
	// подпись неверная, но до проверки JWT дело не доходит
	if rec := serve(h, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body)
	}
}
