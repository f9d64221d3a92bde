package withdrawal_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"serotonyl.ru/wallet-ledger/internal/features/withdrawal"
	"serotonyl.ru/wallet-ledger/internal/httpapi"
)

func TestWithdrawHandlerStatusCodes(t *testing.T) {
	f := newFixture()
	userID := f.payee("100")

	r := chi.NewRouter()
	withdrawal.NewHandler(f.svc).RegisterRoutes(r)

	send := func(user uuid.UUID, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/wallet/withdrawals", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req = req.WithContext(httpapi.WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(userID, `{"amount":"10"}`); code != http.StatusCreated {
		t.Fatalf("success: %d", code)
	}
	if code := send(userID, `{"amount":"1000"}`); code != http.StatusBadRequest {
		t.Fatalf("overdraft: %d", code)
	}
	if code := send(uuid.New(), `{"amount":"10"}`); code != http.StatusNotFound {
		t.Fatalf("no wallet: %d", code)
	}

	f.gateway.TransferErr = errors.New("account restricted")
	if code := send(userID, `{"amount":"10"}`); code != http.StatusBadGateway {
		t.Fatalf("transfer failure: %d", code)
	}
}
