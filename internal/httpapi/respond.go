package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/common"
)

// ErrorResponse: тело ответа с ошибкой.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// AmountRequest: тело запросов на пополнение и вывод.
type AmountRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

// Bind реализует render.Binder.
func (a *AmountRequest) Bind(*http.Request) error {
	if !a.Amount.IsPositive() {
		return common.ErrInvalidAmount
	}
	return nil
}

// JSON отвечает объектом с заданным статусом.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// Message отвечает текстом ошибки.
func Message(w http.ResponseWriter, r *http.Request, status int, msg string) {
	JSON(w, r, status, ErrorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}

// Error отвечает доменной ошибкой. Внутренние ошибки наружу не отдаются.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		log.WithError(err).WithFields(log.Fields{
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("Ошибка обработки запроса")
		Message(w, r, status, "внутренняя ошибка сервера")
		return
	}
	Message(w, r, status, err.Error())
}

// StatusFor сопоставляет доменную ошибку HTTP-статусу.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidSignature),
		errors.Is(err, common.ErrMalformedEvent),
		errors.Is(err, common.ErrInvalidAmount),
		errors.Is(err, common.ErrInsufficientBalance),
		errors.Is(err, common.ErrProviderAccountNotLinked),
		errors.Is(err, common.ErrPayoutsNotEnabled),
		errors.Is(err, common.ErrUnsupportedCurrency):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrWalletNotFound),
		errors.Is(err, common.ErrProfileNotFound),
		errors.Is(err, common.ErrUnknownTransaction),
		errors.Is(err, common.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrIllegalTransition),
		errors.Is(err, common.ErrBalanceMismatch):
		return http.StatusConflict
	case errors.Is(err, common.ErrTransferFailed),
		errors.Is(err, common.ErrCheckoutFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
