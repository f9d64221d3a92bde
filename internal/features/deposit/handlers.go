// Package deposit: handlers.go содержит HTTP-обработчики:
// вебхук провайдера (без JWT) и создание пополнения пользователем.
package deposit

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/httpapi"
)

// maxWebhookBody: предел размера тела вебхука.
const maxWebhookBody = 1 << 20

// SignatureHeader: заголовок с подписью вебхука Stripe.
const SignatureHeader = "Stripe-Signature"

// Handler обрабатывает HTTP-запросы пополнений.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterWebhook вешает вебхук провайдера.
func (h *Handler) RegisterWebhook(r chi.Router) {
	r.Post("/webhooks/stripe", h.HandleWebhook)
}

// RegisterRoutes вешает пользовательские маршруты (под JWT).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/wallet/deposits", h.HandleCreate)
}

// HandleWebhook: POST /webhooks/stripe.
// 200: обработано или уже было обработано (тело одинаковое),
// 400: подпись или формат, 404: неизвестная транзакция,
// 500: сбой хранилища (провайдер повторит доставку).
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httpapi.Message(w, r, http.StatusBadRequest, "не удалось прочитать тело запроса")
		return
	}

	res, err := h.service.ConfirmDeposit(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		httpapi.Error(w, r, err)
		return
	}
	log.WithFields(log.Fields{
		"event_id":   res.EventID,
		"event_type": res.EventType,
		"action":     res.Action,
	}).Debug("Вебхук обработан")
	httpapi.JSON(w, r, http.StatusOK, map[string]any{"received": true})
}

// HandleCreate: POST /wallet/deposits {amount, currency}.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpapi.UserIDFromContext(r.Context())
	if !ok {
		httpapi.Message(w, r, http.StatusUnauthorized, "нужна авторизация")
		return
	}

	var req httpapi.AmountRequest
	if err := render.Bind(r, &req); err != nil {
		httpapi.Message(w, r, http.StatusBadRequest, common.ErrInvalidAmount.Error())
		return
	}

	checkout, err := h.service.InitiateDeposit(r.Context(), userID, req.Amount, req.Currency)
	if err != nil {
		httpapi.Error(w, r, err)
		return
	}
	httpapi.JSON(w, r, http.StatusCreated, checkout)
}
