// Package withdrawal: handlers.go содержит HTTP-обработчик вывода.
package withdrawal

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/httpapi"
)

// Handler обрабатывает HTTP-запросы выводов.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes вешает маршруты (под JWT).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/wallet/withdrawals", h.HandleWithdraw)
}

// HandleWithdraw: POST /wallet/withdrawals {amount, currency}.
// 201: вывод выполнен, 400, предусловия, 404, нет кошелька, 502, отказ провайдера.
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
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

	tx, err := h.service.Withdraw(r.Context(), userID, req.Amount, req.Currency)
	if err != nil {
		httpapi.Error(w, r, err)
		return
	}
	httpapi.JSON(w, r, http.StatusCreated, tx)
}
