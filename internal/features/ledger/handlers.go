// Package ledger: handlers.go содержит HTTP-обработчики чтения кошелька.
package ledger

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/wallet-ledger/internal/httpapi"
)

// Handler отдаёт сводку и историю кошелька.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes вешает маршруты (под JWT).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/wallet", h.HandleSummary)
	r.Get("/wallet/transactions", h.HandleHistory)
}

// HandleSummary: GET /wallet.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpapi.UserIDFromContext(r.Context())
	if !ok {
		httpapi.Message(w, r, http.StatusUnauthorized, "нужна авторизация")
		return
	}
	summary, err := h.service.Summary(r.Context(), userID)
	if err != nil {
		httpapi.Error(w, r, err)
		return
	}
	httpapi.JSON(w, r, http.StatusOK, summary)
}

// HandleHistory: GET /wallet/transactions?type=&status=&limit=&offset=.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpapi.UserIDFromContext(r.Context())
	if !ok {
		httpapi.Message(w, r, http.StatusUnauthorized, "нужна авторизация")
		return
	}

	f, err := parseFilter(r)
	if err != nil {
		httpapi.Message(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.service.History(r.Context(), userID, f)
	if err != nil {
		httpapi.Error(w, r, err)
		return
	}
	httpapi.JSON(w, r, http.StatusOK, page)
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter

	if v := q.Get("type"); v != "" {
		t, err := ParseType(v)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	if v := q.Get("status"); v != "" {
		s, err := ParseStatus(v)
		if err != nil {
			return f, err
		}
		f.Status = s
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errBadPaging(key)
		}
		*dst = n
	}
	return f, nil
}

type errBadPaging string

func (e errBadPaging) Error() string {
	return "некорректный параметр " + string(e)
}
