package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/swapmeet/internal/apperr"
	"github.com/dukerupert/swapmeet/internal/auth"
	"github.com/dukerupert/swapmeet/internal/store"
)

type ProductHandler struct {
	store  *store.ProductStore
	logger *slog.Logger
}

func NewProductHandler(s *store.ProductStore, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{store: s, logger: logger}
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeMessage(w, http.StatusBadRequest, "title is required")
		return
	}
	if !req.Price.IsPositive() {
		writeMessage(w, http.StatusBadRequest, "price must be greater than zero")
		return
	}

	p, err := h.store.Create(auth.UserID(r.Context()), req.Title, strings.TrimSpace(req.Description), req.Price)
	if err != nil {
		writeError(w, h.logger, apperr.Internal(err))
		return
	}

	h.logger.Info("product created", "product_id", p.ID, "seller_id", p.SellerID)
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetByID(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, apperr.Internal(err))
		return
	}
	if p == nil {
		writeError(w, h.logger, apperr.NotFound("product not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
