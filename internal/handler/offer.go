package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/swapmeet/internal/auth"
	"github.com/dukerupert/swapmeet/internal/model"
	"github.com/dukerupert/swapmeet/internal/offer"
	"github.com/dukerupert/swapmeet/internal/store"
	ws "github.com/dukerupert/swapmeet/internal/websocket"
)

// Notifier pushes real-time messages to a user's open connections.
type Notifier interface {
	SendTo(userID string, msg ws.Message)
}

type OfferHandler struct {
	offers   *offer.Engine
	products *store.ProductStore
	notifier Notifier
	logger   *slog.Logger
}

func NewOfferHandler(offers *offer.Engine, products *store.ProductStore, notifier Notifier, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{
		offers:   offers,
		products: products,
		notifier: notifier,
		logger:   logger,
	}
}

func (h *OfferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID     string          `json:"product_id"`
		CounterAmount decimal.Decimal `json:"counter_amount"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProductID == "" {
		writeMessage(w, http.StatusBadRequest, "product_id is required")
		return
	}

	o, err := h.offers.Create(req.ProductID, auth.UserID(r.Context()), req.CounterAmount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.notifySeller(o, "created")
	writeJSON(w, http.StatusCreated, o)
}

func (h *OfferHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	o, err := h.offers.Withdraw(r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.notifySeller(o, "withdrawn")
	writeJSON(w, http.StatusOK, o)
}

func (h *OfferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	o, rejected, err := h.offers.Accept(r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.notifyBuyer(o, "approved")
	for i := range rejected {
		h.notifyBuyer(&rejected[i], "rejected")
	}
	if rejected == nil {
		rejected = []model.Offer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"offer":    o,
		"rejected": rejected,
	})
}

func (h *OfferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	o, err := h.offers.Reject(r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.notifyBuyer(o, "rejected")
	writeJSON(w, http.StatusOK, o)
}

func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.offers.Get(r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListMine returns the caller's offers as a buyer.
func (h *OfferHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offers.ListForBuyer(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

// ListForProduct returns all offers on a product to its seller.
func (h *OfferHandler) ListForProduct(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offers.ListForProduct(r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

func (h *OfferHandler) notifyBuyer(o *model.Offer, action string) {
	h.notifier.SendTo(o.BuyerID, offerMessage(o, action))
}

func (h *OfferHandler) notifySeller(o *model.Offer, action string) {
	p, err := h.products.GetByID(o.ProductID)
	if err != nil {
		h.logger.Error("lookup product for notification", "error", err, "offer_id", o.ID)
		return
	}
	if p == nil {
		return
	}
	h.notifier.SendTo(p.SellerID, offerMessage(o, action))
}

func offerMessage(o *model.Offer, action string) ws.Message {
	return ws.NewMessage("offer", action, o.ID, map[string]any{
		"product_id":     o.ProductID,
		"status":         string(o.Status),
		"counter_amount": o.CounterAmount.String(),
	})
}
