// Package offer implements the offer lifecycle: buyers make counter offers on
// products, sellers accept or reject them, buyers may withdraw them.
//
//	PENDING -> APPROVED | REJECTED | WITHDRAWN
//
// All three target states are terminal. Accepting an offer rejects every
// other pending offer on the same product atomically.
package offer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/swapmeet/internal/apperr"
	"github.com/dukerupert/swapmeet/internal/model"
	"github.com/dukerupert/swapmeet/internal/store"
)

// OfferStore is satisfied by *store.OfferStore.
type OfferStore interface {
	Create(productID, buyerID string, amount decimal.Decimal, createdAt time.Time) (*model.Offer, error)
	GetByID(id string) (*model.Offer, error)
	Transition(id string, to model.OfferStatus, at time.Time) (*model.Offer, error)
	Accept(id string, at time.Time) (*model.Offer, []model.Offer, error)
	ListByProduct(productID string) ([]model.Offer, error)
	ListByBuyer(buyerID string) ([]model.Offer, error)
}

// ProductStore is satisfied by *store.ProductStore.
type ProductStore interface {
	GetByID(id string) (*model.Product, error)
}

type Engine struct {
	offers   OfferStore
	products ProductStore
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(offers OfferStore, products ProductStore, opts ...Option) *Engine {
	e := &Engine{
		offers:   offers,
		products: products,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "offer")
	return e
}

// Create records a PENDING offer from buyerID on productID. A buyer may hold
// only one pending offer per product; a second one is a conflict.
func (e *Engine) Create(productID, buyerID string, amount decimal.Decimal) (*model.Offer, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("counter amount must be greater than zero")
	}

	product, err := e.products.GetByID(productID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if product == nil {
		return nil, apperr.NotFound("product not found")
	}
	if product.SellerID == buyerID {
		return nil, apperr.Authorization("cannot make an offer on your own product")
	}

	o, err := e.offers.Create(productID, buyerID, amount, e.now())
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.Conflict("you already have a pending offer on this product")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	e.logger.Info("offer created", "offer_id", o.ID, "product_id", productID, "buyer_id", buyerID)
	return o, nil
}

// Withdraw lets the buyer retract a pending offer.
func (e *Engine) Withdraw(offerID, callerID string) (*model.Offer, error) {
	o, err := e.load(offerID)
	if err != nil {
		return nil, err
	}
	// Offers of other buyers are reported as missing.
	if o.BuyerID != callerID {
		return nil, apperr.NotFound("offer not found")
	}
	if o.Status != model.OfferPending {
		return nil, invalidState(o.Status)
	}

	updated, err := e.offers.Transition(offerID, model.OfferWithdrawn, e.now())
	if errors.Is(err, store.ErrStale) {
		return nil, e.staleError(offerID)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	e.logger.Info("offer withdrawn", "offer_id", offerID)
	return updated, nil
}

// Accept approves a pending offer and rejects its pending siblings. It
// returns the approved offer and the offers that were rejected with it.
func (e *Engine) Accept(offerID, callerID string) (*model.Offer, []model.Offer, error) {
	if _, err := e.authorizeSeller(offerID, callerID); err != nil {
		return nil, nil, err
	}

	accepted, siblings, err := e.offers.Accept(offerID, e.now())
	if errors.Is(err, store.ErrStale) {
		return nil, nil, e.staleError(offerID)
	}
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}

	e.logger.Info("offer accepted", "offer_id", offerID, "product_id", accepted.ProductID, "rejected", len(siblings))
	return accepted, siblings, nil
}

// Reject declines a single pending offer.
func (e *Engine) Reject(offerID, callerID string) (*model.Offer, error) {
	if _, err := e.authorizeSeller(offerID, callerID); err != nil {
		return nil, err
	}

	updated, err := e.offers.Transition(offerID, model.OfferRejected, e.now())
	if errors.Is(err, store.ErrStale) {
		return nil, e.staleError(offerID)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	e.logger.Info("offer rejected", "offer_id", offerID)
	return updated, nil
}

// Get returns an offer to its buyer or to the seller of its product.
func (e *Engine) Get(offerID, callerID string) (*model.Offer, error) {
	o, err := e.load(offerID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID == callerID {
		return o, nil
	}
	product, err := e.products.GetByID(o.ProductID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if product == nil || product.SellerID != callerID {
		return nil, apperr.Authorization("not allowed to view this offer")
	}
	return o, nil
}

// ListForProduct returns every offer on a product to its seller.
func (e *Engine) ListForProduct(productID, callerID string) ([]model.Offer, error) {
	product, err := e.products.GetByID(productID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if product == nil {
		return nil, apperr.NotFound("product not found")
	}
	if product.SellerID != callerID {
		return nil, apperr.Authorization("only the seller can list offers on this product")
	}

	offers, err := e.offers.ListByProduct(productID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return offers, nil
}

// ListForBuyer returns the offers callerID has made.
func (e *Engine) ListForBuyer(callerID string) ([]model.Offer, error) {
	offers, err := e.offers.ListByBuyer(callerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return offers, nil
}

func (e *Engine) load(offerID string) (*model.Offer, error) {
	o, err := e.offers.GetByID(offerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if o == nil {
		return nil, apperr.NotFound("offer not found")
	}
	return o, nil
}

// authorizeSeller checks that callerID sells the product the offer is on
// and that the offer is still pending. A missing product and a foreign
// seller produce the same error.
func (e *Engine) authorizeSeller(offerID, callerID string) (*model.Offer, error) {
	o, err := e.load(offerID)
	if err != nil {
		return nil, err
	}
	product, err := e.products.GetByID(o.ProductID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if product == nil || product.SellerID != callerID {
		return nil, apperr.Authorization("only the seller can respond to this offer")
	}
	if o.Status != model.OfferPending {
		return nil, invalidState(o.Status)
	}
	return o, nil
}

// staleError reports the state that beat a conditional write.
func (e *Engine) staleError(offerID string) error {
	o, err := e.load(offerID)
	if err != nil {
		return err
	}
	return invalidState(o.Status)
}

func invalidState(status model.OfferStatus) error {
	return apperr.InvalidState("offer is already " + string(status))
}
