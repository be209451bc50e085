package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OfferStatus string

const (
	OfferPending   OfferStatus = "PENDING"
	OfferApproved  OfferStatus = "APPROVED"
	OfferRejected  OfferStatus = "REJECTED"
	OfferWithdrawn OfferStatus = "WITHDRAWN"
)

// Terminal reports whether no further transition is allowed out of s.
func (s OfferStatus) Terminal() bool {
	return s == OfferApproved || s == OfferRejected || s == OfferWithdrawn
}

type Offer struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	BuyerID       string          `json:"buyer_id"`
	CounterAmount decimal.Decimal `json:"counter_amount"`
	Status        OfferStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	RespondedAt   *time.Time      `json:"responded_at"`
}
