package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/swapmeet/internal/model"
)

type OfferStore struct {
	db *sql.DB
}

func NewOfferStore(db *sql.DB) *OfferStore {
	return &OfferStore{db: db}
}

func scanOffer(scanner interface{ Scan(...any) error }) (*model.Offer, error) {
	var o model.Offer
	var status string
	var respondedAt sql.NullTime

	err := scanner.Scan(&o.ID, &o.ProductID, &o.BuyerID, &o.CounterAmount, &status, &o.CreatedAt, &respondedAt)
	if err != nil {
		return nil, err
	}

	o.Status = model.OfferStatus(status)
	if respondedAt.Valid {
		o.RespondedAt = &respondedAt.Time
	}
	return &o, nil
}

const offerCols = `id, product_id, buyer_id, counter_amount, status, created_at, responded_at`

// Create inserts a PENDING offer. The partial unique index on
// (product_id, buyer_id) WHERE status = 'PENDING' is the only guard against
// a second pending offer; a violation is returned as ErrDuplicate.
func (s *OfferStore) Create(productID, buyerID string, amount decimal.Decimal, createdAt time.Time) (*model.Offer, error) {
	id := uuid.NewString()

	_, err := s.db.Exec(
		`INSERT INTO offers (id, product_id, buyer_id, counter_amount, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, productID, buyerID, amount.String(), string(model.OfferPending), createdAt.UTC(),
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert offer: %w", err)
	}
	return s.GetByID(id)
}

func (s *OfferStore) GetByID(id string) (*model.Offer, error) {
	row := s.db.QueryRow(`SELECT `+offerCols+` FROM offers WHERE id = ?`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}

// Transition moves a PENDING offer to a terminal status. The write is
// conditional on the row still being PENDING; ErrStale means it was not.
func (s *OfferStore) Transition(id string, to model.OfferStatus, at time.Time) (*model.Offer, error) {
	result, err := s.db.Exec(
		`UPDATE offers SET status = ?, responded_at = ? WHERE id = ? AND status = ?`,
		string(to), at.UTC(), id, string(model.OfferPending),
	)
	if err != nil {
		return nil, fmt.Errorf("transition offer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrStale
	}
	return s.GetByID(id)
}

// Accept approves a PENDING offer and rejects every other PENDING offer on
// the same product in one transaction. It returns the approved offer and
// the siblings that were rejected. ErrStale means the target was no longer
// PENDING and nothing was written.
func (s *OfferStore) Accept(id string, at time.Time) (*model.Offer, []model.Offer, error) {
	at = at.UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE offers SET status = ?, responded_at = ? WHERE id = ? AND status = ?`,
		string(model.OfferApproved), at, id, string(model.OfferPending),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("approve offer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil, ErrStale
	}

	accepted, err := scanOffer(tx.QueryRow(`SELECT `+offerCols+` FROM offers WHERE id = ?`, id))
	if err != nil {
		return nil, nil, fmt.Errorf("read approved offer: %w", err)
	}

	rows, err := tx.Query(
		`SELECT `+offerCols+` FROM offers WHERE product_id = ? AND status = ? AND id != ? ORDER BY created_at ASC`,
		accepted.ProductID, string(model.OfferPending), id,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("list sibling offers: %w", err)
	}
	var siblings []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan sibling offer: %w", err)
		}
		siblings = append(siblings, *o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, fmt.Errorf("iterate sibling offers: %w", err)
	}
	rows.Close()

	if _, err := tx.Exec(
		`UPDATE offers SET status = ?, responded_at = ? WHERE product_id = ? AND status = ? AND id != ?`,
		string(model.OfferRejected), at, accepted.ProductID, string(model.OfferPending), id,
	); err != nil {
		return nil, nil, fmt.Errorf("reject sibling offers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit accept: %w", err)
	}

	for i := range siblings {
		siblings[i].Status = model.OfferRejected
		siblings[i].RespondedAt = &at
	}
	return accepted, siblings, nil
}

// ListByProduct returns all offers on a product, newest first.
func (s *OfferStore) ListByProduct(productID string) ([]model.Offer, error) {
	return s.list(`SELECT `+offerCols+` FROM offers WHERE product_id = ? ORDER BY created_at DESC`, productID)
}

// ListByBuyer returns all offers a buyer has made, newest first.
func (s *OfferStore) ListByBuyer(buyerID string) ([]model.Offer, error) {
	return s.list(`SELECT `+offerCols+` FROM offers WHERE buyer_id = ? ORDER BY created_at DESC`, buyerID)
}

func (s *OfferStore) list(query string, args ...any) ([]model.Offer, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}
