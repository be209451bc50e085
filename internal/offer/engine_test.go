package offer

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/swapmeet/internal/apperr"
	"github.com/dukerupert/swapmeet/internal/database"
	"github.com/dukerupert/swapmeet/internal/model"
	"github.com/dukerupert/swapmeet/internal/store"
)

type testEnv struct {
	engine   *Engine
	offers   *store.OfferStore
	products *store.ProductStore
	users    *store.UserStore
}

func setupEngine(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	offers := store.NewOfferStore(db)
	products := store.NewProductStore(db)
	return &testEnv{
		engine:   NewEngine(offers, products),
		offers:   offers,
		products: products,
		users:    store.NewUserStore(db),
	}
}

func (env *testEnv) user(t *testing.T, email string) string {
	t.Helper()
	u, err := env.users.Create(email, "Test User", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func (env *testEnv) product(t *testing.T, sellerID string) string {
	t.Helper()
	p, err := env.products.Create(sellerID, "Guitar", "Acoustic", decimal.NewFromInt(600))
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p.ID
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if got := apperr.KindOf(err); got != kind || err == nil {
		t.Fatalf("err = %v (kind %s), want kind %s", err, got, kind)
	}
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreateOfferDuplicatePending(t *testing.T) {
	env := setupEngine(t)
	seller := env.user(t, "seller@example.com")
	buyer := env.user(t, "buyer@example.com")
	product := env.product(t, seller)

	o, err := env.engine.Create(product, buyer, amount(500))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if o.Status != model.OfferPending {
		t.Errorf("status = %q, want PENDING", o.Status)
	}

	_, err = env.engine.Create(product, buyer, amount(550))
	wantKind(t, err, apperr.KindConflict)
}

func TestCreateOfferConcurrentSinglePending(t *testing.T) {
	env := setupEngine(t)
	seller := env.user(t, "seller@example.com")
	buyer := env.user(t, "buyer@example.com")
	product := env.product(t, seller)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.engine.Create(product, buyer, amount(int64(100+i)))
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			if winner >= 0 {
				t.Fatalf("two creates succeeded: %d and %d", winner, i)
			}
			winner = i
			continue
		}
		if apperr.KindOf(err) != apperr.KindConflict {
			t.Errorf("loser err = %v, want Conflict", err)
		}
	}
	if winner < 0 {
		t.Fatal("no create succeeded")
	}

	// After withdrawal the buyer can offer again.
	list, _ := env.engine.ListForBuyer(buyer)
	if _, err := env.engine.Withdraw(list[0].ID, buyer); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := env.engine.Create(product, buyer, amount(300)); err != nil {
		t.Fatalf("create after withdraw: %v", err)
	}
}

func TestCreateOfferValidation(t *testing.T) {
	env := setupEngine(t)
	seller := env.user(t, "seller@example.com")
	buyer := env.user(t, "buyer@example.com")
	product := env.product(t, seller)

	_, err := env.engine.Create(product, buyer, amount(0))
	wantKind(t, err, apperr.KindValidation)

	_, err = env.engine.Create(product, buyer, amount(-5))
	wantKind(t, err, apperr.KindValidation)

	_, err = env.engine.Create("missing", buyer, amount(10))
	wantKind(t, err, apperr.KindNotFound)

	_, err = env.engine.Create(product, seller, amount(10))
	wantKind(t, err, apperr.KindAuthorization)
}

func TestAcceptCascade(t *testing.T) {
	env := setupEngine(t)
	seller := env.user(t, "seller@example.com")
	product := env.product(t, seller)

	var ids []string
	for _, email := range []string{"b1@example.com", "b2@example.com", "b3@example.com"} {
		o, err := env.engine.Create(product, env.user(t, email), amount(400))
		if err != nil {
			t.Fatalf("create offer: %v", err)
		}
		ids = append(ids, o.ID)
	}

	accepted, siblings, err := env.engine.Accept(ids[0], seller)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != model.OfferApproved || accepted.RespondedAt == nil {
		t.Errorf("accepted = %+v, want APPROVED with responded_at", accepted)
	}
	if len(siblings) != 2 {
		t.Fatalf("siblings = %d, want 2", len(siblings))
	}

	all, err := env.engine.ListForProduct(product, seller)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	approved, rejected := 0, 0
	for _, o := range all {
		if o.RespondedAt == nil {
			t.Errorf("offer %s has no responded_at", o.ID)
		}
		switch o.Status {
		case model.OfferApproved:
			approved++
		case model.OfferRejected:
			rejected++
		default:
			t.Errorf("offer %s in %q", o.ID, o.Status)
		}
	}
	if approved != 1 || rejected != 2 {
		t.Errorf("approved=%d rejected=%d, want 1 and 2", approved, rejected)
	}
}

func TestAcceptConcurrent(t *testing.T) {
	env := setupEngine(t)
	seller := env.user(t, "seller@example.com")
	product := env.product(t, seller)

	var ids []string
	for _, email := range []string{"b1@example.com", "b2@example.com", "b3@example.com", "b4@example.com", "b5@example.com"} {
		o, _ := env.engine.Create(product, env.user(t, email), amount(400))
		ids = append(ids, o.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = env.engine.Accept(id, seller)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if apperr.KindOf(err) != apperr.KindInvalidState {
			t.Errorf("loser err = %v, want InvalidState", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestTerminalOffersAreImmutable(t *testing.T) {
	env := setupEngine(t)
	seller := env.user(t, "seller@example.com")
	product := env.product(t, seller)

	makeOffer := func(email string) *model.Offer {
		o, err := env.engine.Create(product, env.user(t, email), amount(100))
		if err != nil {
			t.Fatalf("create offer: %v", err)
		}
		return o
	}

	withdrawn := makeOffer("w@example.com")
	if _, err := env.engine.Withdraw(withdrawn.ID, withdrawn.BuyerID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	rejected := makeOffer("r@example.com")
	if _, err := env.engine.Reject(rejected.ID, seller); err != nil {
		t.Fatalf("reject: %v", err)
	}
	approved := makeOffer("a@example.com")
	if _, _, err := env.engine.Accept(approved.ID, seller); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for _, o := range []*model.Offer{withdrawn, rejected, approved} {
		before, _ := env.offers.GetByID(o.ID)

		_, _, err := env.engine.Accept(o.ID, seller)
		wantKind(t, err, apperr.KindInvalidState)
		_, err = env.engine.Reject(o.ID, seller)
		wantKind(t, err, apperr.KindInvalidState)
		_, err = env.engine.Withdraw(o.ID, o.BuyerID)
		wantKind(t, err, apperr.KindInvalidState)

		after, _ := env.offers.GetByID(o.ID)
		if after.Status != before.Status || !after.RespondedAt.Equal(*before.RespondedAt) {
			t.Errorf("offer %s changed: %+v -> %+v", o.ID, before, after)
		}
	}
}

func TestAcceptTwoOffers(t *testing.T) {
	env := setupEngine(t)
	seller := env.user(t, "seller@example.com")
	product := env.product(t, seller)

	o1, _ := env.engine.Create(product, env.user(t, "b1@example.com"), amount(500))
	o2, _ := env.engine.Create(product, env.user(t, "b2@example.com"), amount(450))

	if _, _, err := env.engine.Accept(o1.ID, seller); err != nil {
		t.Fatalf("accept: %v", err)
	}

	got1, _ := env.engine.Get(o1.ID, seller)
	got2, _ := env.engine.Get(o2.ID, seller)
	if got1.Status != model.OfferApproved {
		t.Errorf("o1 = %q, want APPROVED", got1.Status)
	}
	if got2.Status != model.OfferRejected {
		t.Errorf("o2 = %q, want REJECTED", got2.Status)
	}
}

func TestOfferAuthorization(t *testing.T) {
	env := setupEngine(t)
	seller := env.user(t, "seller@example.com")
	buyer := env.user(t, "buyer@example.com")
	stranger := env.user(t, "stranger@example.com")
	product := env.product(t, seller)

	o, _ := env.engine.Create(product, buyer, amount(100))

	_, _, err := env.engine.Accept(o.ID, buyer)
	wantKind(t, err, apperr.KindAuthorization)
	_, err = env.engine.Reject(o.ID, stranger)
	wantKind(t, err, apperr.KindAuthorization)
	_, err = env.engine.Withdraw(o.ID, seller)
	wantKind(t, err, apperr.KindNotFound)
	_, err = env.engine.Get(o.ID, stranger)
	wantKind(t, err, apperr.KindAuthorization)
	_, err = env.engine.ListForProduct(product, buyer)
	wantKind(t, err, apperr.KindAuthorization)

	_, _, err = env.engine.Accept("missing", seller)
	wantKind(t, err, apperr.KindNotFound)

	if _, err := env.engine.Get(o.ID, buyer); err != nil {
		t.Errorf("buyer get: %v", err)
	}
	if _, err := env.engine.Get(o.ID, seller); err != nil {
		t.Errorf("seller get: %v", err)
	}
}

func TestAcceptWithdrawRace(t *testing.T) {
	env := setupEngine(t)
	seller := env.user(t, "seller@example.com")
	buyer := env.user(t, "buyer@example.com")
	product := env.product(t, seller)

	o, _ := env.engine.Create(product, buyer, amount(100))

	var wg sync.WaitGroup
	var acceptErr, withdrawErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, acceptErr = env.engine.Accept(o.ID, seller)
	}()
	go func() {
		defer wg.Done()
		_, withdrawErr = env.engine.Withdraw(o.ID, buyer)
	}()
	wg.Wait()

	if (acceptErr == nil) == (withdrawErr == nil) {
		t.Fatalf("accept err = %v, withdraw err = %v; want exactly one success", acceptErr, withdrawErr)
	}
	for _, err := range []error{acceptErr, withdrawErr} {
		if err != nil && apperr.KindOf(err) != apperr.KindInvalidState {
			t.Errorf("loser err = %v, want InvalidState", err)
		}
	}
}
