package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/swapmeet/internal/auth"
	"github.com/dukerupert/swapmeet/internal/database"
	"github.com/dukerupert/swapmeet/internal/offer"
	"github.com/dukerupert/swapmeet/internal/secret"
	"github.com/dukerupert/swapmeet/internal/store"
	ws "github.com/dukerupert/swapmeet/internal/websocket"
)

type sentMail struct {
	kind     string
	to       string
	code     string
	selector string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (m *fakeMailer) record(s sentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, s)
	return nil
}

func (m *fakeMailer) SendOTP(to, code string, ttl time.Duration) error {
	return m.record(sentMail{kind: "otp", to: to, code: code})
}

func (m *fakeMailer) SendPasswordReset(to, selector, token string, ttl time.Duration) error {
	return m.record(sentMail{kind: "reset", to: to, code: token, selector: selector})
}

func (m *fakeMailer) SendPasswordChanged(to string) error {
	return m.record(sentMail{kind: "changed", to: to})
}

func (m *fakeMailer) last(t *testing.T, kind string) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind == kind {
			return m.sent[i]
		}
	}
	t.Fatalf("no %s email sent", kind)
	return sentMail{}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][]ws.Message
}

func (n *fakeNotifier) SendTo(userID string, msg ws.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string][]ws.Message)
	}
	n.sent[userID] = append(n.sent[userID], msg)
}

func (n *fakeNotifier) types(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent[userID] {
		out = append(out, m.Type)
	}
	return out
}

type testEnv struct {
	users    *store.UserStore
	sessions *store.SessionStore
	products *store.ProductStore
	authH    *AuthHandler
	productH *ProductHandler
	offerH   *OfferHandler
	mailer   *fakeMailer
	notifier *fakeNotifier
}

func setupHandlers(t *testing.T, debug bool) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	sessions := store.NewSessionStore(db)
	products := store.NewProductStore(db)
	secrets := secret.NewEngine(store.NewSecretStore(db), users, secret.DefaultPolicies(), secret.WithBcryptCost(bcrypt.MinCost))
	offers := offer.NewEngine(store.NewOfferStore(db), products)

	mailer := &fakeMailer{}
	notifier := &fakeNotifier{}
	logger := slog.Default()

	return &testEnv{
		users:    users,
		sessions: sessions,
		products: products,
		authH: NewAuthHandler(users, sessions, secrets, mailer, auth.NewHasher(bcrypt.MinCost),
			AuthConfig{SessionMaxAge: time.Hour, DebugSecrets: debug}, logger),
		productH: NewProductHandler(products, logger),
		offerH:   NewOfferHandler(offers, products, notifier, logger),
		mailer:   mailer,
		notifier: notifier,
	}
}

func do(t *testing.T, h http.HandlerFunc, method, path, userID string, body any, pathValues ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	if userID != "" {
		req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

// verifiedUser signs up and verifies an account, returning its id.
func (env *testEnv) verifiedUser(t *testing.T, email string) string {
	t.Helper()
	rec := do(t, env.authH.Signup, "POST", "/api/auth/signup", "", map[string]string{
		"email": email, "password": "password123", "full_name": "Test User",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	code := env.mailer.last(t, "otp").code
	rec = do(t, env.authH.VerifyEmail, "POST", "/api/auth/verify-email", "", map[string]string{
		"email": email, "code": code,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	u, _ := env.users.GetByEmail(email)
	return u.ID
}
