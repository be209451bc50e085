package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/swapmeet/internal/auth"
	"github.com/dukerupert/swapmeet/internal/config"
	"github.com/dukerupert/swapmeet/internal/handler"
	"github.com/dukerupert/swapmeet/internal/middleware"
	"github.com/dukerupert/swapmeet/internal/model"
	"github.com/dukerupert/swapmeet/internal/offer"
	"github.com/dukerupert/swapmeet/internal/secret"
	"github.com/dukerupert/swapmeet/internal/store"
	ws "github.com/dukerupert/swapmeet/internal/websocket"
)

const (
	authRateLimit  = 10
	authRateWindow = time.Minute
)

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	authH        *handler.AuthHandler
	productH     *handler.ProductHandler
	offerH       *handler.OfferHandler
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	secrets      *secret.Engine
	offers       *offer.Engine
	rateLimiter  *middleware.RateLimiter
	origins      []string
	logger       *slog.Logger
}

// New wires stores, engines and handlers around one database handle.
func New(db *sql.DB, cfg *config.Config, mailer handler.Mailer, logger *slog.Logger, secretOpts ...secret.Option) *Server {
	hub := ws.NewHub(logger)

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	productStore := store.NewProductStore(db)
	offerStore := store.NewOfferStore(db)
	secretStore := store.NewSecretStore(db)

	secretOpts = append([]secret.Option{
		secret.WithBcryptCost(cfg.BcryptCost),
		secret.WithLogger(logger),
	}, secretOpts...)
	secrets := secret.NewEngine(secretStore, userStore, Policies(cfg), secretOpts...)
	offers := offer.NewEngine(offerStore, productStore, offer.WithLogger(logger))

	authCfg := handler.AuthConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		DebugSecrets:  !cfg.Production(),
	}

	return &Server{
		db:           db,
		hub:          hub,
		authH:        handler.NewAuthHandler(userStore, sessionStore, secrets, mailer, auth.NewHasher(cfg.BcryptCost), authCfg, logger.With("component", "auth")),
		productH:     handler.NewProductHandler(productStore, logger.With("component", "product")),
		offerH:       handler.NewOfferHandler(offers, productStore, hub, logger.With("component", "offer_handler")),
		userStore:    userStore,
		sessionStore: sessionStore,
		secrets:      secrets,
		offers:       offers,
		rateLimiter:  middleware.NewRateLimiter(),
		origins:      originPatterns(cfg.BaseURL),
		logger:       logger,
	}
}

// Policies builds the secret policies from configuration.
func Policies(cfg *config.Config) map[model.Purpose]secret.Policy {
	policies := secret.DefaultPolicies()

	otp := policies[model.PurposeEmailVerification]
	otp.TTL = cfg.OTPTTL
	otp.MaxAttempts = cfg.OTPMaxAttempts
	otp.Cooldown = cfg.OTPResendCooldown
	policies[model.PurposeEmailVerification] = otp

	reset := policies[model.PurposePasswordReset]
	reset.TTL = cfg.ResetTokenTTL
	reset.Cooldown = cfg.OTPResendCooldown
	policies[model.PurposePasswordReset] = reset

	return policies
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// Secrets returns the secret engine for the expiry sweep.
func (s *Server) Secrets() *secret.Engine {
	return s.secrets
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/auth/signup", s.rateLimitedHandler(s.authH.Signup))
	outerMux.HandleFunc("POST /api/auth/verify-email", s.rateLimitedHandler(s.authH.VerifyEmail))
	outerMux.HandleFunc("POST /api/auth/resend-otp", s.rateLimitedHandler(s.authH.ResendOTP))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /api/auth/forgot-password", s.rateLimitedHandler(s.authH.ForgotPassword))
	outerMux.HandleFunc("POST /api/auth/reset-password", s.rateLimitedHandler(s.authH.ResetPassword))
	outerMux.HandleFunc("POST /api/auth/validate-reset-token", s.rateLimitedHandler(s.authH.ValidateResetToken))
	outerMux.HandleFunc("GET /api/products/{id}", s.productH.Get)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, authRateLimit, authRateWindow)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)
	mux.HandleFunc("DELETE /api/auth/account", s.authH.DeleteAccount)

	mux.HandleFunc("POST /api/products", s.productH.Create)
	mux.HandleFunc("GET /api/products/{id}/offers", s.offerH.ListForProduct)

	mux.HandleFunc("POST /api/offers", s.offerH.Create)
	mux.HandleFunc("GET /api/offers", s.offerH.ListMine)
	mux.HandleFunc("GET /api/offers/{id}", s.offerH.Get)
	mux.HandleFunc("PATCH /api/offers/{id}/withdraw", s.offerH.Withdraw)
	mux.HandleFunc("PATCH /api/offers/{id}/accept", s.offerH.Accept)
	mux.HandleFunc("PATCH /api/offers/{id}/reject", s.offerH.Reject)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.origins))
}

// originPatterns allows websocket connections from the public host.
func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
