// Package secret issues and verifies one-time secrets: numeric codes for
// email verification and long random tokens for password resets.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/swapmeet/internal/apperr"
	"github.com/dukerupert/swapmeet/internal/model"
	"github.com/dukerupert/swapmeet/internal/store"
)

const selectorBytes = 8

// SecretStore is the persistence the engine needs. *store.SecretStore
// satisfies it.
type SecretStore interface {
	Issue(sec *model.Secret, notBefore time.Time) (time.Time, error)
	GetByID(id string) (*model.Secret, error)
	GetBySelector(selector string) (*model.Secret, error)
	GetLatestActive(identity string, purpose model.Purpose, now time.Time) (*model.Secret, error)
	GetLatest(identity string, purpose model.Purpose) (*model.Secret, error)
	IncrementAttempts(id string) (bool, error)
	Consume(id string, at time.Time, activateUserID string) (bool, error)
	DeleteExpired(now time.Time) (int64, error)
}

// UserStore resolves the account behind an identity.
type UserStore interface {
	GetByEmail(email string) (*model.User, error)
}

// Policy controls how secrets of one purpose are generated and checked.
// Exactly one of Digits and TokenBytes should be set.
type Policy struct {
	TTL            time.Duration
	MaxAttempts    int
	Cooldown       time.Duration
	Digits         int
	TokenBytes     int
	RequireAccount bool
	// Activates marks the owning account verified on successful verification.
	Activates bool
}

func DefaultPolicies() map[model.Purpose]Policy {
	return map[model.Purpose]Policy{
		model.PurposeEmailVerification: {
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			Cooldown:    60 * time.Second,
			Digits:      6,
			Activates:   true,
		},
		model.PurposePasswordReset: {
			TTL:            60 * time.Minute,
			MaxAttempts:    5,
			Cooldown:       60 * time.Second,
			TokenBytes:     32,
			RequireAccount: true,
		},
	}
}

type GenerateOptions struct {
	// DebugReveal stores and returns the plaintext code. Never set in production.
	DebugReveal bool
}

type Generated struct {
	Selector  string
	ExpiresAt time.Time
	Secret    string
	DebugCode string
}

type Verified struct {
	Verified bool
	Purpose  model.Purpose
	UserID   string
	Identity string
}

type Engine struct {
	secrets    SecretStore
	users      UserStore
	policies   map[model.Purpose]Policy
	now        func() time.Time
	cost       int
	generateFn func(Policy) (string, error)
	logger     *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithBcryptCost(cost int) Option {
	return func(e *Engine) { e.cost = cost }
}

// WithGenerator replaces the random secret generator.
func WithGenerator(fn func(Policy) (string, error)) Option {
	return func(e *Engine) { e.generateFn = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(secrets SecretStore, users UserStore, policies map[model.Purpose]Policy, opts ...Option) *Engine {
	e := &Engine{
		secrets:    secrets,
		users:      users,
		policies:   policies,
		now:        time.Now,
		cost:       bcrypt.DefaultCost,
		generateFn: randomSecret,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "secret")
	return e
}

// Policy returns the policy registered for purpose.
func (e *Engine) Policy(purpose model.Purpose) (Policy, bool) {
	p, ok := e.policies[purpose]
	return p, ok
}

// Generate issues a new secret for identity and purpose, invalidating any
// previous unused one. It fails with a cooldown error if the last secret for
// the pair was issued less than the policy's cooldown ago.
func (e *Engine) Generate(identity string, purpose model.Purpose, opts GenerateOptions) (*Generated, error) {
	policy, ok := e.policies[purpose]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown purpose %q", purpose))
	}
	if identity == "" {
		return nil, apperr.Validation("identity is required")
	}

	user, err := e.users.GetByEmail(identity)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if user == nil && policy.RequireAccount {
		return nil, apperr.NotFound("account not found")
	}
	if user != nil && policy.Activates && user.Verified {
		return nil, apperr.InvalidState("account already verified")
	}

	code, err := e.generateFn(policy)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("generate secret: %w", err))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), e.cost)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash secret: %w", err))
	}
	selector, err := randomHex(selectorBytes)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("generate selector: %w", err))
	}

	now := e.now().UTC()
	rec := &model.Secret{
		ID:          ulid.Make().String(),
		Selector:    selector,
		Identity:    identity,
		Purpose:     purpose,
		SecretHash:  string(hash),
		CreatedAt:   now,
		ExpiresAt:   now.Add(policy.TTL),
		MaxAttempts: policy.MaxAttempts,
	}
	if user != nil {
		rec.UserID = &user.ID
	}
	if opts.DebugReveal {
		rec.DebugCode = &code
	}

	last, err := e.secrets.Issue(rec, now.Add(-policy.Cooldown))
	switch {
	case errors.Is(err, store.ErrTooSoon):
		return nil, apperr.Cooldown(last.Add(policy.Cooldown).Sub(now))
	case errors.Is(err, store.ErrDuplicate):
		return nil, apperr.Conflict("a code is already being issued")
	case err != nil:
		return nil, apperr.Internal(err)
	}

	e.logger.Debug("secret issued", "purpose", purpose, "selector", selector, "expires_at", rec.ExpiresAt)

	g := &Generated{
		Selector:  selector,
		ExpiresAt: rec.ExpiresAt,
		Secret:    code,
	}
	if opts.DebugReveal {
		g.DebugCode = code
	}
	return g, nil
}

// Verify checks presented against the secret for identity and purpose.
// With a selector the record is looked up directly; identity may then be
// empty. A correct secret is consumed exactly once: every concurrent caller
// but one gets an already-used error.
func (e *Engine) Verify(identity, presented string, purpose model.Purpose, selector string) (*Verified, error) {
	policy, ok := e.policies[purpose]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown purpose %q", purpose))
	}
	if presented == "" {
		return nil, apperr.Validation("code is required")
	}

	now := e.now().UTC()
	rec, err := e.lookup(identity, purpose, selector, now)
	if err != nil {
		return nil, err
	}

	if err := e.match(rec, presented, now); err != nil {
		return nil, err
	}

	userID := ""
	if rec.UserID != nil {
		userID = *rec.UserID
	} else {
		user, err := e.users.GetByEmail(rec.Identity)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if user != nil {
			userID = user.ID
		}
	}

	activate := ""
	if policy.Activates {
		activate = userID
	}
	consumed, err := e.secrets.Consume(rec.ID, now, activate)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !consumed {
		return nil, e.loserError(rec.ID, now)
	}

	e.logger.Debug("secret verified", "purpose", purpose, "selector", rec.Selector)

	return &Verified{
		Verified: true,
		Purpose:  purpose,
		UserID:   userID,
		Identity: rec.Identity,
	}, nil
}

// Check reports whether presented matches the live secret behind selector
// without consuming it. A mismatch still counts as an attempt.
func (e *Engine) Check(selector, presented string, purpose model.Purpose) error {
	if _, ok := e.policies[purpose]; !ok {
		return apperr.Validation(fmt.Sprintf("unknown purpose %q", purpose))
	}
	if selector == "" || presented == "" {
		return apperr.Validation("selector and code are required")
	}

	now := e.now().UTC()
	rec, err := e.lookup("", purpose, selector, now)
	if err != nil {
		return err
	}
	return e.match(rec, presented, now)
}

// match checks rec is usable and presented is its secret. A wrong secret
// bumps the attempt counter once.
func (e *Engine) match(rec *model.Secret, presented string, now time.Time) error {
	if err := checkUsable(rec, now); err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.SecretHash), []byte(presented)) == nil {
		return nil
	}

	counted, err := e.secrets.IncrementAttempts(rec.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !counted {
		return e.loserError(rec.ID, now)
	}
	return apperr.InvalidSecret("invalid code")
}

// CleanupExpired deletes every secret past its expiry.
func (e *Engine) CleanupExpired() (int64, error) {
	n, err := e.secrets.DeleteExpired(e.now().UTC())
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

func (e *Engine) lookup(identity string, purpose model.Purpose, selector string, now time.Time) (*model.Secret, error) {
	if selector != "" {
		rec, err := e.secrets.GetBySelector(selector)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if rec == nil || rec.Purpose != purpose || (identity != "" && rec.Identity != identity) {
			return nil, apperr.NotFound("code not found")
		}
		return rec, nil
	}

	if identity == "" {
		return nil, apperr.Validation("identity or selector is required")
	}
	rec, err := e.secrets.GetLatestActive(identity, purpose, now)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if rec != nil {
		return rec, nil
	}
	// Fall back to the newest record in any state so the caller learns why
	// it can no longer be used.
	rec, err = e.secrets.GetLatest(identity, purpose)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if rec == nil {
		return nil, apperr.NotFound("code not found")
	}
	return rec, nil
}

// loserError re-reads a record after a conditional write matched nothing
// and explains why.
func (e *Engine) loserError(id string, now time.Time) error {
	rec, err := e.secrets.GetByID(id)
	if err != nil {
		return apperr.Internal(err)
	}
	if rec == nil {
		return apperr.NotFound("code not found")
	}
	if err := checkUsable(rec, now); err != nil {
		return err
	}
	return apperr.AlreadyUsed("code already used")
}

func checkUsable(rec *model.Secret, now time.Time) error {
	switch {
	case rec.Used:
		return apperr.AlreadyUsed("code already used")
	case now.After(rec.ExpiresAt):
		return apperr.Expired("code expired")
	case rec.Attempts >= rec.MaxAttempts:
		return apperr.AttemptsExceeded("too many attempts")
	}
	return nil
}

func randomSecret(p Policy) (string, error) {
	if p.Digits > 0 {
		return randomDigits(p.Digits)
	}
	return randomHex(p.TokenBytes)
}

func randomDigits(n int) (string, error) {
	buf := make([]byte, n)
	ten := big.NewInt(10)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
