package model

import "time"

type Purpose string

const (
	// PurposeEmailVerification confirms a signup email address.
	PurposeEmailVerification Purpose = "EMAIL_VERIFICATION"
	PurposePasswordReset     Purpose = "PASSWORD_RESET"
)

// Secret is a single-use, time-boxed code bound to an identity and purpose.
// Only the bcrypt hash of the code is stored; Selector is a public lookup key.
type Secret struct {
	ID          string     `json:"id"`
	Selector    string     `json:"selector"`
	Identity    string     `json:"identity"`
	Purpose     Purpose    `json:"purpose"`
	UserID      *string    `json:"user_id"`
	SecretHash  string     `json:"-"`
	DebugCode   *string    `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Used        bool       `json:"used"`
	ConsumedAt  *time.Time `json:"consumed_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
}
