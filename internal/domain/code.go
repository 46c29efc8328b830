package domain

import "time"

// One-time code purposes. A user holds at most one live code per purpose;
// issuing a new one replaces the previous.
const (
	PurposeVerification = "verification"
	PurposeReset        = "reset"
)

func IsValidPurpose(p string) bool {
	return p == PurposeVerification || p == PurposeReset
}

// OneTimeCode is the stored form of an emailed code. Only the bcrypt hash
// is persisted; the plaintext exists in the outbound email alone.
type OneTimeCode struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CodeHash  string    `json:"-"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *OneTimeCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
