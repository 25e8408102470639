package domain

import "time"

// APIKeyStatus enumerates provider credential states. Disabling is
// one-way in the hot path; re-enabling is an administrative action.
type APIKeyStatus string

const (
	APIKeyStatusActive   APIKeyStatus = "active"
	APIKeyStatusDisabled APIKeyStatus = "disabled"
)

// APIKey is one upstream provider credential from the rotation pool.
type APIKey struct {
	ID        int64
	Provider  string
	Key       string
	Status    APIKeyStatus
	CreatedAt time.Time
}
