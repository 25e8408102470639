package domain

import "time"

// CreditTransType enumerates ledger transaction categories.
type CreditTransType string

const (
	CreditTransNewUser        CreditTransType = "new_user"
	CreditTransOrderPay       CreditTransType = "order_pay"
	CreditTransSystemAdd      CreditTransType = "system_add"
	CreditTransPing           CreditTransType = "ping"
	CreditTransIconGeneration CreditTransType = "icon_generation"
)

// CreditEntry is one append-only signed ledger row. Credits is positive
// for grants and negative for consumption; the stated amount is never
// mutated after insert.
type CreditEntry struct {
	ID        int64
	TransNo   string
	OwnerID   string
	TransType CreditTransType
	Credits   int
	OrderNo   string
	ExpiredAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether the entry no longer counts toward a balance.
func (e CreditEntry) Expired(now time.Time) bool {
	return e.ExpiredAt != nil && !e.ExpiredAt.IsZero() && e.ExpiredAt.Before(now)
}
