// Package credits implements the append-only signed-transaction ledger
// that funds and refunds generation jobs. Balances are derived, never
// stored: a user's balance is the sum of their non-expired entries.
package credits

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"iconforge/internal/domain"
)

const (
	// NewUserGrant is the credit amount granted on account creation.
	NewUserGrant = 10

	maxInsertRetries = 3
)

// Ledger records credit grants and consumption. Non-negativity is a
// consumer-side contract: the ledger itself appends whatever it is told,
// and admission control lives in the dispatcher's balance pre-check.
type Ledger struct {
	repo   domain.CreditRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewLedger constructs a ledger over the given repository.
func NewLedger(repo domain.CreditRepository, logger zerolog.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger, now: time.Now}
}

// Balance returns the sum of the owner's non-expired entries, floored
// at zero.
func (l *Ledger) Balance(ctx context.Context, ownerID string) (int, error) {
	entries, err := l.repo.ListValid(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entries {
		total += e.Credits
	}
	if total < 0 {
		total = 0
	}
	return total, nil
}

// Debit appends a negative entry consuming the given amount. The entry
// is tagged with the order number and expiry of the oldest funding entry
// whose running sum covers the amount, preserving an audit link between
// consumption and the grant that paid for it. Funding entries themselves
// are never mutated.
func (l *Ledger) Debit(ctx context.Context, ownerID string, transType domain.CreditTransType, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: debit amount must be positive", domain.ErrInvalidRequest)
	}
	entries, err := l.repo.ListValid(ctx, ownerID)
	if err != nil {
		return err
	}
	var orderNo string
	var expiredAt *time.Time
	running := 0
	for _, e := range entries {
		running += e.Credits
		if running >= amount {
			orderNo = e.OrderNo
			expiredAt = e.ExpiredAt
			break
		}
	}
	entry := &domain.CreditEntry{
		OwnerID:   ownerID,
		TransType: transType,
		Credits:   -amount,
		OrderNo:   orderNo,
		ExpiredAt: expiredAt,
		CreatedAt: l.now(),
	}
	return l.insertWithRetry(ctx, entry)
}

// Credit appends a positive entry. orderNo and expiredAt are optional.
func (l *Ledger) Credit(ctx context.Context, ownerID string, transType domain.CreditTransType, amount int, orderNo string, expiredAt *time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit amount must be positive", domain.ErrInvalidRequest)
	}
	entry := &domain.CreditEntry{
		OwnerID:   ownerID,
		TransType: transType,
		Credits:   amount,
		OrderNo:   orderNo,
		ExpiredAt: expiredAt,
		CreatedAt: l.now(),
	}
	return l.insertWithRetry(ctx, entry)
}

// GrantNewUser issues the initial grant for a freshly provisioned
// account, expiring one year out.
func (l *Ledger) GrantNewUser(ctx context.Context, ownerID string) error {
	expiry := l.now().AddDate(1, 0, 0)
	return l.Credit(ctx, ownerID, domain.CreditTransNewUser, NewUserGrant, "", &expiry)
}

// CreditForOrder applies a paid order's credits at most once: if an
// entry already references the order number, the call is a no-op.
func (l *Ledger) CreditForOrder(ctx context.Context, ownerID, orderNo string, amount int, expiredAt *time.Time) error {
	if _, err := l.repo.FindByOrderNo(ctx, orderNo); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return l.Credit(ctx, ownerID, domain.CreditTransOrderPay, amount, orderNo, expiredAt)
}

// insertWithRetry generates a transaction number and inserts, retrying
// with a fresh number and jittered backoff on a uniqueness collision.
// Collisions are the only retried failure mode in the ledger.
func (l *Ledger) insertWithRetry(ctx context.Context, entry *domain.CreditEntry) error {
	var lastErr error
	for attempt := 0; attempt < maxInsertRetries; attempt++ {
		entry.TransNo = newTransNo()
		err := l.repo.Insert(ctx, entry)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrDuplicateTransNo) {
			return err
		}
		lastErr = err
		l.logger.Warn().
			Str("owner_id", entry.OwnerID).
			Int("attempt", attempt+1).
			Msg("ledger: trans_no collision, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(50+rand.Intn(100)) * time.Millisecond):
		}
	}
	return fmt.Errorf("ledger: insert failed after %d attempts: %w", maxInsertRetries, lastErr)
}

func newTransNo() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
