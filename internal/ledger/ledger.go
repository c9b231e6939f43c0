// Package ledger implements the organization credit ledger.
//
// Credits live in three buckets: available, reserved and consumed.
// Every mutation appends one CreditTransaction row and applies the
// bucket change to the CreditBalance snapshot with a version check.
// Concurrent writers retry on version conflicts; the journal is
// append-only and is the source of truth for audits.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/pkg/models"
)

var (
	// ErrInsufficientCredits is returned when the available bucket
	// cannot cover the requested amount.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrConflict is returned when the version check failed on every
	// retry. Callers should surface this as a transient error.
	ErrConflict = errors.New("credit balance conflict, retry")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const maxRetries = 5

// Entry describes one requested ledger operation.
type Entry struct {
	OrganizationID uint
	Amount         int64
	IdempotencyKey string
	Reference      string
	Description    string
	CreatedBy      uint
}

// Ledger performs credit operations against the database.
type Ledger struct {
	db *gorm.DB
}

// New creates a Ledger on the given database handle.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Grant adds credits to the available bucket. Used for plan renewals,
// top-ups and signup bonuses.
func (l *Ledger) Grant(ctx context.Context, e Entry) (*models.CreditTransaction, error) {
	return l.apply(ctx, models.TxTypeGrant, e, func(b *models.CreditBalance) error {
		b.Available += e.Amount
		return nil
	})
}

// Reserve moves credits from available to reserved ahead of a
// workflow run. Fails with ErrInsufficientCredits when available
// cannot cover the amount.
func (l *Ledger) Reserve(ctx context.Context, e Entry) (*models.CreditTransaction, error) {
	return l.apply(ctx, models.TxTypeReserve, e, func(b *models.CreditBalance) error {
		if b.Available < e.Amount {
			return ErrInsufficientCredits
		}
		b.Available -= e.Amount
		b.Reserved += e.Amount
		return nil
	})
}

// Consume moves credits from reserved to consumed once work is done.
// The amount may be less than what was reserved; Release returns the
// remainder.
func (l *Ledger) Consume(ctx context.Context, e Entry) (*models.CreditTransaction, error) {
	return l.apply(ctx, models.TxTypeConsume, e, func(b *models.CreditBalance) error {
		if b.Reserved < e.Amount {
			return fmt.Errorf("consume %d exceeds reserved %d", e.Amount, b.Reserved)
		}
		b.Reserved -= e.Amount
		b.Consumed += e.Amount
		return nil
	})
}

// Release returns reserved credits to the available bucket, used when
// a run finishes under budget or fails.
func (l *Ledger) Release(ctx context.Context, e Entry) (*models.CreditTransaction, error) {
	return l.apply(ctx, models.TxTypeRelease, e, func(b *models.CreditBalance) error {
		if b.Reserved < e.Amount {
			return fmt.Errorf("release %d exceeds reserved %d", e.Amount, b.Reserved)
		}
		b.Reserved -= e.Amount
		b.Available += e.Amount
		return nil
	})
}

// Refund returns consumed credits to available, used for goodwill
// refunds and failed deliveries discovered after consumption.
func (l *Ledger) Refund(ctx context.Context, e Entry) (*models.CreditTransaction, error) {
	return l.apply(ctx, models.TxTypeRefund, e, func(b *models.CreditBalance) error {
		if b.Consumed < e.Amount {
			return fmt.Errorf("refund %d exceeds consumed %d", e.Amount, b.Consumed)
		}
		b.Consumed -= e.Amount
		b.Available += e.Amount
		return nil
	})
}

// Balance returns the current balance snapshot, creating a zero
// balance row on first access.
func (l *Ledger) Balance(ctx context.Context, orgID uint) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	err := l.db.WithContext(ctx).Where("organization_id = ?", orgID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		balance = models.CreditBalance{OrganizationID: orgID}
		if createErr := l.db.WithContext(ctx).Create(&balance).Error; createErr != nil {
			// A concurrent caller may have inserted the row first;
			// the refetch picks up the winner.
			if refetch := l.db.WithContext(ctx).Where("organization_id = ?", orgID).First(&balance).Error; refetch == nil {
				return &balance, nil
			}
			return nil, fmt.Errorf("failed to create balance: %w", createErr)
		}
		return &balance, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// History returns journal entries for an organization, newest first.
func (l *Ledger) History(ctx context.Context, orgID uint, limit, offset int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var txs []models.CreditTransaction
	err := l.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&txs).Error
	return txs, err
}

// apply runs one ledger operation: journal insert plus a version
// checked balance update, retried on conflicts. When the idempotency
// key was seen before the stored transaction is returned unchanged.
func (l *Ledger) apply(ctx context.Context, txType string, e Entry, mutate func(*models.CreditBalance) error) (*models.CreditTransaction, error) {
	if e.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if e.IdempotencyKey != "" {
		var existing models.CreditTransaction
		err := l.db.WithContext(ctx).Where("idempotency_key = ?", e.IdempotencyKey).First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var result *models.CreditTransaction
	for attempt := 0; attempt < maxRetries; attempt++ {
		balance, err := l.Balance(ctx, e.OrganizationID)
		if err != nil {
			return nil, err
		}

		next := *balance
		if err := mutate(&next); err != nil {
			return nil, err
		}

		tx := &models.CreditTransaction{
			OrganizationID: e.OrganizationID,
			Type:           txType,
			Amount:         e.Amount,
			BalanceAfter:   next.Available,
			Reference:      e.Reference,
			Description:    e.Description,
			CreatedBy:      e.CreatedBy,
		}
		if e.IdempotencyKey != "" {
			key := e.IdempotencyKey
			tx.IdempotencyKey = &key
		}

		err = l.db.WithContext(ctx).Transaction(func(dtx *gorm.DB) error {
			res := dtx.Model(&models.CreditBalance{}).
				Where("organization_id = ? AND version = ?", e.OrganizationID, balance.Version).
				Updates(map[string]interface{}{
					"available": next.Available,
					"reserved":  next.Reserved,
					"consumed":  next.Consumed,
					"version":   balance.Version + 1,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
			return dtx.Create(tx).Error
		})
		if err == nil {
			result = tx
			break
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}

		// Another writer won the version race, back off and retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}

	if result == nil {
		return nil, ErrConflict
	}
	return result, nil
}
