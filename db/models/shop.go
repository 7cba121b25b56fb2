package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Shop struct {
	ID                int64        `json:"id" bun:",pk,autoincrement"`
	OwnerID           int64        `json:"owner_id"`
	Tier              string       `json:"tier" bun:",nullzero"`
	IsActive          bool         `json:"is_active" bun:",notnull,default:false"`
	NextPaymentDue    bun.NullTime `json:"next_payment_due"`
	GracePeriodEndsAt bun.NullTime `json:"grace_period_ends_at"`
	CreatedAt         time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}

// ExtendUntil returns the new due date when a period is paid: the period is
// added to the later of now and the current due date.
func (s *Shop) ExtendUntil(now time.Time, period time.Duration) time.Time {
	from := now
	if !s.NextPaymentDue.IsZero() && s.NextPaymentDue.Time.After(now) {
		from = s.NextPaymentDue.Time
	}
	return from.Add(period)
}
