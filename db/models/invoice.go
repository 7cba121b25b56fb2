package models

import (
	"context"
	"time"

	"github.com/payhub/payhub.go/common"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Invoice : an expected on-chain payment for one order or one subscription
type Invoice struct {
	ID              int64           `json:"id" bun:",pk,autoincrement"`
	OrderID         *int64          `json:"order_id,omitempty"`
	Order           *Order          `json:"-" bun:"rel:belongs-to,join:order_id=id"`
	SubscriptionID  *int64          `json:"subscription_id,omitempty"`
	Subscription    *Subscription   `json:"-" bun:"rel:belongs-to,join:subscription_id=id"`
	Chain           string          `json:"chain" bun:",notnull"`
	Currency        string          `json:"currency" bun:",notnull"`
	Address         string          `json:"address" bun:",notnull"`
	AddressIndex    int64           `json:"address_index" bun:",notnull"`
	ExpectedAmount  decimal.Decimal `json:"expected_amount" bun:"type:numeric(36,18),notnull"`
	Status          string          `json:"status" bun:",notnull,default:'pending'"`
	ExternalWatchID string          `json:"external_watch_id,omitempty" bun:",nullzero"`
	ExpiresAt       time.Time       `json:"expires_at" bun:",notnull"`
	CreatedAt       time.Time       `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt       bun.NullTime    `json:"updated_at"`
	PaidAt          bun.NullTime    `json:"paid_at"`
}

func (i *Invoice) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		i.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

func (i *Invoice) IsPending() bool {
	return i.Status == common.InvoiceStatusPending
}

func (i *Invoice) IsExpiredAt(t time.Time) bool {
	return i.ExpiresAt.Before(t)
}

var _ bun.BeforeAppendModelHook = (*Invoice)(nil)
