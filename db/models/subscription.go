package models

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Subscription : a shop tier payment. ShopID stays empty until the shop is
// created; ActivatedAt is set once the paid tier has been applied to the shop.
type Subscription struct {
	ID          int64        `json:"id" bun:",pk,autoincrement"`
	ShopID      *int64       `json:"shop_id,omitempty"`
	Shop        *Shop        `json:"-" bun:"rel:belongs-to,join:shop_id=id"`
	UserID      int64        `json:"user_id" bun:",notnull"`
	Tier        string       `json:"tier" bun:",notnull"`
	Status      string       `json:"status" bun:",notnull,default:'pending'"`
	PaidAt      bun.NullTime `json:"paid_at"`
	ActivatedAt bun.NullTime `json:"activated_at"`
	CreatedAt   time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt   bun.NullTime `json:"updated_at"`
}

func (s *Subscription) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		s.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Subscription)(nil)
