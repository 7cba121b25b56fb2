package models

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Order is owned by the marketplace. Only the status column and the product
// stock counters are written here, inside settlement and expiry transactions.
type Order struct {
	ID        int64        `json:"id" bun:",pk,autoincrement"`
	ProductID int64        `json:"product_id" bun:",notnull"`
	Product   *Product     `json:"-" bun:"rel:belongs-to,join:product_id=id"`
	BuyerID   int64        `json:"buyer_id" bun:",notnull"`
	SellerID  int64        `json:"seller_id" bun:",notnull"`
	Quantity  int64        `json:"quantity" bun:",notnull"`
	Status    string       `json:"status" bun:",notnull,default:'pending'"`
	CreatedAt time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt bun.NullTime `json:"updated_at"`
}

func (o *Order) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		o.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Order)(nil)
