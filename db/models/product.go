package models

import "time"

// Product : reserved is the quantity held by pending orders
type Product struct {
	ID        int64     `json:"id" bun:",pk,autoincrement"`
	ShopID    int64     `json:"shop_id"`
	Stock     int64     `json:"stock" bun:",notnull,default:0"`
	Reserved  int64     `json:"reserved" bun:",notnull,default:0"`
	CreatedAt time.Time `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}
