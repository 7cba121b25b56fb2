package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Payment : one observed on-chain transfer, unique by tx hash
type Payment struct {
	ID            int64           `json:"id" bun:",pk,autoincrement"`
	InvoiceID     *int64          `json:"invoice_id,omitempty"`
	Invoice       *Invoice        `json:"-" bun:"rel:belongs-to,join:invoice_id=id"`
	TxHash        string          `json:"tx_hash" bun:",notnull,unique"`
	Chain         string          `json:"chain" bun:",notnull"`
	Amount        decimal.Decimal `json:"amount" bun:"type:numeric(36,18),notnull"`
	Currency      string          `json:"currency" bun:",notnull"`
	Status        string          `json:"status" bun:",notnull,default:'pending'"`
	Confirmations int64           `json:"confirmations" bun:",notnull,default:0"`
	VerifiedAt    bun.NullTime    `json:"verified_at"`
	CreatedAt     time.Time       `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt     bun.NullTime    `json:"updated_at"`
}

func (p *Payment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		p.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Payment)(nil)
