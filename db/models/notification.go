package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Notification is published after a settlement or expiry has been committed.
// It is not persisted.
type Notification struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Recipient      string           `json:"recipient,omitempty"`
	RecipientID    int64            `json:"recipient_id,omitempty"`
	InvoiceID      int64            `json:"invoice_id"`
	OrderID        *int64           `json:"order_id,omitempty"`
	SubscriptionID *int64           `json:"subscription_id,omitempty"`
	ShopID         *int64           `json:"shop_id,omitempty"`
	Chain          string           `json:"chain,omitempty"`
	TxHash         string           `json:"tx_hash,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
