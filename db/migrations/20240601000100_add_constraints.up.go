package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {

		if db.Dialect().Name().String() != "pg" {
			fmt.Printf("\033[1;31m%s\033[0m", "You are not using PostgreSQL. DB level checks can not be enabled!\n")
			return nil
		}
		sql := `
			-- an invoice pays for exactly one order or one subscription
				ALTER TABLE invoices
				ADD CONSTRAINT check_single_target
				CHECK ((order_id IS NULL) <> (subscription_id IS NULL));

			-- address indexes are never reused within a chain
				CREATE UNIQUE INDEX IF NOT EXISTS index_invoices_on_chain_and_address_index
				ON invoices(chain, address_index);

			-- an address is never shared by two open invoices of a chain
				CREATE UNIQUE INDEX IF NOT EXISTS index_invoices_on_chain_and_address_pending
				ON invoices(chain, address) WHERE status = 'pending';

				CREATE INDEX IF NOT EXISTS index_invoices_on_status_and_expires_at
				ON invoices(status, expires_at);

				CREATE INDEX IF NOT EXISTS index_payments_on_invoice_id
				ON payments(invoice_id);

				ALTER TABLE payments
				ADD CONSTRAINT check_payment_status
				CHECK (status IN ('pending', 'confirmed', 'failed'));

				ALTER TABLE products
				ADD CONSTRAINT check_stock_not_negative
				CHECK (stock >= 0 AND reserved >= 0);
		`
		if _, err := db.Exec(sql); err != nil {
			return err
		}
		return nil
	}, nil)
}
