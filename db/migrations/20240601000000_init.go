package migrations

import (
	"context"

	"github.com/payhub/payhub.go/db/models"
	"github.com/uptrace/bun"
)

// Marketplace tables (products, orders, shops, subscriptions) already exist in
// the shared deployment, hence IfNotExists on every table. Column changes go
// into a new migration.
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		tables := []interface{}{
			(*models.Shop)(nil),
			(*models.Product)(nil),
			(*models.Order)(nil),
			(*models.Subscription)(nil),
			(*models.Invoice)(nil),
			(*models.Payment)(nil),
		}
		for _, model := range tables {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}, nil)
}
