package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	sqltrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/database/sql"
)

var supportedSchemes = []string{"postgres://", "postgresql://", "unix://"}

func isPostgresDSN(dsn string) bool {
	for _, scheme := range supportedSchemes {
		if strings.HasPrefix(dsn, scheme) {
			return true
		}
	}
	return false
}

// Open returns a pooled postgres handle. BUNDEBUG=1 logs failed queries,
// BUNDEBUG=2 all of them.
func Open(config *service.Config) (*bun.DB, error) {
	dsn := config.DatabaseUri
	if !isPostgresDSN(dsn) {
		return nil, fmt.Errorf("invalid database connection string, only (postgres|postgresql|unix):// is supported")
	}

	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithApplicationName("payhub"),
		pgdriver.WithTimeout(time.Duration(config.DatabaseTimeout)*time.Second),
	)
	var sqlDB *sql.DB
	if config.DatadogAgentUrl != "" {
		sqltrace.Register("postgres", pgdriver.Driver{}, sqltrace.WithServiceName("payhub.go"))
		sqlDB = sqltrace.OpenDB(connector)
	} else {
		sqlDB = sql.OpenDB(connector)
	}

	db := bun.NewDB(sqlDB, pgdialect.New())
	db.SetMaxOpenConns(config.DatabaseMaxConns)
	db.SetMaxIdleConns(config.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(config.DatabaseConnMaxLifetime) * time.Second)
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv("BUNDEBUG"),
	))
	return db, nil
}

// WaitForDB pings the database until it answers or ctx is done. Used at
// startup when postgres may still be coming up next to us.
func WaitForDB(ctx context.Context, db *bun.DB) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(b, ctx))
}
