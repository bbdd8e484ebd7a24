package main

import (
	"context"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/atinyakov/memberauth/internal/config"
	"github.com/atinyakov/memberauth/internal/db"
	"github.com/atinyakov/memberauth/internal/repository"
	"github.com/atinyakov/memberauth/internal/user"
)

const driverMemory = "memory"

// openStore returns the record store selected by the configuration and a
// function releasing it. SQL stores are migrated first when migrate is set.
func openStore(ctx context.Context, cfg *config.Config, migrate bool, log *zap.Logger) (user.RecordStore, func() error, error) {
	driver := cfg.Driver()
	if driver == driverMemory {
		records := repository.NewMemoryRecordStore()
		if err := repository.SeedGroups(ctx, records); err != nil {
			return nil, nil, oops.Code("STORE_INIT_FAILED").Wrapf(err, "seed groups")
		}
		log.Warn("using in-memory store; data is lost on restart")
		return records, func() error { return nil }, nil
	}

	dialect, err := repository.DialectFor(driver)
	if err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").With("driver", driver).Wrap(err)
	}

	conn, err := db.Open(ctx, driver, cfg.DSN())
	if err != nil {
		return nil, nil, oops.Code("DB_CONNECT_FAILED").With("driver", driver).Wrap(err)
	}
	if migrate {
		if err := db.Migrate(ctx, conn, dialect); err != nil {
			_ = conn.Close()
			return nil, nil, oops.Code("MIGRATION_FAILED").With("driver", driver).Wrap(err)
		}
	}
	return repository.NewSQLRecordStore(conn, dialect), conn.Close, nil
}
