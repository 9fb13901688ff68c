package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	catalogdomain "github.com/smallbiznis/iahome/internal/catalog/domain"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/iahome/internal/payment/domain"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	usagedomain "github.com/smallbiznis/iahome/internal/usage/domain"
	"github.com/smallbiznis/iahome/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the service owns, in creation order.
func Models() []any {
	return []any{
		&profiledomain.Profile{},
		&catalogdomain.Module{},
		&ledgerdomain.UserTokens{},
		&usagedomain.UsageRecord{},
		&ledgerdomain.CreditTransaction{},
		&paymentdomain.EventRecord{},
		&accesstokendomain.AccessToken{},
	}
}

// Migrate applies the embedded SQL on postgres and falls back to AutoMigrate
// for the other dialects.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if !db.IsPostgres(conn) {
		return conn.AutoMigrate(Models()...)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
