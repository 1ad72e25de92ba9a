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
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	auditdomain "github.com/smallbiznis/proposalpricing/internal/audit/domain"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	proposaldomain "github.com/smallbiznis/proposalpricing/internal/proposal/domain"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// Models lists every table the service owns, for dialects without
// versioned migrations.
func Models() []any {
	return []any{
		&financingdomain.FinancingPlan{},
		&permissiondomain.UserPermission{},
		&proposaldomain.Proposal{},
		&approvaldomain.ApprovalRequest{},
		&auditdomain.AuditLog{},
	}
}

// RunMigrations applies the embedded postgres migrations.
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
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema on sqlite and mysql.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	return conn.AutoMigrate(Models()...)
}
