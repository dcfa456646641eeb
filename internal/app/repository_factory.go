package app

import (
	"fmt"

	billingDomain "github.com/felixgeelhaar/cadence/internal/billing/domain"
	billingPersistence "github.com/felixgeelhaar/cadence/internal/billing/infrastructure/persistence"
	catalogDomain "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	catalogPersistence "github.com/felixgeelhaar/cadence/internal/catalog/infrastructure/persistence"
	reconciliationDomain "github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	reconciliationPersistence "github.com/felixgeelhaar/cadence/internal/reconciliation/infrastructure/persistence"
	sharedApplication "github.com/felixgeelhaar/cadence/internal/shared/application"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/outbox"
)

// Repositories is the persistence side of the container.
type Repositories struct {
	Plans         catalogDomain.Repository
	Subscriptions billingDomain.Repository
	Failures      reconciliationDomain.FailureRepository
	Outbox        outbox.Repository
	UnitOfWork    sharedApplication.UnitOfWork
}

// RepositoryFactory creates repositories based on the database driver.
type RepositoryFactory struct {
	conn   database.Connection
	driver database.Driver
}

// NewRepositoryFactory creates a new repository factory.
func NewRepositoryFactory(conn database.Connection) *RepositoryFactory {
	return &RepositoryFactory{
		conn:   conn,
		driver: conn.Driver(),
	}
}

// Build creates every repository on the factory's connection. The SQL
// repositories rebind placeholders per driver, so both backends share them.
func (f *RepositoryFactory) Build() (*Repositories, error) {
	switch f.driver {
	case database.DriverPostgres, database.DriverSQLite:
		return &Repositories{
			Plans:         catalogPersistence.NewSQLPlanRepository(f.conn),
			Subscriptions: billingPersistence.NewSQLSubscriptionRepository(f.conn),
			Failures:      reconciliationPersistence.NewSQLFailureRepository(f.conn),
			Outbox:        outbox.NewSQLRepository(f.conn),
			UnitOfWork:    database.NewUnitOfWork(f.conn),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// Driver returns the database driver type.
func (f *RepositoryFactory) Driver() database.Driver {
	return f.driver
}

// Connection returns the underlying database connection.
func (f *RepositoryFactory) Connection() database.Connection {
	return f.conn
}

// MemoryRepositories returns process-local repositories with no-op
// transactions, for tests and ephemeral runs.
func MemoryRepositories() *Repositories {
	return &Repositories{
		Plans:         catalogPersistence.NewMemoryPlanRepository(),
		Subscriptions: billingPersistence.NewMemorySubscriptionRepository(),
		Failures:      reconciliationPersistence.NewMemoryFailureRepository(),
		Outbox:        outbox.NewMemoryRepository(),
		UnitOfWork:    sharedApplication.NoopUnitOfWork{},
	}
}
