// Package dbtest provisions isolated Postgres databases for repository tests.
//
// A single postgres container is spawned (lazily) per test binary. The master
// database inside that container is migrated once and marked as a template, and
// each test which requests a database receives a fresh copy of that template.
// Tests using this package are skipped when running with -short, or when no
// docker daemon is reachable.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/database"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	User         = "postgres"
	Password     = "postgres"
	MasterDBName = "CADENCE_MASTER"
)

type databaseManager struct {
	sync.Mutex
	pgContainer *postgres.PostgresContainer
	connection  *sql.DB
	host        string
	port        string
	startErr    error
}

var manager = &databaseManager{}

// Provision returns a connection to a brand new, fully migrated, database
// which is dropped when the test completes.
func Provision(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	manager.Lock()
	defer manager.Unlock()

	if manager.connection == nil && manager.startErr == nil {
		manager.startErr = manager.start()
	}
	if manager.startErr != nil {
		t.Skipf("postgres test container unavailable: %s", manager.startErr)
	}

	name := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := manager.connection.Exec(fmt.Sprintf(`CREATE DATABASE "%s" TEMPLATE "%s"`, name, MasterDBName)); err != nil {
		t.Fatalf("failed to provision database '%s' from template '%s': %s", name, MasterDBName, err)
	}

	cfg := database.DatabaseConfig{User: User, Password: Password, Name: name, Host: manager.host, Port: manager.port, SSLMode: "disable"}
	db, err := sqlx.Open(database.SqlDialect, cfg.DSN())
	if err != nil {
		t.Fatalf("failed to connect to provisioned database '%s': %s", name, err)
	}

	t.Cleanup(func() {
		_ = db.Close()

		manager.Lock()
		defer manager.Unlock()
		if _, err := manager.connection.Exec(fmt.Sprintf(`DROP DATABASE IF EXISTS "%s"`, name)); err != nil {
			t.Logf("WARNING: failed to drop test database '%s': %s", name, err)
		}
	})

	return db
}

// start spawns the postgres container, migrates the master database and
// marks it as a template for subsequent provisioning.
func (manager *databaseManager) start() error {
	ctx := context.Background()
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(MasterDBName),
		postgres.WithUsername(User),
		postgres.WithPassword(Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return err
	}

	manager.pgContainer = container
	manager.host = host
	manager.port = port.Port()

	masterCfg := database.DatabaseConfig{User: User, Password: Password, Name: MasterDBName, Host: host, Port: port.Port(), SSLMode: "disable"}
	master, err := sql.Open(database.SqlDialect, masterCfg.DSN())
	if err != nil {
		return err
	}
	if err := database.Migrate(master); err != nil {
		return err
	}
	_ = master.Close()

	// Template databases cannot be copied while connections to them are open, so
	// the management connection uses the default 'postgres' database instead.
	adminCfg := masterCfg
	adminCfg.Name = "postgres"
	conn, err := sql.Open(database.SqlDialect, adminCfg.DSN())
	if err != nil {
		return err
	}
	if _, err := conn.Exec(fmt.Sprintf(`ALTER DATABASE "%s" WITH is_template TRUE`, MasterDBName)); err != nil {
		return fmt.Errorf("failed to mark master database as template: %w", err)
	}

	manager.connection = conn
	return nil
}
