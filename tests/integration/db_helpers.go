package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
)

// TestDB manages the PostgreSQL testcontainer and database handle
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("portal"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// runMigrations executes all goose migrations against the container
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs a stdlib connection
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation. TRUNCATE is a
// table-level operation performed as the owner, so it is not subject
// to the row policies.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"rate_limit_events",
		"audit_log",
		"patient_linking_codes",
		"patients",
		"portal_user_site_access",
		"portal_user_roles",
		"portal_users",
		"sites",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// SeedSite inserts a site under service context and returns its ID.
func (db *TestDB) SeedSite(ctx context.Context, siteCode, name string) (string, error) {
	var siteID string

	err := db.DB.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO sites (site_code, name)
			VALUES ($1, $2)
			RETURNING id
		`, siteCode, name).Scan(&siteID)
	})
	if err != nil {
		return "", fmt.Errorf("failed to seed site: %w", err)
	}

	return siteID, nil
}

// SeedPortalUser inserts an active portal user with the given allowed
// roles. The first role in the list becomes the active role.
func (db *TestDB) SeedPortalUser(ctx context.Context, email, name string, roles []string) (*models.PortalUser, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}

	user := &models.PortalUser{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Status:       models.UserStatusActive,
		ActiveRole:   roles[0],
		AllowedRoles: roles,
	}

	err := db.DB.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO portal_users (id, email, name, status, active_role)
			VALUES ($1, $2, $3, $4, $5)
		`, user.ID, user.Email, user.Name, user.Status, user.ActiveRole); err != nil {
			return err
		}

		for _, role := range roles {
			if _, err := tx.Exec(ctx, `
				INSERT INTO portal_user_roles (user_id, role) VALUES ($1, $2)
			`, user.ID, role); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed portal user: %w", err)
	}

	return user, nil
}

// GrantSiteAccess links a user to a site under service context.
func (db *TestDB) GrantSiteAccess(ctx context.Context, userID, siteID string) error {
	err := db.DB.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO portal_user_site_access (user_id, site_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, userID, siteID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to grant site access: %w", err)
	}
	return nil
}

// SeedPatient inserts a patient in the given linking status and
// returns its ID. Patient rows are only ever inserted in service
// context, matching the EDC sync path.
func (db *TestDB) SeedPatient(ctx context.Context, siteID, subjectKey, linkingStatus string) (string, error) {
	var patientID string

	err := db.DB.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO patients (site_id, subject_key, mobile_linking_status)
			VALUES ($1, $2, $3)
			RETURNING id
		`, siteID, subjectKey, linkingStatus).Scan(&patientID)
	})
	if err != nil {
		return "", fmt.Errorf("failed to seed patient: %w", err)
	}

	return patientID, nil
}
