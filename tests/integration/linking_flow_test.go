package integration

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/repositories"
	"github.com/trialbridge/portal/internal/services"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		slog.Error("failed to set up test database", "error", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()

	if err := testDB.Teardown(ctx); err != nil {
		slog.Error("failed to tear down test database", "error", err)
	}
	os.Exit(code)
}

func newTestLinkingService(t *testing.T) *services.LinkingService {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cipher, err := auth.NewSecretCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	auditService := services.NewAuditService(testDB.DB, repositories.NewAuditRepository(), logger)

	return services.NewLinkingService(
		testDB.DB,
		repositories.NewPatientRepository(),
		repositories.NewLinkingCodeRepository(),
		repositories.NewSiteAccessRepository(),
		auditService,
		cipher,
		services.LinkingConfig{CodePrefix: "TB", CodeTTL: 72 * time.Hour},
		logger,
	)
}

func newTestAuditService() *services.AuditService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return services.NewAuditService(testDB.DB, repositories.NewAuditRepository(), logger)
}

func investigatorPrincipal(user *models.PortalUser) *auth.Principal {
	return &auth.Principal{
		User:    user,
		Session: database.UserSession(user.ID, user.ActiveRole, user.AllowedRoles),
	}
}

func mustReason(t *testing.T, code, notes string) models.Reason {
	t.Helper()
	reason, err := models.ParseReason(code, notes)
	require.NoError(t, err)
	return reason
}

func patientStatus(t *testing.T, patientID string) string {
	t.Helper()

	var status string
	err := testDB.DB.WithSession(context.Background(), database.ServiceSession(), func(tx pgx.Tx) error {
		return tx.QueryRow(context.Background(),
			`SELECT mobile_linking_status FROM patients WHERE id = $1`, patientID).Scan(&status)
	})
	require.NoError(t, err)
	return status
}

func TestLinkingLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	siteID, err := testDB.SeedSite(ctx, "S001", "Mercy General")
	require.NoError(t, err)

	user, err := testDB.SeedPortalUser(ctx, "inv@example.com", "Site Investigator",
		[]string{models.RoleInvestigator})
	require.NoError(t, err)
	require.NoError(t, testDB.GrantSiteAccess(ctx, user.ID, siteID))

	patientID, err := testDB.SeedPatient(ctx, siteID, "SUBJ-001", models.LinkingStatusNotConnected)
	require.NoError(t, err)

	svc := newTestLinkingService(t)
	principal := investigatorPrincipal(user)

	// Issue a code
	first, err := svc.GenerateCode(ctx, principal, patientID)
	require.NoError(t, err)
	assert.Len(t, first.Code, 10)
	assert.Equal(t, "TB", first.Code[:2])
	assert.Equal(t, models.LinkingStatusLinkingInProgress, patientStatus(t, patientID))

	// Re-reveal returns the same raw code
	revealed, err := svc.GetActiveCode(ctx, principal, patientID)
	require.NoError(t, err)
	assert.Equal(t, first.Code, revealed.Code)

	// A second issuance supersedes the first
	second, err := svc.GenerateCode(ctx, principal, patientID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, second.Code)

	_, err = svc.RedeemCode(ctx, first.Code)
	assert.ErrorIs(t, err, models.ErrNotFound, "superseded code must not redeem")

	// Redeeming the live code connects the patient
	patient, err := svc.RedeemCode(ctx, second.Code)
	require.NoError(t, err)
	assert.Equal(t, models.LinkingStatusConnected, patient.MobileLinkingStatus)
	assert.Equal(t, models.LinkingStatusConnected, patientStatus(t, patientID))

	// Single use
	_, err = svc.RedeemCode(ctx, second.Code)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Disconnect, opt out, come back
	require.NoError(t, svc.Disconnect(ctx, principal, patientID,
		mustReason(t, models.ReasonDeviceLost, "")))
	assert.Equal(t, models.LinkingStatusDisconnected, patientStatus(t, patientID))

	require.NoError(t, svc.MarkNotParticipating(ctx, principal, patientID,
		mustReason(t, models.ReasonWithdrewConsent, "")))
	assert.Equal(t, models.LinkingStatusNotParticipating, patientStatus(t, patientID))

	require.NoError(t, svc.Reactivate(ctx, principal, patientID,
		mustReason(t, models.ReasonSiteRequest, "")))
	assert.Equal(t, models.LinkingStatusDisconnected, patientStatus(t, patientID))

	// Disconnected patients can be issued a fresh code
	third, err := svc.GenerateCode(ctx, principal, patientID)
	require.NoError(t, err)
	assert.NotEqual(t, second.Code, third.Code)
	assert.Equal(t, models.LinkingStatusLinkingInProgress, patientStatus(t, patientID))
}

func TestLinkingStateConflicts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	siteID, err := testDB.SeedSite(ctx, "S001", "Mercy General")
	require.NoError(t, err)

	user, err := testDB.SeedPortalUser(ctx, "inv@example.com", "Site Investigator",
		[]string{models.RoleInvestigator})
	require.NoError(t, err)
	require.NoError(t, testDB.GrantSiteAccess(ctx, user.ID, siteID))

	connectedID, err := testDB.SeedPatient(ctx, siteID, "SUBJ-001", models.LinkingStatusConnected)
	require.NoError(t, err)

	svc := newTestLinkingService(t)
	principal := investigatorPrincipal(user)

	// No code issuance while a device is connected
	_, err = svc.GenerateCode(ctx, principal, connectedID)
	assert.ErrorIs(t, err, models.ErrStateConflict)

	// Disconnect only applies to connected patients
	notConnectedID, err := testDB.SeedPatient(ctx, siteID, "SUBJ-002", models.LinkingStatusNotConnected)
	require.NoError(t, err)

	err = svc.Disconnect(ctx, principal, notConnectedID,
		mustReason(t, models.ReasonSiteRequest, ""))
	assert.ErrorIs(t, err, models.ErrStateConflict)

	// Reactivate only applies to opted-out patients
	err = svc.Reactivate(ctx, principal, connectedID,
		mustReason(t, models.ReasonSiteRequest, ""))
	assert.ErrorIs(t, err, models.ErrStateConflict)
}

func TestLinkingAccessControl(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	siteA, err := testDB.SeedSite(ctx, "S001", "Mercy General")
	require.NoError(t, err)
	siteB, err := testDB.SeedSite(ctx, "S002", "St. Luke's")
	require.NoError(t, err)

	user, err := testDB.SeedPortalUser(ctx, "inv@example.com", "Site Investigator",
		[]string{models.RoleInvestigator})
	require.NoError(t, err)
	require.NoError(t, testDB.GrantSiteAccess(ctx, user.ID, siteA))

	outsideID, err := testDB.SeedPatient(ctx, siteB, "SUBJ-100", models.LinkingStatusNotConnected)
	require.NoError(t, err)

	svc := newTestLinkingService(t)
	principal := investigatorPrincipal(user)

	// A real patient at another site is forbidden, not hidden
	_, err = svc.GenerateCode(ctx, principal, outsideID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	// A nonexistent patient is not found
	_, err = svc.GenerateCode(ctx, principal, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Administrators reach every site
	admin, err := testDB.SeedPortalUser(ctx, "admin@example.com", "Portal Admin",
		[]string{models.RoleAdministrator})
	require.NoError(t, err)

	_, err = svc.GenerateCode(ctx, investigatorPrincipal(admin), outsideID)
	require.NoError(t, err)
}

func TestRowPoliciesDenyWithoutPrincipal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	siteID, err := testDB.SeedSite(ctx, "S001", "Mercy General")
	require.NoError(t, err)
	_, err = testDB.SeedPatient(ctx, siteID, "SUBJ-001", models.LinkingStatusNotConnected)
	require.NoError(t, err)

	// A bare pool query carries no session parameters, so the policies
	// filter every row
	var count int
	err = testDB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Same statement in service context sees the row
	err = testDB.DB.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&count)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The transaction-local parameter does not leak back to the pool
	err = testDB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRowPoliciesScopeInvestigatorToSites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	siteA, err := testDB.SeedSite(ctx, "S001", "Mercy General")
	require.NoError(t, err)
	siteB, err := testDB.SeedSite(ctx, "S002", "St. Luke's")
	require.NoError(t, err)

	user, err := testDB.SeedPortalUser(ctx, "inv@example.com", "Site Investigator",
		[]string{models.RoleInvestigator})
	require.NoError(t, err)
	require.NoError(t, testDB.GrantSiteAccess(ctx, user.ID, siteA))

	_, err = testDB.SeedPatient(ctx, siteA, "SUBJ-001", models.LinkingStatusNotConnected)
	require.NoError(t, err)
	_, err = testDB.SeedPatient(ctx, siteB, "SUBJ-002", models.LinkingStatusNotConnected)
	require.NoError(t, err)

	session := database.UserSession(user.ID, models.RoleInvestigator, user.AllowedRoles)

	var keys []string
	err = testDB.DB.WithSession(ctx, session, func(tx pgx.Tx) error {
		rows, queryErr := tx.Query(ctx, `SELECT subject_key FROM patients ORDER BY subject_key`)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			if scanErr := rows.Scan(&key); scanErr != nil {
				return scanErr
			}
			keys = append(keys, key)
		}
		return rows.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SUBJ-001"}, keys)
}

func TestAuditLedgerAppendOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	svc := newTestAuditService()

	actor := "11111111-1111-1111-1111-111111111111"
	for i := 0; i < 3; i++ {
		_, err := svc.Append(ctx, database.ServiceSession(), &models.AuditEntry{
			ActorID:      &actor,
			Action:       models.AuditActionCodeGenerated,
			ResourceType: models.AuditResourceLinkingCode,
		})
		require.NoError(t, err)
	}

	verification, err := svc.VerifyChain(ctx, database.ServiceSession())
	require.NoError(t, err)
	assert.True(t, verification.ChainIntact)
	assert.Equal(t, 3, verification.TotalRecords)
	assert.Equal(t, 3, verification.ValidRecords)

	// No UPDATE policy exists, so even service context cannot rewrite
	// history: the statement silently matches zero rows
	err = testDB.DB.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		tag, execErr := tx.Exec(ctx, `UPDATE audit_log SET action = 'tampered'`)
		if execErr != nil {
			return execErr
		}
		assert.EqualValues(t, 0, tag.RowsAffected())
		return nil
	})
	require.NoError(t, err)

	verification, err = svc.VerifyChain(ctx, database.ServiceSession())
	require.NoError(t, err)
	assert.True(t, verification.ChainIntact)
}

func TestAuditPurgeKeepsChainVerifiable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	svc := newTestAuditService()

	actor := "11111111-1111-1111-1111-111111111111"
	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, database.ServiceSession(), &models.AuditEntry{
			ActorID:      &actor,
			Action:       models.AuditActionCodeGenerated,
			ResourceType: models.AuditResourceLinkingCode,
		})
		require.NoError(t, err)
	}

	// Purge everything older than the newest two entries
	var cutoff time.Time
	err := testDB.DB.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT created_at FROM audit_log ORDER BY id DESC LIMIT 1 OFFSET 1`).Scan(&cutoff)
	})
	require.NoError(t, err)

	deleted, err := svc.PurgeBefore(ctx, actor, cutoff, "retention window elapsed")
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	verification, err := svc.VerifyChain(ctx, database.ServiceSession())
	require.NoError(t, err)
	assert.True(t, verification.ChainIntact, "purge must anchor the surviving chain")
	assert.Equal(t, 3, verification.TotalRecords, "two survivors plus the purge record")
}

func TestPasswordResetRateLimiting(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := services.NewRateLimitService(testDB.DB, repositories.NewRateLimitRepository(),
		map[string]services.RateLimitConfig{
			models.RateLimitOpPasswordReset: {Window: 15 * time.Minute, Threshold: 3},
		}, logger)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.CheckAndRecord(ctx, models.RateLimitOpPasswordReset, "user@example.com"))
	}

	err := svc.CheckAndRecord(ctx, models.RateLimitOpPasswordReset, "user@example.com")
	var limited *models.RateLimitedError
	require.ErrorAs(t, err, &limited)

	// Another destination is unaffected
	require.NoError(t, svc.CheckAndRecord(ctx, models.RateLimitOpPasswordReset, "other@example.com"))
}
