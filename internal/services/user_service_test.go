package services

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trialbridge/portal/internal/models"
)

func newTestUserService() *UserService {
	return &UserService{
		logger: slog.Default(),
	}
}

func TestUserService_SwitchRole_UnknownRole(t *testing.T) {
	svc := newTestUserService()
	principal := NewTestPrincipal(NewTestUser("user123", "admin@example.com", "Admin"))

	err := svc.SwitchRole(context.Background(), principal, "superuser")

	assert.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestUserService_SwitchRole_RoleNotAllowed(t *testing.T) {
	svc := newTestUserService()
	user := NewTestUser("user123", "admin@example.com", "Admin")
	user.AllowedRoles = []string{models.RoleAdministrator}
	principal := NewTestPrincipal(user)

	err := svc.SwitchRole(context.Background(), principal, models.RoleAuditor)

	assert.Error(t, err)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestUserService_CreateUser_NoRoles(t *testing.T) {
	svc := newTestUserService()
	principal := NewTestPrincipal(NewTestUser("user123", "admin@example.com", "Admin"))

	result, err := svc.CreateUser(context.Background(), principal, CreateUserInput{
		Email: "new@example.com",
		Name:  "New User",
	})

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestUserService_CreateUser_UnknownRole(t *testing.T) {
	svc := newTestUserService()
	principal := NewTestPrincipal(NewTestUser("user123", "admin@example.com", "Admin"))

	result, err := svc.CreateUser(context.Background(), principal, CreateUserInput{
		Email:        "new@example.com",
		Name:         "New User",
		AllowedRoles: []string{"root"},
	})

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestUserService_CreateUser_DeveloperAdminGrantRequiresDeveloperAdmin(t *testing.T) {
	svc := newTestUserService()
	// administrators cannot hand out the developer_admin role
	principal := NewTestPrincipal(NewTestUser("user123", "admin@example.com", "Admin"))

	result, err := svc.CreateUser(context.Background(), principal, CreateUserInput{
		Email:        "dev@example.com",
		Name:         "Dev Admin",
		AllowedRoles: []string{models.RoleDeveloperAdmin},
	})

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestUserService_CreateUser_DeveloperAdminGrantRequiresTOTP(t *testing.T) {
	svc := newTestUserService()
	actor := NewTestUser("user123", "dev@example.com", "Dev Admin")
	actor.ActiveRole = models.RoleDeveloperAdmin
	actor.AllowedRoles = []string{models.RoleDeveloperAdmin}
	// no verified TOTP secret
	principal := NewTestPrincipal(actor)

	result, err := svc.CreateUser(context.Background(), principal, CreateUserInput{
		Email:        "dev2@example.com",
		Name:         "Second Dev Admin",
		AllowedRoles: []string{models.RoleDeveloperAdmin},
	})

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestUserService_RevokeUser_SelfRevocation(t *testing.T) {
	svc := newTestUserService()
	principal := NewTestPrincipal(NewTestUser("user123", "admin@example.com", "Admin"))

	err := svc.RevokeUser(context.Background(), principal, "user123")

	assert.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestUserService_UpdateUser_UnknownStatus(t *testing.T) {
	svc := newTestUserService()
	principal := NewTestPrincipal(NewTestUser("user123", "admin@example.com", "Admin"))

	status := "suspended"
	result, err := svc.UpdateUser(context.Background(), principal, "user456", UpdateUserInput{
		Status: &status,
	})

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestUserService_VerifyTOTP_NoEnrollment(t *testing.T) {
	svc := newTestUserService()
	principal := NewTestPrincipal(NewTestUser("user123", "admin@example.com", "Admin"))

	err := svc.VerifyTOTP(context.Background(), principal, "123456")

	assert.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestUserService_HandlePasswordResetRequest_EmptyEmail(t *testing.T) {
	svc := newTestUserService()

	err := svc.HandlePasswordResetRequest(context.Background(), "   ")

	assert.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestGenerateResetCode_Format(t *testing.T) {
	code, err := generateResetCode()

	assert.NoError(t, err)
	assert.Len(t, code, resetCodeLength)
	for _, c := range code {
		assert.Contains(t, linkingCodeCharset, string(c))
	}
}
