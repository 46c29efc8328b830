package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateUserRequest
		wantErr string
	}{
		{
			name: "valid",
			req:  CreateUserRequest{Email: "u@test.com", Password: "secret123", Name: "Test"},
		},
		{
			name:    "missing email",
			req:     CreateUserRequest{Password: "secret123", Name: "Test"},
			wantErr: "email is required",
		},
		{
			name:    "bad email",
			req:     CreateUserRequest{Email: "not-an-email", Password: "secret123", Name: "Test"},
			wantErr: "invalid email format",
		},
		{
			name:    "short password",
			req:     CreateUserRequest{Email: "u@test.com", Password: "short", Name: "Test"},
			wantErr: "password must be at least 8 characters",
		},
		{
			name:    "missing name",
			req:     CreateUserRequest{Email: "u@test.com", Password: "secret123"},
			wantErr: "name is required",
		},
		{
			name:    "unknown role",
			req:     CreateUserRequest{Email: "u@test.com", Password: "secret123", Name: "Test", Role: "superuser"},
			wantErr: "invalid role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCreateUserRequest_Normalize(t *testing.T) {
	req := CreateUserRequest{Email: "  User@Test.COM ", Name: " Test User  "}
	req.Normalize()

	assert.Equal(t, "user@test.com", req.Email)
	assert.Equal(t, "Test User", req.Name)
	assert.Equal(t, RoleUser, req.Role)
}

func TestUpdateProfileRequest_Validate(t *testing.T) {
	empty := "   "
	req := UpdateProfileRequest{Name: &empty}
	assert.Error(t, req.Validate())

	name := "New Name"
	req = UpdateProfileRequest{Name: &name}
	assert.NoError(t, req.Validate())

	// Absent field means no change; that is valid.
	assert.NoError(t, (&UpdateProfileRequest{}).Validate())
}

func TestChangePasswordRequest_Validate(t *testing.T) {
	assert.Error(t, (&ChangePasswordRequest{NewPassword: "newsecret1"}).Validate())
	assert.Error(t, (&ChangePasswordRequest{CurrentPassword: "old", NewPassword: "short"}).Validate())
	assert.NoError(t, (&ChangePasswordRequest{CurrentPassword: "old", NewPassword: "newsecret1"}).Validate())
}

func TestToUserInfo_OmitsCredentials(t *testing.T) {
	u := User{
		ID:           7,
		Email:        "u@test.com",
		PasswordHash: "$argon2id$...",
		Name:         "Test",
		Role:         RoleUser,
		IsVerified:   true,
		Preferences:  Preferences{DarkMode: true},
	}

	info := u.ToUserInfo()
	assert.Equal(t, int64(7), info.ID)
	assert.True(t, info.IsVerified)
	assert.True(t, info.Preferences.DarkMode)
}

func TestIsValidRole(t *testing.T) {
	assert.True(t, IsValidRole(RoleUser))
	assert.True(t, IsValidRole(RoleAdmin))
	assert.False(t, IsValidRole("root"))
	assert.False(t, IsValidRole(""))
}
