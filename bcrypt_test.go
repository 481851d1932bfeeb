package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-trace-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptAuthenticator(t *testing.T) {
	hasher := auth.BcryptAuthenticator{Cost: bcrypt.MinCost}

	stored, err := hasher.HashPassword(testPassword)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(stored))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	tests := []struct {
		name     string
		password string
		hash     string
		want     error
	}{
		{name: "matching password", password: testPassword, hash: stored},
		{name: "wrong password", password: "not-" + testPassword, hash: stored, want: auth.ErrMismatchedHashAndPassword},
		{name: "password is case sensitive", password: "S3CRET-PASS", hash: stored, want: auth.ErrMismatchedHashAndPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hasher.ComparePasswordAndHash(tt.password, tt.hash)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBcryptRejectsBadInput(t *testing.T) {
	_, err := auth.BcryptAuthenticator{}.HashPassword("")
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)

	err = auth.ComparePasswordAndHash(testPassword, "not-a-bcrypt-hash")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
}

func TestHashPasswordSalts(t *testing.T) {
	first, err := auth.HashPasswordWithCost(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	second, err := auth.HashPasswordWithCost(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NoError(t, auth.ComparePasswordAndHash(testPassword, second))
}
