package hash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{name: "valid password", password: "SecurePass123!"},
		{name: "minimum length password", password: "abc123"},
		{name: "one short of minimum", password: "abc12", wantErr: ErrPasswordTooShort},
		{name: "empty password", password: "", wantErr: ErrPasswordTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashed, err := Hash(tt.password)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hashed)
			assert.True(t, strings.HasPrefix(hashed, "$2a$12$"), "unexpected bcrypt format %q", hashed[:7])
		})
	}
}

func TestHashIsSalted(t *testing.T) {
	first, err := Hash("SamePassword123!")
	require.NoError(t, err)

	second, err := Hash("SamePassword123!")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCompare(t *testing.T) {
	password := "MySecurePassword123!"
	hashed, err := Hash(password)
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		mismatch bool
	}{
		{name: "correct password", password: password},
		{name: "incorrect password", password: "WrongPassword", mismatch: true},
		{name: "empty password", password: "", mismatch: true},
		{name: "case sensitive", password: strings.ToUpper(password), mismatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Compare(hashed, tt.password)
			if tt.mismatch {
				require.Error(t, err)
				assert.True(t, IsMismatch(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func BenchmarkCompare(b *testing.B) {
	hashed, _ := Hash("BenchmarkPassword123!")

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = Compare(hashed, "BenchmarkPassword123!")
	}
}
