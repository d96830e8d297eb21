package maildrop

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func apopDigest(timestamp, password string) string {
	sum := md5.Sum([]byte(timestamp + password))
	return hex.EncodeToString(sum[:])
}

func TestVerifyPasswordCleartext(t *testing.T) {
	tests := []struct {
		name     string
		supplied string
		stored   string
		want     bool
	}{
		{"exact match", "secret", "secret", true},
		{"mismatch", "secrex", "secret", false},
		{"length mismatch", "secret1", "secret", false},
		{"empty supplied", "", "secret", false},
		{"both empty", "", "", true},
		{"case sensitive", "Secret", "secret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyPassword(tt.supplied, tt.stored, ""))
		})
	}
}

func TestVerifyPasswordAPOP(t *testing.T) {
	ts := fmt.Sprintf("<%d.%d@%s>", 1896, 1725000000, "mail.example.com")

	assert.True(t, VerifyPassword(apopDigest(ts, "secret"), "secret", ts))
	// RFC 1939 digests are lowercase hex, but accept uppercase from clients
	assert.True(t, VerifyPassword(strings.ToUpper(apopDigest(ts, "secret")), "secret", ts))
	assert.False(t, VerifyPassword(apopDigest(ts, "wrong"), "secret", ts))
	assert.False(t, VerifyPassword(apopDigest("<other@host>", "secret"), "secret", ts))
	// Cleartext password sent where a digest is expected
	assert.False(t, VerifyPassword("secret", "secret", ts))
	assert.False(t, VerifyPassword("", "secret", ts))
}

func TestVerifyPasswordBcryptStored(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, VerifyPassword("secret", string(hash), ""))
	assert.False(t, VerifyPassword("wrong", string(hash), ""))

	// APOP needs the stored credential in plaintext
	ts := "<123@host>"
	assert.False(t, VerifyPassword(apopDigest(ts, "secret"), string(hash), ts))
	assert.False(t, VerifyPassword(apopDigest(ts, string(hash)), string(hash), ts))
}

func TestVerifyPasswordMalformedInput(t *testing.T) {
	// Must fail, never panic
	assert.False(t, VerifyPassword("$2a$ garbage", "$2a$not-a-real-hash", ""))
	assert.False(t, VerifyPassword("\x00\xff", "secret", ""))
	assert.False(t, VerifyPassword("anything", "", "<ts@host>"))
}
