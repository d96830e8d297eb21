package maildrop

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt hashes as stored by the admin CLI or migrated from other systems.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

func isBcryptHash(stored string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(stored, p) {
			return true
		}
	}
	return false
}

// VerifyPassword checks a supplied credential against the stored one.
//
// With an empty timestamp the comparison is cleartext: bcrypt verification
// when the stored credential is a bcrypt hash, otherwise a constant-time
// byte comparison.
//
// With a non-empty timestamp the supplied value is treated as an APOP digest
// (RFC 1939): the lowercase hex MD5 of timestamp+storedPassword. APOP
// requires the stored credential in plaintext; a hashed credential always
// fails.
//
// Malformed input never panics, it only fails verification.
func VerifyPassword(supplied, stored, timestamp string) bool {
	if timestamp != "" {
		if isBcryptHash(stored) {
			return false
		}
		sum := md5.Sum([]byte(timestamp + stored))
		digest := hex.EncodeToString(sum[:])
		return secureCompare(strings.ToLower(supplied), digest)
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}
	return secureCompare(supplied, stored)
}

// secureCompare is a timing-safe string equality check. Unequal lengths fail
// immediately; equal-length inputs are compared in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
