// Package password hashes the admin password with bcrypt.
package password

import (
	"golang.org/x/crypto/bcrypt"
)

func Hash(plain string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(out), err
}

// Compare returns nil when plain matches hash.
func Compare(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

// IsHash reports whether value parses as a bcrypt hash, which lets the
// configured admin password be either plain text or a hash.
func IsHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
