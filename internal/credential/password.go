// Package credential hashes and verifies passwords with bcrypt.
package credential

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 10

// MinPasswordLength is the shortest password accepted anywhere in the service.
const MinPasswordLength = 6

// MaxPasswordLength is the longest password bcrypt can hash, in bytes.
const MaxPasswordLength = 72

var cost atomic.Int64

func init() {
	cost.Store(DefaultCost)
}

// SetCost changes the bcrypt work factor for hashes created from now on.
func SetCost(c int) {
	if c < bcrypt.MinCost || c > bcrypt.MaxCost {
		c = DefaultCost
	}
	cost.Store(int64(c))
}

// Hash returns a salted bcrypt hash of plain.
func Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("empty password")
	}
	if len(plain) > MaxPasswordLength {
		return "", fmt.Errorf("password longer than %d bytes", MaxPasswordLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), int(cost.Load()))
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Match reports whether plain matches the stored hash, in constant time.
func Match(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
