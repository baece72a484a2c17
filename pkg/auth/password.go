package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor for new password hashes
const DefaultBcryptCost = 12

// ErrInvalidCredentials is returned for an unknown email or a wrong
// password; callers must not distinguish the two
var ErrInvalidCredentials = errors.New("invalid email or password")

const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

// HashPassword hashes a password with bcrypt at cost
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a stored hash with a candidate password
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// PasswordProblems returns every rule the password breaks, in a stable
// order. An empty result means the password is acceptable.
func PasswordProblems(password string) []string {
	var (
		problems                  []string
		hasUpper, hasDigit, hasSp bool
	)
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSp = true
		}
	}

	if len(password) < 8 {
		problems = append(problems, "Password must be at least 8 characters long.")
	}
	if !hasUpper {
		problems = append(problems, "Password must contain at least one uppercase letter.")
	}
	if !hasSp {
		problems = append(problems, "Password must contain at least one special character.")
	}
	if !hasDigit {
		problems = append(problems, "Password must contain at least one number.")
	}
	// bcrypt ignores everything past 72 bytes
	if len(password) > 72 {
		problems = append(problems, "Password must be at most 72 characters long.")
	}
	return problems
}
