package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost keeps a single verification above ~50ms on current server CPUs.
// Existing hashes carry their own cost, so raising it never invalidates them.
const DefaultCost = 12

// Hasher verifies and produces one-way password hashes.
type Hasher interface {
	Verify(password, hash string) (bool, error)
	Hash(password string) (string, error)
}

// BcryptHasher is a stateless Hasher; build one at startup and share it.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, or DefaultCost when cost is zero.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost %d outside [%d,%d]", ErrInvalidInput, cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Cost returns the cost applied to new hashes.
func (h *BcryptHasher) Cost() int { return h.cost }

// Hash hashes plaintext password using bcrypt.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored hash. A mismatch is (false, nil);
// only a corrupt hash yields ErrInvalidHashFormat.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	if hash == "" {
		return false, fmt.Errorf("%w: hash is empty", ErrInvalidHashFormat)
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrInvalidHashFormat, err)
	}
}

// NeedsRehash reports whether hash was produced with a lower cost than configured.
func (h *BcryptHasher) NeedsRehash(hash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidHashFormat, err)
	}
	return cost < h.cost, nil
}
