package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidClient is returned when a client id or secret does not match.
var ErrInvalidClient = errors.New("invalid client credentials")

// HashSecret hashes a client secret with the given bcrypt cost.
func HashSecret(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ClientStore verifies service client secrets against bcrypt hashes.
type ClientStore struct {
	hashes map[string]string
}

// NewClientStore wraps a client id to bcrypt hash map.
func NewClientStore(hashes map[string]string) *ClientStore {
	copied := make(map[string]string, len(hashes))
	for id, hash := range hashes {
		copied[id] = hash
	}
	return &ClientStore{hashes: copied}
}

// Verify reports ErrInvalidClient unless secret matches the client's hash.
func (s *ClientStore) Verify(clientID, secret string) error {
	hash, ok := s.hashes[clientID]
	if !ok {
		return ErrInvalidClient
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrInvalidClient
	}
	return nil
}
