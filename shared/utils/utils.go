package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with the given prefix
func GenerateID(prefix string) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 10

	result := make([]byte, length)
	for i := range result {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		result[i] = charset[num.Int64()]
	}

	return fmt.Sprintf("%s-%s", prefix, string(result))
}

// NewCorrelationID returns a random correlation id for a bus round trip.
func NewCorrelationID() string {
	return uuid.NewString()
}

// ValidateUUID reports whether id is a canonical hyphenated UUID.
func ValidateUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}
