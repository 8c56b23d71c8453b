package signature

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Set of hash algorithms that are supported in tagged hash strings.
const (
	HashSHA1       = "sha1"
	HashSHA256     = "sha256"
	HashSHA256Salt = "sha256_salt"
)

// CalculateHash returns the tagged hash string <algo>:<hex digest> for the
// message. The salt is only used by the sha256_salt algorithm where it is
// prepended to the message.
func CalculateHash(algo string, salt string, msg []byte) (string, error) {
	switch algo {
	case HashSHA256:
		h := sha256.Sum256(msg)
		return HashSHA256 + ":" + hex.EncodeToString(h[:]), nil

	case HashSHA1:
		h := sha1.Sum(msg)
		return HashSHA1 + ":" + hex.EncodeToString(h[:]), nil

	case HashSHA256Salt:
		h := sha256.Sum256(append([]byte(salt), msg...))
		return HashSHA256Salt + ":" + hex.EncodeToString(h[:]), nil
	}

	return "", fmt.Errorf("hash algorithm is not supported: %s", algo)
}

// Hash returns the sha256 tagged hash of the message.
func Hash(msg []byte) string {
	h, _ := CalculateHash(HashSHA256, "", msg)
	return h
}

// ValidateHash recalculates the hash of the message with the algorithm named
// in the tagged hash and compares the results.
func ValidateHash(hash string, salt string, msg []byte) (bool, error) {
	i := strings.Index(hash, ":")
	if i == -1 {
		return false, fmt.Errorf("hash %q doesn't contain algorithm of hashing to verify", hash)
	}

	v, err := CalculateHash(hash[:i], salt, msg)
	if err != nil {
		return false, err
	}

	return v == hash, nil
}

// RawHash returns the hex digest found after the final colon.
func RawHash(hash string) string {
	if i := strings.LastIndex(hash, ":"); i >= 0 {
		return hash[i+1:]
	}
	return hash
}

// HashBytes returns the raw digest bytes of a tagged hash string.
func HashBytes(hash string) ([]byte, error) {
	return hex.DecodeString(RawHash(hash))
}
