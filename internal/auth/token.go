// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// tokenPrefix marks every VisitorPulse tracking token.
	tokenPrefix = "vp_"

	// tokenSecretLength is the number of random bytes in the secret part.
	tokenSecretLength = 32

	// TokenLookupLength is how many leading characters are stored in clear
	// for candidate lookup.
	TokenLookupLength = 16

	// DefaultBcryptCost is used when no cost is configured.
	DefaultBcryptCost = 10
)

// GenerateToken returns a new plaintext token vp_<projectKey>_<secret>.
func GenerateToken(projectKey string) (string, error) {
	secret := make([]byte, tokenSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return fmt.Sprintf("%s%s_%s", tokenPrefix, projectKey, base64.RawURLEncoding.EncodeToString(secret)), nil
}

// LookupPrefix returns the stored lookup prefix of a plaintext token.
func LookupPrefix(plaintext string) string {
	if len(plaintext) <= TokenLookupLength {
		return plaintext
	}
	return plaintext[:TokenLookupLength]
}

// IsProjectToken reports whether s looks like a tracking token.
func IsProjectToken(s string) bool {
	return strings.HasPrefix(s, tokenPrefix) && len(s) > TokenLookupLength
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header value, or "" when absent.
func ExtractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// hashToken pre-hashes with SHA-256 so tokens longer than bcrypt's 72-byte
// input limit are fully covered.
func hashToken(plaintext string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	sha := sha256.Sum256([]byte(plaintext))
	hash, err := bcrypt.GenerateFromPassword(sha[:], cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt failed: %w", err)
	}
	return string(hash), nil
}

func verifyToken(plaintext, storedHash string) bool {
	sha := sha256.Sum256([]byte(plaintext))
	return bcrypt.CompareHashAndPassword([]byte(storedHash), sha[:]) == nil
}

// cacheKey never keeps the plaintext token in memory longer than needed.
func cacheKey(plaintext string) string {
	sha := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sha[:])
}
