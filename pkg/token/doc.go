// Package token provides token generation and validation utilities.
//
// This package implements cryptographically secure bearer token
// generation and hashing for the relay's coarse per-workspace
// authorization.
//
// Security:
//
//   - Uses crypto/rand for CSPRNG
//   - SHA-256 hashing with constant-time comparison
//   - Tokens are never stored, only hashes
package token
