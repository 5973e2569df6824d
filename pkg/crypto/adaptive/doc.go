// Package adaptive provides adaptive encryption for at-rest data.
//
// This package implements a cipher abstraction; New selects the
// algorithm from the target architecture (runtime.GOARCH).
//
// Supported Algorithms:
//
//   - AES-256-GCM: chosen by New on amd64 and arm64
//   - ChaCha20-Poly1305: chosen by New on every other architecture
//
// Features:
//
//   - Architecture-based selection; CPU features are not probed
//   - AEAD: Authenticated encryption with associated data
//   - Raw keys only: the package does not derive keys from passwords
//   - Thread Safety: All cipher operations are thread-safe
//
// Usage:
//
//	cipher, err := adaptive.New(key)
//	encrypted, err := cipher.Encrypt(plaintext, aad)
//	plaintext, err := cipher.Decrypt(encrypted, aad)
package adaptive
