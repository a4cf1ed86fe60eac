// Package cryptoutil holds the integrity checks applied to content bundles:
// SHA-256 hashing, constant-time hash comparison and KMS-backed detached
// signature verification (ECDSA P-256/P-384, RSA-PSS with optional PKCS1v15).
package cryptoutil
