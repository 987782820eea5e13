/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package jwk provides the JSON Web Key representation used for holder
// binding, including the stable content-based thumbprint keys are compared by.
package jwk

import (
	"crypto"
	_ "crypto/sha256" // for crypto.SHA256
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v3"
)

// ErrInvalidKey is returned when passed JWK is invalid.
var ErrInvalidKey = errors.New("invalid JWK")

// JWK (JSON Web Key) is a JSON data structure that represents a cryptographic key.
type JWK struct {
	jose.JSONWebKey
}

// New creates a JWK from a raw public or private key (e.g. ed25519.PublicKey,
// *rsa.PublicKey or their private counterparts).
func New(key interface{}) *JWK {
	return &JWK{JSONWebKey: jose.JSONWebKey{Key: key}}
}

// Thumbprint computes the RFC 7638 SHA-256 thumbprint of the key,
// base64url-encoded. Two JWKs describe the same key exactly when their
// thumbprints are equal.
func (j *JWK) Thumbprint() (string, error) {
	if j.Key == nil {
		return "", fmt.Errorf("%w: no key material", ErrInvalidKey)
	}

	tp, err := j.JSONWebKey.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("compute JWK thumbprint: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(tp), nil
}
