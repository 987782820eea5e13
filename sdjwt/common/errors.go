/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import "errors"

// Error kinds returned by the issuer, holder and verifier operations. Every
// failure is fatal to the current operation and wraps exactly one of these
// sentinels, so callers can classify with errors.Is. None of the kinds is
// retryable without changing inputs.
var (
	// ErrMalformedInput - wrong segment count, unparsable JSON or base64,
	// array-length mismatch during correlation.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnsupportedAlgorithm - signing, verification or hashing requested
	// for an algorithm or key type that is not implemented.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrUntrustedIssuer - credential issuer is not present in the
	// caller-supplied trust table.
	ErrUntrustedIssuer = errors.New("untrusted issuer")

	// ErrSignatureInvalid - credential or release document signature fails
	// verification.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrHolderBinding - credential requires holder binding and no or a
	// mismatched holder key was supplied.
	ErrHolderBinding = errors.New("holder binding violation")

	// ErrDigestMismatch - a disclosed value's recomputed digest does not
	// equal the committed digest.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrClaimShape - a disclosed salted pair does not decode to exactly two
	// elements, or a digest walk encounters a non-string leaf.
	ErrClaimShape = errors.New("claim shape invalid")

	// ErrTemporalInvalid - current time precedes iat beyond the grace window
	// or is at or after exp.
	ErrTemporalInvalid = errors.New("temporal claim invalid")

	// ErrClaimMismatch - nonce or audience in the release document differ
	// from caller expectations.
	ErrClaimMismatch = errors.New("claim mismatch")
)
