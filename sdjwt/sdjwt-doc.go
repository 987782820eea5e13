/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sdjwt implements token-based credentials that support selective disclosure of individual claims.
//
// An issuer commits to a full claim set by signing a tree of salted digest commitments while handing the
// holder the matching release material (SVC): the full set of salted disclosures, cryptographically
// protected against undetected modification.
//
// The holder decides which claims to reveal to a verifier and derives, per presentation request, a release
// document carrying exactly that subset of disclosures, the verifier's nonce and the intended audience.
// Selection is pure: one SVC yields arbitrarily many independent presentations.
//
// The verifier re-derives the digest of every revealed disclosure and checks it against the commitment in
// the issuer-signed credential body. The verifier will not, however, learn any claim value not revealed in
// the release document, and cannot forge disclosure of a claim it was not shown.
//
// This implementation supports:
//
// - selectively disclosable claims in flat data structures as well as more complex, nested data structures
//
// - a disclosure structure controlling which subtrees are decomposed field-by-field versus disclosed as one
// atomic unit, with single-element structure arrays broadcast across subject arrays
//
// - combining selectively disclosable claims with clear-text claims that are always disclosed
//
// This implementation also supports an optional mechanism for Holder Binding,
// the concept of binding a credential to key material controlled by the Holder.
// The strength of the Holder Binding is conditional upon the trust in the protection
// of the private key of the key pair a credential is bound to.
package sdjwt
