/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package common holds the wire formats, registered claim names and digest
// helpers shared by the sdjwt issuer, holder and verifier packages.
package common

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencred/sdjwt/claimtree"
	"github.com/opencred/sdjwt/jwk"
)

// SegmentSeparator separates wire format segments.
const (
	SegmentSeparator = "."

	// CredentialSegmentCount is header.payload.signature.svc.
	CredentialSegmentCount = 4

	// PresentationSegmentCount is header.payload.signature.rheader.rpayload.rsignature.
	PresentationSegmentCount = 6

	jwsSegmentCount = 3
)

// Registered claim names.
const (
	IssuerKey    = "iss"
	IssuedAtKey  = "iat"
	ExpiryKey    = "exp"
	SDHashAlgKey = "sd_hash_alg"
	SDDigestsKey = "sd_digests"
	CNFKey       = "cnf"
	NonceKey     = "nonce"
	AudienceKey  = "aud"
	SDReleaseKey = "sd_release"
)

// DefaultSDHashAlg is the hash algorithm credentials commit disclosures with.
const DefaultSDHashAlg = "sha-256"

// CombinedFormatForIssuance holds the issuer-signed SD-JWT and the
// base64url-encoded SVC the holder derives presentations from.
type CombinedFormatForIssuance struct {
	SDJWT string
	SVC   string
}

// Serialize will assemble combined format for issuance.
func (cf *CombinedFormatForIssuance) Serialize() string {
	return cf.SDJWT + SegmentSeparator + cf.SVC
}

// ParseCombinedFormatForIssuance parses combined format for issuance into CombinedFormatForIssuance parts.
func ParseCombinedFormatForIssuance(combinedFormatForIssuance string) (*CombinedFormatForIssuance, error) {
	parts := strings.Split(combinedFormatForIssuance, SegmentSeparator)
	if len(parts) != CredentialSegmentCount {
		return nil, fmt.Errorf("%w: credential must have %d segments, got %d",
			ErrMalformedInput, CredentialSegmentCount, len(parts))
	}

	return &CombinedFormatForIssuance{
		SDJWT: strings.Join(parts[:jwsSegmentCount], SegmentSeparator),
		SVC:   parts[jwsSegmentCount],
	}, nil
}

// CombinedFormatForPresentation holds the issuer-signed SD-JWT and the holder's
// release document JWT.
type CombinedFormatForPresentation struct {
	SDJWT      string
	ReleaseJWT string
}

// Serialize will assemble combined format for presentation.
func (cf *CombinedFormatForPresentation) Serialize() string {
	return cf.SDJWT + SegmentSeparator + cf.ReleaseJWT
}

// ParseCombinedFormatForPresentation parses combined format for presentation into
// CombinedFormatForPresentation parts.
func ParseCombinedFormatForPresentation(combinedFormatForPresentation string) (*CombinedFormatForPresentation, error) { // nolint:lll
	parts := strings.Split(combinedFormatForPresentation, SegmentSeparator)
	if len(parts) != PresentationSegmentCount {
		return nil, fmt.Errorf("%w: presentation must have %d segments, got %d",
			ErrMalformedInput, PresentationSegmentCount, len(parts))
	}

	return &CombinedFormatForPresentation{
		SDJWT:      strings.Join(parts[:jwsSegmentCount], SegmentSeparator),
		ReleaseJWT: strings.Join(parts[jwsSegmentCount:], SegmentSeparator),
	}, nil
}

// GetHash calculates hash of data using hash function identified by hash.
func GetHash(hash crypto.Hash, value string) (string, error) {
	if !hash.Available() {
		return "", fmt.Errorf("%w: hash function not available for: %d", ErrUnsupportedAlgorithm, hash)
	}

	h := hash.New()

	if _, hashErr := h.Write([]byte(value)); hashErr != nil {
		return "", hashErr
	}

	result := h.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(result), nil
}

// GetCryptoHash returns crypto hash from SD hash algorithm name.
func GetCryptoHash(sdAlg string) (crypto.Hash, error) {
	// The hash algorithms MD2, MD4, MD5, RIPEMD-160 and SHA-1 revealed
	// fundamental weaknesses and MUST NOT be used.
	switch strings.ToLower(sdAlg) {
	case "sha-256":
		return crypto.SHA256, nil
	case "sha-384":
		return crypto.SHA384, nil
	case "sha-512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %s '%s' not supported", ErrUnsupportedAlgorithm, SDHashAlgKey, sdAlg)
	}
}

// SVC is the release material produced once at issuance: a tree shaped
// identically to sd_digests whose leaves are salted disclosure strings.
type SVC struct {
	SDRelease *claimtree.Node `json:"sd_release"`
}

// Encode serializes the SVC to its base64url wire segment.
func (s *SVC) Encode() (string, error) {
	svcBytes, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal SVC: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(svcBytes), nil
}

// ParseSVC decodes the SVC wire segment.
func ParseSVC(segment string) (*SVC, error) {
	svcBytes, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: decode SVC segment: %s", ErrMalformedInput, err)
	}

	tree, err := claimtree.Parse(svcBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse SVC: %s", ErrMalformedInput, err)
	}

	release := tree.Field(SDReleaseKey)
	if release == nil {
		return nil, fmt.Errorf("%w: SVC must contain %s", ErrMalformedInput, SDReleaseKey)
	}

	return &SVC{SDRelease: release}, nil
}

// MakeSaltedDisclosure builds the canonical string form of a salted
// disclosure: the 2-element array [salt, value] serialized to a JSON string.
// The disclosure is always stored as a string leaf in surrounding trees so
// the correlator treats it as opaque.
func MakeSaltedDisclosure(salt string, value *claimtree.Node) (string, error) {
	pair := claimtree.NewArray(claimtree.NewString(salt), value)

	pairBytes, err := pair.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal salted disclosure: %w", err)
	}

	return string(pairBytes), nil
}

// ParseSaltedDisclosure decodes the canonical string form back into its salt
// and claim value. The pair must decode to exactly two elements.
func ParseSaltedDisclosure(disclosure string) (string, *claimtree.Node, error) {
	pair, err := claimtree.Parse([]byte(disclosure))
	if err != nil {
		return "", nil, fmt.Errorf("%w: parse salted disclosure: %s", ErrClaimShape, err)
	}

	if pair.Kind() != claimtree.KindArray || pair.Len() != 2 {
		return "", nil, fmt.Errorf("%w: salted disclosure must be a 2-element array", ErrClaimShape)
	}

	salt, ok := pair.Elem(0).StringValue()
	if !ok {
		return "", nil, fmt.Errorf("%w: salted disclosure salt must be a string", ErrClaimShape)
	}

	return salt, pair.Elem(1), nil
}

// GetCNF returns confirmation claim 'cnf'.
func GetCNF(claims map[string]interface{}) (map[string]interface{}, error) {
	obj, ok := claims[CNFKey]
	if !ok {
		return nil, fmt.Errorf("%s must be present in SD-JWT", CNFKey)
	}

	cnf, ok := obj.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", CNFKey)
	}

	return cnf, nil
}

// GetCNFJWK extracts the holder public key from the confirmation claim.
// This implementation is using CNF "jwk".
func GetCNFJWK(claims map[string]interface{}) (*jwk.JWK, error) {
	cnf, err := GetCNF(claims)
	if err != nil {
		return nil, err
	}

	jwkObj, ok := cnf["jwk"]
	if !ok {
		return nil, fmt.Errorf("jwk must be present in %s", CNFKey)
	}

	jwkObjBytes, err := json.Marshal(jwkObj)
	if err != nil {
		return nil, fmt.Errorf("marshal jwk: %w", err)
	}

	j := &jwk.JWK{}

	if err = j.UnmarshalJSON(jwkObjBytes); err != nil {
		return nil, fmt.Errorf("unmarshal jwk: %w", err)
	}

	return j, nil
}
