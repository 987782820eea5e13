/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package jose provides the JOSE primitives the token layer is built on:
// headers, compact JWS serialization and pluggable signing/verification.
package jose

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v3/json"
)

// Signer defines JWS signer.
type Signer interface {
	// Sign signs.
	Sign(data []byte) ([]byte, error)

	// Headers provides JWS headers.
	Headers() Headers
}

// SignatureVerifier makes verification of JSON Web Signature.
type SignatureVerifier interface {
	// Verify verifies JWS based on the signing input.
	Verify(joseHeaders Headers, payload, signingInput, signature []byte) error
}

// SignatureVerifierFunc is a function wrapper for SignatureVerifier.
type SignatureVerifierFunc func(joseHeaders Headers, payload, signingInput, signature []byte) error

// Verify verifies JWS.
func (s SignatureVerifierFunc) Verify(joseHeaders Headers, payload, signingInput, signature []byte) error {
	return s(joseHeaders, payload, signingInput, signature)
}

// AlgSignatureVerifier defines verifier for particular signature algorithm.
type AlgSignatureVerifier struct {
	Alg      string
	Verifier SignatureVerifier
}

// CompositeAlgSigVerifier defines composite verifier based on the algorithm
// taken from JOSE header alg.
type CompositeAlgSigVerifier struct {
	verifierByAlg map[string]SignatureVerifier
}

// NewCompositeAlgSigVerifier creates CompositeAlgSigVerifier.
func NewCompositeAlgSigVerifier(v AlgSignatureVerifier, vOther ...AlgSignatureVerifier) *CompositeAlgSigVerifier {
	verifierByAlg := make(map[string]SignatureVerifier, 1+len(vOther))
	verifierByAlg[v.Alg] = v.Verifier

	for _, v := range vOther {
		verifierByAlg[v.Alg] = v.Verifier
	}

	return &CompositeAlgSigVerifier{verifierByAlg: verifierByAlg}
}

// Verify verifies JWS.
func (v *CompositeAlgSigVerifier) Verify(joseHeaders Headers, payload, signingInput, signature []byte) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return errors.New("'alg' JOSE header is not present")
	}

	verifier, ok := v.verifierByAlg[alg]
	if !ok {
		return fmt.Errorf("no verifier found for %s algorithm", alg)
	}

	return verifier.Verify(joseHeaders, payload, signingInput, signature)
}

// JSONWebSignature defines JSON Web Signature (https://tools.ietf.org/html/rfc7515)
type JSONWebSignature struct {
	ProtectedHeaders Headers
	Payload          []byte

	signature        []byte
	protectedSegment string
}

// NewJWS creates JSON Web Signature over the payload. Signer-provided headers
// are merged into protectedHeaders before signing.
func NewJWS(protectedHeaders Headers, payload []byte, signer Signer) (*JSONWebSignature, error) {
	headers := mergeHeaders(protectedHeaders, signer.Headers())

	headersBytes, err := json.Marshal(map[string]interface{}(headers))
	if err != nil {
		return nil, fmt.Errorf("marshal JWS protected headers: %w", err)
	}

	protectedSegment := base64.RawURLEncoding.EncodeToString(headersBytes)
	signingInput := protectedSegment + "." + base64.RawURLEncoding.EncodeToString(payload)

	signature, err := signer.Sign([]byte(signingInput))
	if err != nil {
		return nil, fmt.Errorf("sign JWS: %w", err)
	}

	return &JSONWebSignature{
		ProtectedHeaders: headers,
		Payload:          payload,
		signature:        signature,
		protectedSegment: protectedSegment,
	}, nil
}

// Signature returns the raw JWS signature.
func (s *JSONWebSignature) Signature() []byte {
	return s.signature
}

// SerializeCompact makes JWS compact serialization. With detached set, the
// payload segment is left empty (https://tools.ietf.org/html/rfc7515#appendix-F).
func (s *JSONWebSignature) SerializeCompact(detached bool) (string, error) {
	payloadSegment := ""
	if !detached {
		payloadSegment = base64.RawURLEncoding.EncodeToString(s.Payload)
	}

	return s.protectedSegment + "." + payloadSegment + "." +
		base64.RawURLEncoding.EncodeToString(s.signature), nil
}

// ParseJWS parses serialized compact JWS. When sigVerifier is provided the
// signature is checked against the signing input, otherwise the JWS is only
// decoded.
func ParseJWS(serialized string, sigVerifier SignatureVerifier) (*JSONWebSignature, error) {
	parts := strings.Split(serialized, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("JWS compact serialization must have three parts, got %d", len(parts))
	}

	headersBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode JWS protected headers: %w", err)
	}

	var headers Headers
	if err = json.Unmarshal(headersBytes, &headers); err != nil {
		return nil, fmt.Errorf("unmarshal JWS protected headers: %w", err)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode JWS payload: %w", err)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode JWS signature: %w", err)
	}

	if sigVerifier != nil {
		signingInput := parts[0] + "." + parts[1]

		if err = sigVerifier.Verify(headers, payload, []byte(signingInput), signature); err != nil {
			return nil, fmt.Errorf("verify JWS: %w", err)
		}
	}

	return &JSONWebSignature{
		ProtectedHeaders: headers,
		Payload:          payload,
		signature:        signature,
		protectedSegment: parts[0],
	}, nil
}

// IsCompactJWS checks that the given string is a compact JWS of valid structure.
func IsCompactJWS(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}

	headersBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	var headers map[string]interface{}

	return json.Unmarshal(headersBytes, &headers) == nil
}

func mergeHeaders(protectedHeaders, signerHeaders Headers) Headers {
	headers := make(Headers, len(protectedHeaders)+len(signerHeaders))

	for k, v := range protectedHeaders {
		headers[k] = v
	}

	for k, v := range signerHeaders {
		headers[k] = v
	}

	return headers
}
