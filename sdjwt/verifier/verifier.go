/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package verifier enables the Verifier: an entity that requests, checks and
extracts the claims from a selective disclosure presentation.

The Verifier has to verify that all disclosed claim values were part of the
original, Issuer-signed credential. At a high level, the Verifier:

  - splits the 6-segment presentation into the credential token and the
    release document token,
  - verifies the credential signature against the trusted issuer's public key
    and checks the temporal claims,
  - verifies the release document signature using the public key bound into
    the credential, when holder binding was asserted at issuance,
  - checks the release document's nonce and audience against the expected
    values,
  - re-derives the digest over every revealed salted disclosure and verifies
    it equals the committed digest.

The Verifier will not, however, learn any claim values not revealed in the
release document.
*/
package verifier

import (
	"crypto"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-jose/go-jose/v3/json"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"

	"github.com/opencred/sdjwt/claimtree"
	"github.com/opencred/sdjwt/jose"
	afgjwt "github.com/opencred/sdjwt/jwt"
	"github.com/opencred/sdjwt/sdjwt/common"
)

// defaultIATLeeway is the grace window applied to iat to absorb clock skew
// between issuer and verifier. exp gets no grace.
const defaultIATLeeway = 30 * time.Second

// parseOpts holds options for presentation verification.
type parseOpts struct {
	trustedIssuers   map[string]interface{}
	expectedNonce    string
	expectedAudience string
	iatLeeway        time.Duration
}

// ParseOpt is the presentation parser option.
type ParseOpt func(opts *parseOpts)

// WithTrustedIssuers supplies the trusted issuer identifier to public key
// table. A credential whose iss is absent from the table is rejected.
func WithTrustedIssuers(trustedIssuers map[string]interface{}) ParseOpt {
	return func(opts *parseOpts) {
		opts.trustedIssuers = trustedIssuers
	}
}

// WithExpectedNonce option is to pass the nonce value the release document must carry.
func WithExpectedNonce(nonce string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedNonce = nonce
	}
}

// WithExpectedAudience option is to pass the audience the release document must carry.
func WithExpectedAudience(audience string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedAudience = audience
	}
}

// WithIssuedAtLeeway is an option for iat validation (default 30s).
func WithIssuedAtLeeway(leeway time.Duration) ParseOpt {
	return func(opts *parseOpts) {
		opts.iatLeeway = leeway
	}
}

// Parse verifies a 6-segment wire presentation and returns the disclosed
// claim tree. Each check is a hard gate: on failure no partial result is
// returned.
func Parse(presentation string, opts ...ParseOpt) (*claimtree.Node, error) {
	pOpts := &parseOpts{
		iatLeeway: defaultIATLeeway,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	cfp, err := common.ParseCombinedFormatForPresentation(presentation)
	if err != nil {
		return nil, err
	}

	credJWT, credPayload, err := afgjwt.Parse(cfp.SDJWT,
		afgjwt.WithSignatureVerifier(trustedIssuerVerifier(pOpts.trustedIssuers)))
	if err != nil {
		return nil, wrapMalformed("verify credential token", err)
	}

	if err := verifyTemporalClaims(credJWT.Payload, pOpts.iatLeeway); err != nil {
		return nil, err
	}

	releaseJWT, releasePayload, err := parseReleaseDocument(cfp.ReleaseJWT, credJWT.Payload)
	if err != nil {
		return nil, err
	}

	if err := verifyNonceAndAudience(releaseJWT.Payload, pOpts); err != nil {
		return nil, err
	}

	return verifyDisclosures(credPayload, releasePayload)
}

// trustedIssuerVerifier builds a signature verifier that resolves the public
// key from the iss claim of the payload being verified and dispatches on the
// key's type.
func trustedIssuerVerifier(trustedIssuers map[string]interface{}) jose.SignatureVerifier {
	return jose.SignatureVerifierFunc(func(joseHeaders jose.Headers, payload, signingInput, signature []byte) error {
		claims := make(map[string]interface{})

		if err := json.Unmarshal(payload, &claims); err != nil {
			return fmt.Errorf("%w: read claims from credential token: %s", common.ErrMalformedInput, err)
		}

		iss, ok := claims[common.IssuerKey].(string)
		if !ok {
			return fmt.Errorf("%w: %s claim is not defined", common.ErrMalformedInput, common.IssuerKey)
		}

		pubKey, ok := trustedIssuers[iss]
		if !ok {
			return fmt.Errorf("%w: issuer '%s' is not in the trusted issuer table", common.ErrUntrustedIssuer, iss)
		}

		sigVerifier, err := afgjwt.GetVerifier(pubKey)
		if err != nil {
			return fmt.Errorf("%w: %s", common.ErrUnsupportedAlgorithm, err)
		}

		if err := sigVerifier.Verify(joseHeaders, payload, signingInput, signature); err != nil {
			return fmt.Errorf("%w: credential: %s", common.ErrSignatureInvalid, err)
		}

		return nil
	})
}

// verifyTemporalClaims checks iat and exp against current time. iat gets the
// configured grace window; a credential at or past exp is rejected outright.
func verifyTemporalClaims(payload map[string]interface{}, iatLeeway time.Duration) error {
	var claims jwt.Claims

	if err := decodePayload(payload, &claims); err != nil {
		return fmt.Errorf("%w: decode registered claims: %s", common.ErrMalformedInput, err)
	}

	now := time.Now()

	if claims.Expiry != nil && !now.Before(claims.Expiry.Time()) {
		return fmt.Errorf("%w: credential expired at %s", common.ErrTemporalInvalid, claims.Expiry.Time())
	}

	if claims.IssuedAt != nil && now.Add(iatLeeway).Before(claims.IssuedAt.Time()) {
		return fmt.Errorf("%w: credential issued in the future at %s", common.ErrTemporalInvalid,
			claims.IssuedAt.Time())
	}

	return nil
}

// parseReleaseDocument decodes the release token. When the credential carries
// cnf the release signature is verified against the bound key; without cnf no
// holder-binding requirement was asserted at issuance and no key is checked.
func parseReleaseDocument(releaseSerialized string,
	credentialPayload map[string]interface{}) (*afgjwt.JSONWebToken, []byte, error) {
	_, hasCNF := credentialPayload[common.CNFKey]

	var jwtOpts []afgjwt.ParseOpt

	if hasCNF {
		if afgjwt.IsJWTUnsecured(releaseSerialized) {
			return nil, nil, fmt.Errorf("%w: credential requires holder binding but release document is unsigned",
				common.ErrHolderBinding)
		}

		cnfJWK, err := common.GetCNFJWK(credentialPayload)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", common.ErrMalformedInput, err)
		}

		sigVerifier, err := afgjwt.GetVerifier(cnfJWK)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", common.ErrUnsupportedAlgorithm, err)
		}

		jwtOpts = append(jwtOpts, afgjwt.WithSignatureVerifier(sigVerifier))
	}

	releaseJWT, releasePayload, err := afgjwt.Parse(releaseSerialized, jwtOpts...)
	if err != nil {
		if hasCNF {
			return nil, nil, fmt.Errorf("%w: release document: %s", common.ErrSignatureInvalid, err)
		}

		return nil, nil, fmt.Errorf("%w: parse release document: %s", common.ErrMalformedInput, err)
	}

	return releaseJWT, releasePayload, nil
}

func verifyNonceAndAudience(releasePayload map[string]interface{}, pOpts *parseOpts) error {
	var p struct {
		Nonce    string `json:"nonce"`
		Audience string `json:"aud"`
	}

	if err := decodePayload(releasePayload, &p); err != nil {
		return fmt.Errorf("%w: decode release document claims: %s", common.ErrMalformedInput, err)
	}

	if p.Nonce != pOpts.expectedNonce {
		return fmt.Errorf("%w: nonce value '%s' does not match expected nonce value '%s'",
			common.ErrClaimMismatch, p.Nonce, pOpts.expectedNonce)
	}

	if p.Audience != pOpts.expectedAudience {
		return fmt.Errorf("%w: audience value '%s' does not match expected audience value '%s'",
			common.ErrClaimMismatch, p.Audience, pOpts.expectedAudience)
	}

	return nil
}

// verifyDisclosures re-runs the correlator over the committed digest tree and
// the revealed release tree, checking every revealed digest and extracting
// the disclosed values. Withheld positions are pruned from the output.
func verifyDisclosures(credPayload, releasePayload []byte) (*claimtree.Node, error) {
	credTree, err := claimtree.Parse(credPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credential payload: %s", common.ErrMalformedInput, err)
	}

	digests := credTree.Field(common.SDDigestsKey)
	if digests == nil {
		return nil, fmt.Errorf("%w: credential must contain %s", common.ErrMalformedInput, common.SDDigestsKey)
	}

	var sdAlg string
	if alg := credTree.Field(common.SDHashAlgKey); alg != nil {
		sdAlg, _ = alg.StringValue()
	}

	hash, err := common.GetCryptoHash(sdAlg)
	if err != nil {
		return nil, err
	}

	releaseTree, err := claimtree.Parse(releasePayload)
	if err != nil {
		return nil, fmt.Errorf("%w: parse release document payload: %s", common.ErrMalformedInput, err)
	}

	released := releaseTree.Field(common.SDReleaseKey)
	if released == nil {
		return nil, fmt.Errorf("%w: release document must contain %s", common.ErrMalformedInput, common.SDReleaseKey)
	}

	disclosed, err := claimtree.Correlate(digests, released, verifyClaim(hash))
	if err != nil {
		return nil, wrapMalformed("verify disclosed claims", err)
	}

	return disclosed, nil
}

// verifyClaim is the verification combinator: an empty leaf marks a withheld
// position and is dropped; every revealed leaf must be a salted disclosure
// string whose recomputed digest equals the committed one.
func verifyClaim(hash crypto.Hash) claimtree.CombineFunc {
	return func(structure, subject *claimtree.Node) (*claimtree.Node, error) {
		if subject.IsEmptyLeaf() {
			// present but withheld
			return nil, nil
		}

		disclosure, ok := subject.StringValue()
		if !ok {
			return nil, fmt.Errorf("%w: revealed entry is not a salted disclosure string", common.ErrClaimShape)
		}

		if structure == nil {
			return nil, fmt.Errorf("%w: issuer never committed a digest at this position", common.ErrDigestMismatch)
		}

		committed, ok := structure.StringValue()
		if !ok {
			return nil, fmt.Errorf("%w: committed digest is not a string", common.ErrClaimShape)
		}

		recomputed, err := common.GetHash(hash, disclosure)
		if err != nil {
			return nil, err
		}

		if recomputed != committed {
			return nil, fmt.Errorf("%w: recomputed digest '%s' does not equal committed digest '%s'",
				common.ErrDigestMismatch, recomputed, committed)
		}

		_, value, err := common.ParseSaltedDisclosure(disclosure)
		if err != nil {
			return nil, err
		}

		return value, nil
	}
}

// wrapMalformed keeps already-classified errors as they are and folds
// everything else into ErrMalformedInput.
func wrapMalformed(msg string, err error) error {
	for _, kind := range []error{
		common.ErrUntrustedIssuer,
		common.ErrSignatureInvalid,
		common.ErrUnsupportedAlgorithm,
		common.ErrHolderBinding,
		common.ErrDigestMismatch,
		common.ErrClaimShape,
		common.ErrTemporalInvalid,
		common.ErrClaimMismatch,
		common.ErrMalformedInput,
	} {
		if errors.Is(err, kind) {
			return fmt.Errorf("%s: %w", msg, err)
		}
	}

	return fmt.Errorf("%w: %s: %s", common.ErrMalformedInput, msg, err)
}

// decodePayload decodes a token payload map into a typed struct, converting
// JSON numbers into jwt.NumericDate where the target asks for it.
func decodePayload(payload map[string]interface{}, result interface{}) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           result,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       jsonNumberToNumericDate(),
	})
	if err != nil {
		return err
	}

	return d.Decode(payload)
}

func jsonNumberToNumericDate() mapstructure.DecodeHookFuncType {
	numericDateType := reflect.TypeOf(jwt.NumericDate(0))

	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != numericDateType && t != reflect.PtrTo(numericDateType) {
			return data, nil
		}

		number, ok := data.(json.Number)
		if !ok {
			return data, nil
		}

		parsed, err := number.Float64()
		if err != nil {
			return nil, err
		}

		date := jwt.NewNumericDate(time.Unix(int64(parsed), 0))

		if t == numericDateType {
			return *date, nil
		}

		return date, nil
	}
}
