/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package holder enables the Holder: an entity that receives selective
// disclosure credentials from the Issuer and has control over them.
//
// The Holder keeps the issued credential (with its SVC release material) and,
// per presentation request, selects which claims to reveal. Selection is pure
// and non-destructive: arbitrarily many presentations may be derived from one
// credential without affecting each other.
package holder

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/opencred/sdjwt/claimtree"
	"github.com/opencred/sdjwt/jose"
	"github.com/opencred/sdjwt/jwk"
	afgjwt "github.com/opencred/sdjwt/jwt"
	"github.com/opencred/sdjwt/sdjwt/common"
)

// Claim defines a disclosable claim as seen by the holder.
type Claim struct {
	// Path is the dotted location of the claim inside the claim set, with
	// array elements addressed by index.
	Path string

	// Salt is the disclosure salt committed at issuance.
	Salt string

	// Value is the claim value in plain Go form.
	Value interface{}
}

// Credential is a parsed wire credential held by the holder.
type Credential struct {
	SignedJWT *afgjwt.JSONWebToken
	SVC       *common.SVC
}

// jwtParseOpts holds options for credential parsing.
type parseOpts struct {
	sigVerifier jose.SignatureVerifier
}

// ParseOpt is the credential parser option.
type ParseOpt func(opts *parseOpts)

// WithSignatureVerifier option is for definition of issuer signature verifier.
func WithSignatureVerifier(signatureVerifier jose.SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// Parse parses a 4-segment wire credential.
//
// The Holder MUST perform the following (or equivalent) steps when receiving a credential:
//
//   - Separate the signed credential body and the SVC.
//
//   - Re-derive the digest of every salted disclosure in the SVC and check it
//     against the commitment embedded in the credential body. If any digest
//     does not match, the Holder MUST reject the credential.
//
//   - Optionally verify the issuer signature (when a signature verifier is provided).
//
// It is up to the Holder how to maintain the mapping between the disclosures
// and the plaintext claim values to be able to display them to the End-User
// when needed; see DisclosableClaims.
func Parse(credential string, opts ...ParseOpt) (*Credential, error) {
	pOpts := &parseOpts{}

	for _, opt := range opts {
		opt(pOpts)
	}

	cfi, err := common.ParseCombinedFormatForIssuance(credential)
	if err != nil {
		return nil, err
	}

	var jwtOpts []afgjwt.ParseOpt
	if pOpts.sigVerifier != nil {
		jwtOpts = append(jwtOpts, afgjwt.WithSignatureVerifier(pOpts.sigVerifier))
	}

	signedJWT, payloadBytes, err := afgjwt.Parse(cfi.SDJWT, jwtOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credential token: %s", common.ErrMalformedInput, err)
	}

	svc, err := common.ParseSVC(cfi.SVC)
	if err != nil {
		return nil, err
	}

	if err := verifyCommitments(payloadBytes, svc); err != nil {
		return nil, err
	}

	return &Credential{SignedJWT: signedJWT, SVC: svc}, nil
}

// verifyCommitments re-derives every digest from the SVC and compares it with
// the commitment tree signed into the credential body.
func verifyCommitments(payloadBytes []byte, svc *common.SVC) error {
	payloadTree, err := claimtree.Parse(payloadBytes)
	if err != nil {
		return fmt.Errorf("%w: parse credential payload: %s", common.ErrMalformedInput, err)
	}

	digests := payloadTree.Field(common.SDDigestsKey)
	if digests == nil {
		return fmt.Errorf("%w: credential must contain %s", common.ErrMalformedInput, common.SDDigestsKey)
	}

	var sdAlg string
	if alg := payloadTree.Field(common.SDHashAlgKey); alg != nil {
		sdAlg, _ = alg.StringValue()
	}

	hash, err := common.GetCryptoHash(sdAlg)
	if err != nil {
		return err
	}

	_, err = claimtree.Correlate(digests, svc.SDRelease,
		func(structure, subject *claimtree.Node) (*claimtree.Node, error) {
			disclosure, ok := subject.StringValue()
			if !ok {
				return nil, fmt.Errorf("%w: SVC leaf is not a salted disclosure string", common.ErrClaimShape)
			}

			if structure == nil {
				return nil, fmt.Errorf("%w: no committed digest for SVC leaf", common.ErrClaimShape)
			}

			committed, ok := structure.StringValue()
			if !ok {
				return nil, fmt.Errorf("%w: no committed digest for SVC leaf", common.ErrClaimShape)
			}

			recomputed, err := common.GetHash(hash, disclosure)
			if err != nil {
				return nil, err
			}

			if recomputed != committed {
				return nil, fmt.Errorf("%w: disclosure digest '%s' not found in credential digests",
					common.ErrDigestMismatch, recomputed)
			}

			return subject, nil
		})
	if err != nil {
		return fmt.Errorf("verify SVC against credential digests: %w", err)
	}

	return nil
}

// DisclosableClaims decodes the SVC into the flat list of claims the holder
// can select from.
func (c *Credential) DisclosableClaims() ([]*Claim, error) {
	var claims []*Claim

	if err := collectClaims("", c.SVC.SDRelease, &claims); err != nil {
		return nil, err
	}

	return claims, nil
}

func collectClaims(path string, node *claimtree.Node, claims *[]*Claim) error {
	switch node.Kind() {
	case claimtree.KindObject:
		for _, key := range node.Keys() {
			if err := collectClaims(childPath(path, key), node.Field(key), claims); err != nil {
				return err
			}
		}
	case claimtree.KindArray:
		for i := 0; i < node.Len(); i++ {
			if err := collectClaims(childPath(path, strconv.Itoa(i)), node.Elem(i), claims); err != nil {
				return err
			}
		}
	default:
		disclosure, ok := node.StringValue()
		if !ok {
			return fmt.Errorf("%w: SVC leaf is not a salted disclosure string", common.ErrClaimShape)
		}

		salt, value, err := common.ParseSaltedDisclosure(disclosure)
		if err != nil {
			return err
		}

		*claims = append(*claims, &Claim{Path: path, Salt: salt, Value: value.Value()})
	}

	return nil
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}

	return path + "." + key
}

// BindingInfo defines holder binding material: the signer controlling the
// holder's private key and the matching public JWK.
type BindingInfo struct {
	Signer jose.Signer
	Key    *jwk.JWK
}

// Option is a holder option.
type Option func(opts *options)

type options struct {
	holderBinding *BindingInfo
}

// WithHolderBinding option to set holder binding.
func WithHolderBinding(info *BindingInfo) Option {
	return func(opts *options) {
		opts.holderBinding = info
	}
}

// CreatePresentation assembles the 6-segment wire presentation from the
// credential and the holder's selection of claims to disclose.
//
// toDisclose is a tree of the same shape as the claims: a non-empty leaf at a
// position elects to reveal the corresponding disclosure; positions the
// selection lacks stay withheld and are carried as empty leaves so the
// verifier can tell "present but withheld" from "never committed".
//
// For presentation to a Verifier, the Holder MUST perform the following (or equivalent) steps:
//   - Decide which claims to release to the Verifier, obtaining proper End-User consent if necessary.
//   - If the credential asserts Holder Binding, sign the release document with
//     the bound key; building without it fails.
//   - Assemble the release document from the selected disclosures, the
//     Verifier's nonce and the intended audience.
//   - Send the Presentation to the Verifier.
//
// This call assumes that the credential has already been parsed and verified using the Parse() function.
func CreatePresentation(credential string, toDisclose *claimtree.Node, nonce, audience string,
	opts ...Option) (string, error) {
	hOpts := &options{}

	for _, opt := range opts {
		opt(hOpts)
	}

	cfi, err := common.ParseCombinedFormatForIssuance(credential)
	if err != nil {
		return "", err
	}

	signedJWT, _, err := afgjwt.Parse(cfi.SDJWT)
	if err != nil {
		return "", fmt.Errorf("%w: parse credential token: %s", common.ErrMalformedInput, err)
	}

	svc, err := common.ParseSVC(cfi.SVC)
	if err != nil {
		return "", err
	}

	if err := checkHolderBinding(signedJWT.Payload, hOpts.holderBinding); err != nil {
		return "", err
	}

	if toDisclose == nil {
		toDisclose = claimtree.NewObject()
	}

	released, err := claimtree.Correlate(toDisclose, svc.SDRelease, chooseClaim)
	if err != nil {
		return "", fmt.Errorf("%w: select disclosures: %s", common.ErrMalformedInput, err)
	}

	releaseJWT, err := createReleaseDocument(released, nonce, audience, hOpts.holderBinding)
	if err != nil {
		return "", err
	}

	cfp := common.CombinedFormatForPresentation{
		SDJWT:      cfi.SDJWT,
		ReleaseJWT: releaseJWT,
	}

	return cfp.Serialize(), nil
}

// chooseClaim is the selection combinator: a present, non-empty selection
// leaf releases the corresponding SVC subtree; anything else withholds it.
func chooseClaim(structure, subject *claimtree.Node) (*claimtree.Node, error) {
	if structure != nil && !structure.IsEmptyLeaf() {
		return subject, nil
	}

	return claimtree.NewString(""), nil
}

func checkHolderBinding(credentialPayload map[string]interface{}, info *BindingInfo) error {
	_, hasCNF := credentialPayload[common.CNFKey]
	if !hasCNF {
		// no holder binding requirement was asserted at issuance
		return nil
	}

	if info == nil || info.Signer == nil || info.Key == nil {
		return fmt.Errorf("%w: credential requires holder binding and no holder key was supplied",
			common.ErrHolderBinding)
	}

	cnfJWK, err := common.GetCNFJWK(credentialPayload)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrHolderBinding, err)
	}

	boundThumbprint, err := cnfJWK.Thumbprint()
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrHolderBinding, err)
	}

	holderThumbprint, err := info.Key.Thumbprint()
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrHolderBinding, err)
	}

	if boundThumbprint != holderThumbprint {
		return fmt.Errorf("%w: holder key thumbprint does not match credential %s key",
			common.ErrHolderBinding, common.CNFKey)
	}

	return nil
}

func createReleaseDocument(released *claimtree.Node, nonce, audience string, info *BindingInfo) (string, error) {
	p := &releasePayload{
		Nonce:     nonce,
		Audience:  audience,
		SDRelease: released,
	}

	var (
		releaseJWT *afgjwt.JSONWebToken
		err        error
	)

	if info != nil && info.Signer != nil {
		releaseJWT, err = afgjwt.NewSigned(p, nil, info.Signer)
	} else {
		releaseJWT, err = afgjwt.NewUnsecured(p, nil)
	}

	if err != nil {
		return "", fmt.Errorf("create release document: %w", err)
	}

	return releaseJWT.Serialize(false)
}

// NewNonce returns a fresh challenge value for the verifier/holder exchange.
func NewNonce() string {
	return uuid.NewString()
}

// releasePayload represents the release document body.
type releasePayload struct {
	Nonce     string          `json:"nonce"`
	Audience  string          `json:"aud"`
	SDRelease *claimtree.Node `json:"sd_release"`
}
