/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package issuer enables the Issuer: an entity that creates selective disclosure
credentials.

The Issuer commits to a full claim set by walking the claim tree with a
disclosure structure. At every disclosable position a fresh salted disclosure
is produced:

	SALTED-DISCLOSURE = JSON([SALT, CLAIM-VALUE])

The full set of salted disclosures - the SVC - is transmitted to the Holder
alongside the signed credential. The credential body itself carries only the
digests:

	SD-DIGEST = BASE64URL(HASH(SALTED-DISCLOSURE))

arranged in a tree mirroring the SVC, so a Verifier can later re-derive and
check every revealed digest without learning undisclosed claims.

The wire credential is the signed credential body plus the base64url-encoded
SVC as a fourth dot-separated segment:

	CREDENTIAL = HEADER "." PAYLOAD "." SIGNATURE "." SVC
*/
package issuer

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/opencred/sdjwt/claimtree"
	"github.com/opencred/sdjwt/jose"
	"github.com/opencred/sdjwt/jwk"
	afgjwt "github.com/opencred/sdjwt/jwt"
	"github.com/opencred/sdjwt/sdjwt/common"
)

const (
	defaultHash = crypto.SHA256

	defaultValidity = 24 * time.Hour

	saltSizeBytes = 16
)

// newOpts holds options for creating a new credential.
type newOpts struct {
	Subject string
	JTI     string
	ID      string

	Expiry   *jwt.NumericDate
	IssuedAt *jwt.NumericDate

	HolderPublicKey *jwk.JWK

	Structure *claimtree.Node

	HashAlg crypto.Hash

	getSalt func() (string, error)

	unsecured bool
}

// NewOpt is the credential New option.
type NewOpt func(opts *newOpts)

// WithDisclosureStructure is an option for marking which composite claim
// subtrees are decomposed field-by-field versus treated as one atomic
// disclosable unit. A composite node present in the structure at a given
// position signals decomposition; absence signals atomicity. The default
// structure decomposes every top-level field and nothing nested deeper.
func WithDisclosureStructure(structure *claimtree.Node) NewOpt {
	return func(opts *newOpts) {
		opts.Structure = structure
	}
}

// WithSaltFnc is an option for generating salt. Mostly used for testing.
// A new salt MUST be chosen for each claim independently of other salts.
// The RECOMMENDED minimum length of the randomly-generated portion of the salt is 128 bits.
// It is RECOMMENDED to base64url-encode the salt value, producing a string.
func WithSaltFnc(fnc func() (string, error)) NewOpt {
	return func(opts *newOpts) {
		opts.getSalt = fnc
	}
}

// WithIssuedAt is an option for the credential payload. This is a clear-text claim that is always disclosed.
func WithIssuedAt(issuedAt *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.IssuedAt = issuedAt
	}
}

// WithExpiry is an option for the credential payload. This is a clear-text claim that is always disclosed.
// Default expiry is 24 hours after issuance.
func WithExpiry(expiry *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.Expiry = expiry
	}
}

// WithSubject is an option for the credential payload. This is a clear-text claim that is always disclosed.
func WithSubject(subject string) NewOpt {
	return func(opts *newOpts) {
		opts.Subject = subject
	}
}

// WithJTI is an option for the credential payload. This is a clear-text claim that is always disclosed.
func WithJTI(jti string) NewOpt {
	return func(opts *newOpts) {
		opts.JTI = jti
	}
}

// WithID is an option for the credential payload. This is a clear-text claim that is always disclosed.
func WithID(id string) NewOpt {
	return func(opts *newOpts) {
		opts.ID = id
	}
}

// WithHolderPublicKey is an option for the credential payload.
// The Holder can prove legitimate possession of a credential by proving control over the same private key during
// the issuance and presentation. A credential with Holder Binding contains a public key or a reference to a public key
// that matches to the private key controlled by the Holder.
// The "cnf" claim value MUST represent only a single proof-of-possession key. This implementation is using CNF "jwk".
func WithHolderPublicKey(holderJWK *jwk.JWK) NewOpt {
	return func(opts *newOpts) {
		opts.HolderPublicKey = holderJWK
	}
}

// WithHashAlgorithm is an option for hashing disclosures.
func WithHashAlgorithm(alg crypto.Hash) NewOpt {
	return func(opts *newOpts) {
		opts.HashAlg = alg
	}
}

// WithUnsecuredIssuance is an explicit opt-in for issuing a credential without
// an issuer signature (alg "none", empty signature segment). Without this
// option a nil signer is an error, never a silent downgrade.
func WithUnsecuredIssuance() NewOpt {
	return func(opts *newOpts) {
		opts.unsecured = true
	}
}

// New creates a new signed selective disclosure credential based on input claims.
//
// The claim tree is correlated with the disclosure structure twice: first
// producing the SVC (a fresh 128-bit salt per disclosable position), then
// producing sd_digests from the SVC just built. Both walks use the same
// structure, so the two trees are structurally isomorphic.
func New(issuer string, claims interface{}, headers jose.Headers,
	signer jose.Signer, opts ...NewOpt) (*SelectiveDisclosureJWT, error) {
	nOpts := &newOpts{
		HashAlg: defaultHash,
		getSalt: generateSalt,
	}

	for _, opt := range opts {
		opt(nOpts)
	}

	claimsTree, err := toClaimTree(claims)
	if err != nil {
		return nil, fmt.Errorf("convert claims to claim tree: %w", err)
	}

	if claimsTree.Kind() != claimtree.KindObject {
		return nil, fmt.Errorf("%w: claims must be a JSON object", common.ErrMalformedInput)
	}

	if signer == nil && !nOpts.unsecured {
		return nil, errors.New("issuer signer is required; use WithUnsecuredIssuance() to issue without one")
	}

	structure := nOpts.Structure
	if structure == nil {
		structure = claimtree.NewObject()
	}

	svcTree, err := claimtree.Correlate(structure, claimsTree, makeSaltedDisclosure(nOpts))
	if err != nil {
		return nil, fmt.Errorf("%w: build SVC: %w", common.ErrMalformedInput, err)
	}

	digestsTree, err := claimtree.Correlate(structure, svcTree, makeDigest(nOpts))
	if err != nil {
		return nil, fmt.Errorf("build digests: %w", err)
	}

	signedJWT, err := signPayload(createPayload(issuer, digestsTree, nOpts), headers, signer)
	if err != nil {
		return nil, err
	}

	return &SelectiveDisclosureJWT{
		SignedJWT: signedJWT,
		SVC:       &common.SVC{SDRelease: svcTree},
	}, nil
}

// makeSaltedDisclosure is the combinator applied at every disclosable
// position of the claim tree: generate a fresh salt and wrap the atomic claim
// subtree in the canonical [salt, value] string form.
func makeSaltedDisclosure(nOpts *newOpts) claimtree.CombineFunc {
	return func(_, subject *claimtree.Node) (*claimtree.Node, error) {
		salt, err := nOpts.getSalt()
		if err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}

		disclosure, err := common.MakeSaltedDisclosure(salt, subject)
		if err != nil {
			return nil, err
		}

		return claimtree.NewString(disclosure), nil
	}
}

// makeDigest is the combinator applied at every leaf of the SVC tree. Its
// input must be a salted disclosure string produced by makeSaltedDisclosure.
func makeDigest(nOpts *newOpts) claimtree.CombineFunc {
	return func(_, subject *claimtree.Node) (*claimtree.Node, error) {
		disclosure, ok := subject.StringValue()
		if !ok {
			return nil, fmt.Errorf("%w: digest input is not a salted disclosure string", common.ErrClaimShape)
		}

		digest, err := common.GetHash(nOpts.HashAlg, disclosure)
		if err != nil {
			return nil, err
		}

		return claimtree.NewString(digest), nil
	}
}

func createPayload(issuer string, digestsTree *claimtree.Node, nOpts *newOpts) *payload {
	var cnf map[string]interface{}
	if nOpts.HolderPublicKey != nil {
		cnf = make(map[string]interface{})
		cnf["jwk"] = nOpts.HolderPublicKey
	}

	issuedAt := nOpts.IssuedAt
	if issuedAt == nil {
		issuedAt = jwt.NewNumericDate(time.Now())
	}

	expiry := nOpts.Expiry
	if expiry == nil {
		expiry = jwt.NewNumericDate(issuedAt.Time().Add(defaultValidity))
	}

	return &payload{
		Issuer:    issuer,
		Subject:   nOpts.Subject,
		JTI:       nOpts.JTI,
		ID:        nOpts.ID,
		IssuedAt:  issuedAt,
		Expiry:    expiry,
		CNF:       cnf,
		SDHashAlg: sdAlgName(nOpts.HashAlg),
		SDDigests: digestsTree,
	}
}

func signPayload(p *payload, headers jose.Headers, signer jose.Signer) (*afgjwt.JSONWebToken, error) {
	if signer == nil {
		signedJWT, err := afgjwt.NewUnsecured(p, headers)
		if err != nil {
			return nil, fmt.Errorf("create unsecured credential from payload[%+v]: %w", p, err)
		}

		return signedJWT, nil
	}

	signedJWT, err := afgjwt.NewSigned(p, headers, signer)
	if err != nil {
		return nil, fmt.Errorf("create credential from payload[%+v]: %w", p, err)
	}

	return signedJWT, nil
}

func sdAlgName(hash crypto.Hash) string {
	switch hash {
	case crypto.SHA384:
		return "sha-384"
	case crypto.SHA512:
		return "sha-512"
	default:
		return common.DefaultSDHashAlg
	}
}

func toClaimTree(claims interface{}) (*claimtree.Node, error) {
	switch ct := claims.(type) {
	case *claimtree.Node:
		return ct, nil
	case []byte:
		return claimtree.Parse(ct)
	case string:
		return claimtree.Parse([]byte(ct))
	default:
		return claimtree.FromValue(claims)
	}
}

// SelectiveDisclosureJWT defines the issued credential: the signed credential
// body and the SVC release material for the holder.
type SelectiveDisclosureJWT struct {
	SignedJWT *afgjwt.JSONWebToken
	SVC       *common.SVC
}

// DecodeClaims fills input c with claims of a token.
func (j *SelectiveDisclosureJWT) DecodeClaims(c interface{}) error {
	return j.SignedJWT.DecodeClaims(c)
}

// LookupStringHeader makes look up of particular header with string value.
func (j *SelectiveDisclosureJWT) LookupStringHeader(name string) string {
	return j.SignedJWT.LookupStringHeader(name)
}

// Serialize assembles the 4-segment wire credential.
func (j *SelectiveDisclosureJWT) Serialize() (string, error) {
	if j.SignedJWT == nil {
		return "", errors.New("JWS serialization is supported only")
	}

	signedJWT, err := j.SignedJWT.Serialize(false)
	if err != nil {
		return "", err
	}

	svcSegment, err := j.SVC.Encode()
	if err != nil {
		return "", err
	}

	cf := common.CombinedFormatForIssuance{
		SDJWT: signedJWT,
		SVC:   svcSegment,
	}

	return cf.Serialize(), nil
}

func generateSalt() (string, error) {
	salt := make([]byte, saltSizeBytes)

	_, err := rand.Read(salt)
	if err != nil {
		return "", err
	}

	// it is RECOMMENDED to base64url-encode the salt value, producing a string.
	return base64.RawURLEncoding.EncodeToString(salt), nil
}

// payload represents the credential body.
type payload struct {
	// registered claim names
	Issuer   string           `json:"iss,omitempty"`
	Subject  string           `json:"sub,omitempty"`
	JTI      string           `json:"jti,omitempty"`
	Expiry   *jwt.NumericDate `json:"exp,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`

	// non-registered name that can be used for claims based holder binding
	ID string `json:"id,omitempty"`

	// selective disclosure specific
	CNF       map[string]interface{} `json:"cnf,omitempty"`
	SDHashAlg string                 `json:"sd_hash_alg,omitempty"`
	SDDigests *claimtree.Node        `json:"sd_digests,omitempty"`
}
