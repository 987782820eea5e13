/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/stretchr/testify/require"

	"github.com/opencred/sdjwt/claimtree"
	"github.com/opencred/sdjwt/jwk"
	afgjwt "github.com/opencred/sdjwt/jwt"
	"github.com/opencred/sdjwt/sdjwt/common"
	"github.com/opencred/sdjwt/sdjwt/holder"
	"github.com/opencred/sdjwt/sdjwt/issuer"
)

const (
	testIssuer   = "https://example.com/issuer"
	testAudience = "https://example.com/verifier"
	testNonce    = "nonce-12345"
)

type issuerKeys struct {
	pubKey  ed25519.PublicKey
	privKey ed25519.PrivateKey
}

func newIssuerKeys(t *testing.T) *issuerKeys {
	t.Helper()

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &issuerKeys{pubKey: pubKey, privKey: privKey}
}

func (k *issuerKeys) trusted() map[string]interface{} {
	return map[string]interface{}{testIssuer: k.pubKey}
}

func issueCredential(t *testing.T, keys *issuerKeys, opts ...issuer.NewOpt) string {
	t.Helper()

	r := require.New(t)

	token, err := issuer.New(testIssuer, map[string]interface{}{
		"given_name":  "John",
		"family_name": "Doe",
		"email":       "john.doe@example.com",
	}, nil, afgjwt.NewEd25519Signer(keys.privKey), opts...)
	r.NoError(err)

	credential, err := token.Serialize()
	r.NoError(err)

	return credential
}

func present(t *testing.T, credential string, selection string, opts ...holder.Option) string {
	t.Helper()

	r := require.New(t)

	var toDisclose *claimtree.Node

	if selection != "" {
		var err error

		toDisclose, err = claimtree.Parse([]byte(selection))
		r.NoError(err)
	}

	presentation, err := holder.CreatePresentation(credential, toDisclose, testNonce, testAudience, opts...)
	r.NoError(err)

	return presentation
}

func TestParse(t *testing.T) {
	r := require.New(t)

	keys := newIssuerKeys(t)
	credential := issueCredential(t, keys)

	defaultOpts := func() []ParseOpt {
		return []ParseOpt{
			WithTrustedIssuers(keys.trusted()),
			WithExpectedNonce(testNonce),
			WithExpectedAudience(testAudience),
		}
	}

	t.Run("success - disclosed claims are returned, withheld claims absent", func(t *testing.T) {
		presentation := present(t, credential, `{"given_name":true,"email":true}`)

		disclosed, err := Parse(presentation, defaultOpts()...)
		r.NoError(err)

		name, ok := disclosed.Field("given_name").StringValue()
		r.True(ok)
		r.Equal("John", name)

		email, ok := disclosed.Field("email").StringValue()
		r.True(ok)
		r.Equal("john.doe@example.com", email)

		r.Nil(disclosed.Field("family_name"))
	})

	t.Run("success - empty selection yields empty claim set", func(t *testing.T) {
		presentation := present(t, credential, "")

		disclosed, err := Parse(presentation, defaultOpts()...)
		r.NoError(err)
		r.Empty(disclosed.Keys())
	})

	t.Run("success - structured selection discloses a claim subtree", func(t *testing.T) {
		structure, err := claimtree.Parse([]byte(`{"address":{}}`))
		r.NoError(err)

		token, err := issuer.New(testIssuer,
			`{"name":"John Doe","address":{"street":"Main St","zip":"12345"}}`,
			nil, afgjwt.NewEd25519Signer(keys.privKey),
			issuer.WithDisclosureStructure(structure))
		r.NoError(err)

		structuredCredential, err := token.Serialize()
		r.NoError(err)

		presentation := present(t, structuredCredential, `{"address":{"zip":true}}`)

		disclosed, err := Parse(presentation, defaultOpts()...)
		r.NoError(err)

		zip, ok := disclosed.Field("address").Field("zip").StringValue()
		r.True(ok)
		r.Equal("12345", zip)

		r.Nil(disclosed.Field("address").Field("street"))
		r.Nil(disclosed.Field("name"))
	})

	t.Run("success - array elements disclosed individually", func(t *testing.T) {
		structure, err := claimtree.Parse([]byte(`{"nationalities":[null]}`))
		r.NoError(err)

		token, err := issuer.New(testIssuer, `{"nationalities":["DE","US","FR"]}`,
			nil, afgjwt.NewEd25519Signer(keys.privKey),
			issuer.WithDisclosureStructure(structure))
		r.NoError(err)

		arrayCredential, err := token.Serialize()
		r.NoError(err)

		presentation := present(t, arrayCredential, `{"nationalities":["x","","x"]}`)

		disclosed, err := Parse(presentation, defaultOpts()...)
		r.NoError(err)

		nationalities := disclosed.Field("nationalities")
		r.Equal(2, nationalities.Len())

		first, _ := nationalities.Elem(0).StringValue()
		second, _ := nationalities.Elem(1).StringValue()
		r.Equal("DE", first)
		r.Equal("FR", second)
	})

	t.Run("success - holder binding round trip", func(t *testing.T) {
		holderPubKey, holderPrivKey, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		boundCredential := issueCredential(t, keys, issuer.WithHolderPublicKey(jwk.New(holderPubKey)))

		presentation := present(t, boundCredential, `{"given_name":true}`,
			holder.WithHolderBinding(&holder.BindingInfo{
				Signer: afgjwt.NewEd25519Signer(holderPrivKey),
				Key:    jwk.New(holderPubKey),
			}))

		disclosed, err := Parse(presentation, defaultOpts()...)
		r.NoError(err)

		name, ok := disclosed.Field("given_name").StringValue()
		r.True(ok)
		r.Equal("John", name)
	})

	t.Run("error - wrong segment count", func(t *testing.T) {
		disclosed, err := Parse("h.p.s.svc", defaultOpts()...)
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrMalformedInput)
	})

	t.Run("error - issuer is not trusted", func(t *testing.T) {
		presentation := present(t, credential, `{"given_name":true}`)

		disclosed, err := Parse(presentation,
			WithTrustedIssuers(map[string]interface{}{"https://other.example.com": keys.pubKey}),
			WithExpectedNonce(testNonce),
			WithExpectedAudience(testAudience))
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrUntrustedIssuer)
	})

	t.Run("error - credential signed by another key", func(t *testing.T) {
		otherKeys := newIssuerKeys(t)
		forged := issueCredential(t, otherKeys)

		presentation := present(t, forged, `{"given_name":true}`)

		disclosed, err := Parse(presentation, defaultOpts()...)
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrSignatureInvalid)
	})

	t.Run("error - credential expired", func(t *testing.T) {
		expired := issueCredential(t, keys,
			issuer.WithIssuedAt(jwt.NewNumericDate(time.Now().Add(-48*time.Hour))),
			issuer.WithExpiry(jwt.NewNumericDate(time.Now().Add(-24*time.Hour))))

		presentation := present(t, expired, `{"given_name":true}`)

		disclosed, err := Parse(presentation, defaultOpts()...)
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrTemporalInvalid)
	})

	t.Run("error - credential issued in the future", func(t *testing.T) {
		future := issueCredential(t, keys,
			issuer.WithIssuedAt(jwt.NewNumericDate(time.Now().Add(time.Hour))))

		presentation := present(t, future, `{"given_name":true}`)

		disclosed, err := Parse(presentation, defaultOpts()...)
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrTemporalInvalid)
	})

	t.Run("success - iat within the leeway window", func(t *testing.T) {
		slightlyFuture := issueCredential(t, keys,
			issuer.WithIssuedAt(jwt.NewNumericDate(time.Now().Add(10*time.Second))))

		presentation := present(t, slightlyFuture, `{"given_name":true}`)

		disclosed, err := Parse(presentation, defaultOpts()...)
		r.NoError(err)
		r.NotNil(disclosed)
	})

	t.Run("error - nonce does not match", func(t *testing.T) {
		presentation := present(t, credential, `{"given_name":true}`)

		disclosed, err := Parse(presentation,
			WithTrustedIssuers(keys.trusted()),
			WithExpectedNonce("99999"),
			WithExpectedAudience(testAudience))
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrClaimMismatch)
	})

	t.Run("error - audience does not match", func(t *testing.T) {
		presentation := present(t, credential, `{"given_name":true}`)

		disclosed, err := Parse(presentation,
			WithTrustedIssuers(keys.trusted()),
			WithExpectedNonce(testNonce),
			WithExpectedAudience("https://wrong.example.com"))
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrClaimMismatch)
	})

	t.Run("error - unsigned release document when binding required", func(t *testing.T) {
		holderPubKey, holderPrivKey, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		boundCredential := issueCredential(t, keys, issuer.WithHolderPublicKey(jwk.New(holderPubKey)))

		presentation := present(t, boundCredential, `{"given_name":true}`,
			holder.WithHolderBinding(&holder.BindingInfo{
				Signer: afgjwt.NewEd25519Signer(holderPrivKey),
				Key:    jwk.New(holderPubKey),
			}))

		// strip the release signature segment
		parts := strings.Split(presentation, common.SegmentSeparator)
		unsigned := strings.Join(parts[:5], common.SegmentSeparator) + common.SegmentSeparator

		disclosed, err := Parse(unsigned, defaultOpts()...)
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrHolderBinding)
	})

	t.Run("error - release document signed by another key", func(t *testing.T) {
		holderPubKey, _, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		_, wrongPrivKey, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		boundCredential := issueCredential(t, keys, issuer.WithHolderPublicKey(jwk.New(holderPubKey)))

		cfi, err := common.ParseCombinedFormatForIssuance(boundCredential)
		r.NoError(err)

		// forge a release document with a key the credential is not bound to
		releaseJWT, err := afgjwt.NewSigned(map[string]interface{}{
			common.NonceKey:     testNonce,
			common.AudienceKey:  testAudience,
			common.SDReleaseKey: map[string]interface{}{},
		}, nil, afgjwt.NewEd25519Signer(wrongPrivKey))
		r.NoError(err)

		forged, err := releaseJWT.Serialize(false)
		r.NoError(err)

		disclosed, err := Parse(cfi.SDJWT+common.SegmentSeparator+forged, defaultOpts()...)
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrSignatureInvalid)
	})

	t.Run("error - revealed disclosure not committed by the issuer", func(t *testing.T) {
		// release document reveals a claim the credential never committed to
		cfi, err := common.ParseCombinedFormatForIssuance(credential)
		r.NoError(err)

		releaseJWT, err := afgjwt.NewUnsecured(map[string]interface{}{
			common.NonceKey:    testNonce,
			common.AudienceKey: testAudience,
			common.SDReleaseKey: map[string]interface{}{
				"bonus_claim": `["salt","sneaky"]`,
			},
		}, nil)
		r.NoError(err)

		forged, err := releaseJWT.Serialize(false)
		r.NoError(err)

		disclosed, err := Parse(cfi.SDJWT+common.SegmentSeparator+forged, defaultOpts()...)
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrDigestMismatch)
	})

	t.Run("error - tampered disclosure value", func(t *testing.T) {
		presentation := present(t, credential, `{"given_name":true}`)

		cfp, err := common.ParseCombinedFormatForPresentation(presentation)
		r.NoError(err)

		_, releasePayload, err := afgjwt.Parse(cfp.ReleaseJWT)
		r.NoError(err)

		releaseTree, err := claimtree.Parse(releasePayload)
		r.NoError(err)

		// swap the disclosed value while keeping the original salt
		released := releaseTree.Field(common.SDReleaseKey)
		original, _ := released.Field("given_name").StringValue()
		salt, _, err := common.ParseSaltedDisclosure(original)
		r.NoError(err)

		tampered, err := common.MakeSaltedDisclosure(salt, claimtree.NewString("Mallory"))
		r.NoError(err)

		released.SetField("given_name", claimtree.NewString(tampered))

		forgedJWT, err := afgjwt.NewUnsecured(map[string]interface{}{
			common.NonceKey:     testNonce,
			common.AudienceKey:  testAudience,
			common.SDReleaseKey: released,
		}, nil)
		r.NoError(err)

		forged, err := forgedJWT.Serialize(false)
		r.NoError(err)

		cfi, err := common.ParseCombinedFormatForIssuance(credential)
		r.NoError(err)

		disclosed, err := Parse(cfi.SDJWT+common.SegmentSeparator+forged, defaultOpts()...)
		r.Error(err)
		r.Nil(disclosed)
		r.ErrorIs(err, common.ErrDigestMismatch)
	})
}
