/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jose

// IANA registered JOSE headers (https://tools.ietf.org/html/rfc7515#section-4.1)
const (
	// HeaderAlgorithm identifies the cryptographic algorithm used to secure the JWS.
	HeaderAlgorithm = "alg" // string

	// HeaderKeyID is a hint indicating which key was used to secure the JWS.
	HeaderKeyID = "kid" // string

	// HeaderType is used by JWS applications to declare the media type of this complete JWS.
	HeaderType = "typ" // string

	// HeaderContentType is used by JWS applications to declare the media type of the secured content (the payload).
	HeaderContentType = "cty" // string
)

// Headers represents JOSE headers.
type Headers map[string]interface{}

// KeyID gets Key ID from JOSE headers.
func (h Headers) KeyID() (string, bool) {
	return h.stringValue(HeaderKeyID)
}

// Algorithm gets Algorithm from JOSE headers.
func (h Headers) Algorithm() (string, bool) {
	return h.stringValue(HeaderAlgorithm)
}

// Type gets content type of JOSE headers.
func (h Headers) Type() (string, bool) {
	return h.stringValue(HeaderType)
}

// ContentType gets content type of JOSE headers.
func (h Headers) ContentType() (string, bool) {
	return h.stringValue(HeaderContentType)
}

func (h Headers) stringValue(key string) (string, bool) {
	raw, ok := h[key]
	if !ok {
		return "", false
	}

	str, ok := raw.(string)

	return str, ok
}
