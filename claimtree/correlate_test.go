/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package claimtree

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// tag marks every combined position with whether the structure was present.
func tag(structure, subject *Node) (*Node, error) {
	if structure == nil {
		return NewString("atomic"), nil
	}

	return NewString("split"), nil
}

func TestCorrelate(t *testing.T) {
	r := require.New(t)

	t.Run("success - subject shape drives iteration", func(t *testing.T) {
		structure, err := Parse([]byte(`{"address":{}}`))
		r.NoError(err)

		subject, err := Parse([]byte(`{"name":"Jayden Doe","address":{"street":"Main St","zip":"12345"}}`))
		r.NoError(err)

		out, err := Correlate(structure, subject, tag)
		r.NoError(err)

		marshaled, err := json.Marshal(out)
		r.NoError(err)
		r.Equal(`{"name":"atomic","address":{"street":"atomic","zip":"atomic"}}`, string(marshaled))
	})

	t.Run("success - structure object keys absent from subject are ignored", func(t *testing.T) {
		structure, err := Parse([]byte(`{"ghost":{}}`))
		r.NoError(err)

		subject, err := Parse([]byte(`{"name":"Jayden Doe"}`))
		r.NoError(err)

		out, err := Correlate(structure, subject, tag)
		r.NoError(err)
		r.Equal([]string{"name"}, out.Keys())
		r.Nil(out.Field("ghost"))
	})

	t.Run("success - single element structure array is broadcast", func(t *testing.T) {
		structure, err := Parse([]byte(`{"phones":[{}]}`))
		r.NoError(err)

		subject, err := Parse([]byte(`{"phones":[{"n":"+1-555-0100"},{"n":"+1-555-0101"},{"n":"+1-555-0102"}]}`))
		r.NoError(err)

		out, err := Correlate(structure, subject, tag)
		r.NoError(err)

		phones := out.Field("phones")
		r.Equal(3, phones.Len())

		for i := 0; i < phones.Len(); i++ {
			v, ok := phones.Elem(i).Field("n").StringValue()
			r.True(ok)
			r.Equal("atomic", v)
		}
	})

	t.Run("success - equal length arrays pair positionally", func(t *testing.T) {
		structure, err := Parse([]byte(`[{},null]`))
		r.NoError(err)

		subject, err := Parse([]byte(`[{"a":1},{"b":2}]`))
		r.NoError(err)

		out, err := Correlate(structure, subject, tag)
		r.NoError(err)
		r.Equal(2, out.Len())

		// first element recursed into, second treated atomically
		r.Equal(KindObject, out.Elem(0).Kind())
		r.Equal(KindLeaf, out.Elem(1).Kind())
	})

	t.Run("success - nil combine result omits the position", func(t *testing.T) {
		subject, err := Parse([]byte(`{"keep":"a","drop":"b","list":["a","b"]}`))
		r.NoError(err)

		structure, err := Parse([]byte(`{"list":[null]}`))
		r.NoError(err)

		out, err := Correlate(structure, subject, func(_, s *Node) (*Node, error) {
			if v, ok := s.StringValue(); ok && v == "b" {
				return nil, nil
			}

			return s, nil
		})
		r.NoError(err)
		r.Equal([]string{"keep", "list"}, out.Keys())
		r.Equal(1, out.Field("list").Len())
	})

	t.Run("success - atomic structure stops recursion into composite subject", func(t *testing.T) {
		structure, err := Parse([]byte(`{"address":"opaque"}`))
		r.NoError(err)

		subject, err := Parse([]byte(`{"address":{"street":"Main St"}}`))
		r.NoError(err)

		out, err := Correlate(structure, subject, tag)
		r.NoError(err)

		v, ok := out.Field("address").StringValue()
		r.True(ok)
		r.Equal("split", v)
	})

	t.Run("error - array length mismatch", func(t *testing.T) {
		structure, err := Parse([]byte(`{"phones":[{},{}]}`))
		r.NoError(err)

		subject, err := Parse([]byte(`{"phones":["a","b","c"]}`))
		r.NoError(err)

		out, err := Correlate(structure, subject, tag)
		r.Error(err)
		r.Nil(out)
		r.ErrorIs(err, ErrArrayLengthMismatch)
		r.Contains(err.Error(), "key 'phones'")
	})

	t.Run("error - combine error is wrapped with the path", func(t *testing.T) {
		structure, err := Parse([]byte(`{"list":[{}]}`))
		r.NoError(err)

		subject, err := Parse([]byte(`{"list":["a","b"]}`))
		r.NoError(err)

		combineErr := fmt.Errorf("boom")

		out, err := Correlate(structure, subject, func(_, s *Node) (*Node, error) {
			if v, ok := s.StringValue(); ok && v == "b" {
				return nil, combineErr
			}

			return s, nil
		})
		r.Error(err)
		r.Nil(out)
		r.ErrorIs(err, combineErr)
		r.Contains(err.Error(), "key 'list': index 1")
	})
}
