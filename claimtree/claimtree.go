/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package claimtree provides a generic tagged tree of JSON-like claim values.
//
// A Node is either an object with ordered keys, an array, or a scalar leaf.
// The same type represents claim sets, disclosure structures, digest trees and
// release material, so the protocol walks in sdjwt operate on one model with
// exhaustive kind matching instead of duck-typed maps.
package claimtree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind is the variant tag of a Node.
type Kind int

const (
	// KindLeaf is a scalar value: string, number, boolean or null.
	KindLeaf Kind = iota
	// KindObject is an ordered string-to-Node mapping.
	KindObject
	// KindArray is a sequence of nodes.
	KindArray
)

// Node is one node of a claim tree.
type Node struct {
	kind   Kind
	keys   []string
	fields map[string]*Node
	elems  []*Node
	value  interface{}
}

// NewObject creates an empty object node.
func NewObject() *Node {
	return &Node{kind: KindObject, fields: make(map[string]*Node)}
}

// NewArray creates an array node from elems.
func NewArray(elems ...*Node) *Node {
	return &Node{kind: KindArray, elems: elems}
}

// NewLeaf creates a leaf node holding a scalar value.
func NewLeaf(value interface{}) *Node {
	return &Node{kind: KindLeaf, value: value}
}

// NewString creates a string leaf node.
func NewString(value string) *Node {
	return NewLeaf(value)
}

// Kind returns the variant tag of the node.
func (n *Node) Kind() Kind {
	return n.kind
}

// Keys returns object keys in insertion order.
func (n *Node) Keys() []string {
	return n.keys
}

// Field returns the child node for key, or nil if the key is not present
// or the node is not an object.
func (n *Node) Field(key string) *Node {
	if n.kind != KindObject {
		return nil
	}

	return n.fields[key]
}

// SetField sets the child node for key, preserving first-insertion order.
func (n *Node) SetField(key string, child *Node) {
	if _, ok := n.fields[key]; !ok {
		n.keys = append(n.keys, key)
	}

	n.fields[key] = child
}

// Len returns the number of array elements.
func (n *Node) Len() int {
	return len(n.elems)
}

// Elem returns the i-th array element.
func (n *Node) Elem(i int) *Node {
	return n.elems[i]
}

// Append adds an element to an array node.
func (n *Node) Append(child *Node) {
	n.elems = append(n.elems, child)
}

// LeafValue returns the scalar value of a leaf node.
func (n *Node) LeafValue() interface{} {
	return n.value
}

// StringValue returns the leaf value and true if the node is a string leaf.
func (n *Node) StringValue() (string, bool) {
	if n.kind != KindLeaf {
		return "", false
	}

	s, ok := n.value.(string)

	return s, ok
}

// IsEmptyLeaf reports whether the node is a leaf carrying null or an empty
// string. Release material uses such leaves to mark withheld positions.
func (n *Node) IsEmptyLeaf() bool {
	if n.kind != KindLeaf {
		return false
	}

	if n.value == nil {
		return true
	}

	s, ok := n.value.(string)

	return ok && s == ""
}

// Parse reads a JSON document into a claim tree. Object key order is preserved
// and numbers are kept as json.Number.
func Parse(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	node, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("parse claim tree: %w", err)
	}

	if dec.More() {
		return nil, fmt.Errorf("parse claim tree: trailing data after JSON value")
	}

	return node, nil
}

func decodeValue(dec *json.Decoder) (*Node, error) {
	token, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch tv := token.(type) {
	case json.Delim:
		switch tv {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter '%v'", tv)
		}
	default:
		return NewLeaf(token), nil
	}
}

func decodeObject(dec *json.Decoder) (*Node, error) {
	node := NewObject()

	for dec.More() {
		keyToken, err := dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("object key is not a string: %v", keyToken)
		}

		child, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		node.SetField(key, child)
	}

	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return node, nil
}

func decodeArray(dec *json.Decoder) (*Node, error) {
	node := NewArray()

	for dec.More() {
		child, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		node.Append(child)
	}

	// consume closing ']'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return node, nil
}

// MarshalJSON serializes the tree, emitting object keys in insertion order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	if err := n.encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the node with the parsed representation of data.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}

	*n = *parsed

	return nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	switch n.kind {
	case KindObject:
		buf.WriteByte('{')

		for i, key := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}

			keyBytes, err := json.Marshal(key)
			if err != nil {
				return err
			}

			buf.Write(keyBytes)
			buf.WriteByte(':')

			if err := n.fields[key].encode(buf); err != nil {
				return err
			}
		}

		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')

		for i, elem := range n.elems {
			if i > 0 {
				buf.WriteByte(',')
			}

			if err := elem.encode(buf); err != nil {
				return err
			}
		}

		buf.WriteByte(']')
	default:
		valueBytes, err := json.Marshal(n.value)
		if err != nil {
			return err
		}

		buf.Write(valueBytes)
	}

	return nil
}

// FromValue builds a claim tree from plain Go values as produced by JSON
// decoding (maps, slices and scalars). Map keys are ordered alphabetically
// since Go maps carry no order of their own.
func FromValue(value interface{}) (*Node, error) {
	switch vt := value.(type) {
	case map[string]interface{}:
		node := NewObject()

		keys := make([]string, 0, len(vt))
		for key := range vt {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		for _, key := range keys {
			child, err := FromValue(vt[key])
			if err != nil {
				return nil, err
			}

			node.SetField(key, child)
		}

		return node, nil
	case []interface{}:
		node := NewArray()

		for _, elem := range vt {
			child, err := FromValue(elem)
			if err != nil {
				return nil, err
			}

			node.Append(child)
		}

		return node, nil
	case nil, string, bool, json.Number, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return NewLeaf(vt), nil
	default:
		return nil, fmt.Errorf("unsupported claim value type %T", value)
	}
}

// Value converts the tree back to plain Go values: map[string]interface{} for
// objects, []interface{} for arrays and the scalar itself for leaves.
func (n *Node) Value() interface{} {
	switch n.kind {
	case KindObject:
		m := make(map[string]interface{}, len(n.keys))
		for _, key := range n.keys {
			m[key] = n.fields[key].Value()
		}

		return m
	case KindArray:
		arr := make([]interface{}, len(n.elems))
		for i, elem := range n.elems {
			arr[i] = elem.Value()
		}

		return arr
	default:
		return n.value
	}
}
