/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package claimtree

import (
	"errors"
	"fmt"
)

// ErrArrayLengthMismatch is returned when a structure array can be neither
// broadcast nor paired positionally with the subject array.
var ErrArrayLengthMismatch = errors.New("array length mismatch between structure and subject")

// CombineFunc is applied by Correlate at every position it does not recurse
// into. structure is the structure node at the position, or nil when the
// structure has no entry there. subject is the full subject node or subtree.
// Returning a nil node omits the position from the output tree.
type CombineFunc func(structure, subject *Node) (*Node, error)

// Correlate zips a structure tree with a subject tree.
//
// The subject's own shape drives iteration; the structure may be sparser.
// When both nodes are objects, Correlate recurses field-by-field over the
// subject's keys, passing nil structure for keys the structure lacks. When
// both are arrays, a single-element structure is broadcast to every subject
// element, equal lengths pair positionally, and any other combination fails.
// Every other pairing is treated as atomic: combine is applied to the whole
// subject subtree and its result becomes the output at that position.
func Correlate(structure, subject *Node, combine CombineFunc) (*Node, error) {
	if structure != nil && structure.kind == KindObject && subject.kind == KindObject {
		return correlateObjects(structure, subject, combine)
	}

	if structure != nil && structure.kind == KindArray && subject.kind == KindArray {
		return correlateArrays(structure, subject, combine)
	}

	return combine(structure, subject)
}

func correlateObjects(structure, subject *Node, combine CombineFunc) (*Node, error) {
	out := NewObject()

	for _, key := range subject.keys {
		child, err := Correlate(structure.fields[key], subject.fields[key], combine)
		if err != nil {
			return nil, fmt.Errorf("key '%s': %w", key, err)
		}

		if child != nil {
			out.SetField(key, child)
		}
	}

	return out, nil
}

func correlateArrays(structure, subject *Node, combine CombineFunc) (*Node, error) {
	broadcast := len(structure.elems) == 1

	if !broadcast && len(structure.elems) != len(subject.elems) {
		return nil, fmt.Errorf("%w: structure has %d elements, subject has %d",
			ErrArrayLengthMismatch, len(structure.elems), len(subject.elems))
	}

	out := NewArray()

	for i, elem := range subject.elems {
		elemStructure := structure.elems[0]
		if !broadcast {
			elemStructure = structure.elems[i]
		}

		child, err := Correlate(elemStructure, elem, combine)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}

		if child != nil {
			out.Append(child)
		}
	}

	return out, nil
}
