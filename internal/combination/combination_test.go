// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package combination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBareName(t *testing.T) {
	e := Parse("categories")
	require.Equal(t, OpSource, e.Op)
	assert.Equal(t, "categories", e.Name)
}

func TestParseMalformedYieldsNone(t *testing.T) {
	for _, s := range []string{"", "and", "categories and", "(categories", "categories)"} {
		e := Parse(s)
		assert.Truef(t, e.IsNone(), "expected None for %q, got %+v", s, e)
	}
}

// NOT applied to a parenthesized union.
func TestParseNotOverUnion(t *testing.T) {
	e := Parse("categories NOT (sparql OR pagepile)")
	require.Equal(t, OpDifference, e.Op)
	require.Equal(t, OpSource, e.A.Op)
	assert.Equal(t, "categories", e.A.Name)
	require.Equal(t, OpUnion, e.B.Op)
	assert.Equal(t, "sparql", e.B.A.Name)
	assert.Equal(t, "pagepile", e.B.B.Name)

	items, err := Postorder(e)
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, "categories", items[0].Name)
	assert.Equal(t, "sparql", items[1].Name)
	assert.Equal(t, "pagepile", items[2].Name)
	assert.Equal(t, OpUnion, items[3].Op)
	assert.Equal(t, OpDifference, items[4].Op)
}

func TestLeftToRightPrecedence(t *testing.T) {
	// "A and B or C" must parse as and(A, or(B, C)), not or(and(A,B), C).
	e := Parse("A and B or C")
	require.Equal(t, OpIntersection, e.Op)
	assert.Equal(t, "A", e.A.Name)
	require.Equal(t, OpUnion, e.B.Op)
	assert.Equal(t, "B", e.B.A.Name)
	assert.Equal(t, "C", e.B.B.Name)
}

func TestDefaultCombinationIsIntersection(t *testing.T) {
	e := DefaultCombination([]string{"a", "b", "c"})
	items, err := Postorder(e)
	require.NoError(t, err)

	got, err := Evaluate(items, map[string]map[string]bool{
		"a": {"A": true, "B": true, "C": true},
		"b": {"B": true, "C": true, "D": true},
		"c": {"B": true, "C": true},
	}, unionSets, intersectSets, diffSets)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"B": true, "C": true}, got)
}

func TestEvaluateDefaultIntersection(t *testing.T) {
	// Default intersection of two sources.
	e := DefaultCombination([]string{"a", "b"})
	items, err := Postorder(e)
	require.NoError(t, err)

	result, err := Evaluate(items, map[string]map[string]bool{
		"a": {"A": true, "B": true, "C": true},
		"b": {"B": true, "C": true, "D": true},
	}, unionSets, intersectSets, diffSets)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"B": true, "C": true}, result)
}

func TestPostorderBareNoneIsError(t *testing.T) {
	_, err := Postorder(None())
	assert.ErrorIs(t, err, ErrMalformed)
}

func unionSets(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func intersectSets(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func diffSets(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if !b[k] {
			out[k] = true
		}
	}
	return out
}
