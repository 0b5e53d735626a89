// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT
// Package combination implements the recursive Combination Expression tree:
// a boolean expression over source names, its parser, its post-order
// flattening, and stack-based evaluation.
package combination

import "fmt"

// Op identifies a combinator node kind.
type Op int

const (
	OpSource Op = iota
	OpUnion
	OpIntersection
	OpDifference
	OpNone
)

// Expr is a node in a Combination tree. Source leaves set Name; operator
// nodes set A and B; OpNone carries neither.
type Expr struct {
	Op   Op
	Name string
	A, B *Expr
}

// Source builds a leaf node naming a source.
func Source(name string) *Expr { return &Expr{Op: OpSource, Name: name} }

// None is the empty combination.
func None() *Expr { return &Expr{Op: OpNone} }

// Union builds a Union node, collapsing a None operand onto the other side
// None is collapsed away inside Union.
func Union(a, b *Expr) *Expr {
	if a.Op == OpNone {
		return b
	}
	if b.Op == OpNone {
		return a
	}
	return &Expr{Op: OpUnion, A: a, B: b}
}

// Intersection builds an Intersection node. None is never a valid operand;
// callers must check IsNone before constructing this (§3 invariant: "None
// never appears as an operand of Intersection — that is a hard error").
func Intersection(a, b *Expr) (*Expr, error) {
	if a.Op == OpNone || b.Op == OpNone {
		return nil, fmt.Errorf("combination: %w: None is not a valid Intersection operand", ErrMalformed)
	}
	return &Expr{Op: OpIntersection, A: a, B: b}, nil
}

// Difference builds a Difference node. Difference(x, None) reduces to x;
// Difference(None, _) is a hard error.
func Difference(a, b *Expr) (*Expr, error) {
	if a.Op == OpNone {
		return nil, fmt.Errorf("combination: %w: None is not a valid Difference left operand", ErrMalformed)
	}
	if b.Op == OpNone {
		return a, nil
	}
	return &Expr{Op: OpDifference, A: a, B: b}, nil
}

// IsNone reports whether e is the empty combination.
func (e *Expr) IsNone() bool { return e == nil || e.Op == OpNone }

// DefaultCombination left-folds the runnable sources with Intersection,
// seeded from the first.
func DefaultCombination(sourceNames []string) *Expr {
	if len(sourceNames) == 0 {
		return None()
	}
	expr := Source(sourceNames[0])
	for _, name := range sourceNames[1:] {
		next, err := Intersection(expr, Source(name))
		if err != nil {
			// unreachable: neither operand is ever None here.
			panic(err)
		}
		expr = next
	}
	return expr
}
