// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package combination

import "fmt"

// PostItem is one emitted element of a post-order flattening: either a
// Source leaf or an operator tag consuming the two values below it on the
// evaluation stack.
type PostItem struct {
	Op   Op // OpSource, OpUnion, OpIntersection or OpDifference
	Name string
}

// Postorder walks e and emits Source leaves followed by operator tags. A
// bare None at the top is an error; by construction (see
// Union/Intersection/Difference above) no other node can carry an illegal
// None operand, so the walk itself never fails once past the root check.
func Postorder(e *Expr) ([]PostItem, error) {
	if e.IsNone() {
		return nil, fmt.Errorf("combination: %w: bare None at top of expression", ErrMalformed)
	}
	var out []PostItem
	var walk func(*Expr) error
	walk = func(n *Expr) error {
		switch n.Op {
		case OpSource:
			out = append(out, PostItem{Op: OpSource, Name: n.Name})
			return nil
		case OpUnion, OpIntersection, OpDifference:
			if n.A.IsNone() || n.B.IsNone() {
				return fmt.Errorf("combination: %w: None operand survived construction", ErrMalformed)
			}
			if err := walk(n.A); err != nil {
				return err
			}
			if err := walk(n.B); err != nil {
				return err
			}
			out = append(out, PostItem{Op: n.Op})
			return nil
		default:
			return fmt.Errorf("combination: %w: unexpected node kind", ErrMalformed)
		}
	}
	if err := walk(e); err != nil {
		return nil, err
	}
	return out, nil
}
