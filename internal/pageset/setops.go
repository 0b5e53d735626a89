// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pageset

import "errors"

// ErrWikiMismatch is returned by Union/Intersection/Difference when the two
// operands are scoped to different wikis. The smaller set is converted
// first in that case; converting requires cross-wiki database lookups,
// which this package — deliberately free of any database dependency —
// cannot perform on its own. The combinator in internal/pipeline detects
// ErrWikiMismatch, runs the conversion, and retries, keeping this package
// a pure, independently testable set algebra with no cyclic ownership
// back to the pipeline.
var ErrWikiMismatch = errors.New("pageset: operands are scoped to different wikis")

// Union returns a new set containing every entry present in p or other. The
// set law A ∪ ∅ = A is just this applied to an empty operand.
func (p *PageSet) Union(other *PageSet) (*PageSet, error) {
	if p.Wiki() != other.Wiki() {
		return nil, ErrWikiMismatch
	}
	result := New(p.Wiki())
	p.Each(func(e *PageEntry) { result.Add(e.Clone()) })
	other.Each(func(e *PageEntry) { result.Add(e.Clone()) })
	if p.HasSitelinkCounts() || other.HasSitelinkCounts() {
		result.MarkHasSitelinkCounts()
	}
	return result, nil
}

// Intersection returns a new set containing entries present in both p and
// other. Metadata on a shared entry is merged, preferring other's values on
// conflicts (it is applied "on top" in iteration order).
func (p *PageSet) Intersection(other *PageSet) (*PageSet, error) {
	if p.Wiki() != other.Wiki() {
		return nil, ErrWikiMismatch
	}
	result := New(p.Wiki())
	p.Each(func(e *PageEntry) {
		if oe, ok := other.Get(e.Title); ok {
			merged := e.Clone()
			merged.merge(oe)
			result.Add(merged)
		}
	})
	if p.HasSitelinkCounts() && other.HasSitelinkCounts() {
		result.MarkHasSitelinkCounts()
	}
	return result, nil
}

// Difference returns a new set containing entries in p whose title is not
// present in other.
func (p *PageSet) Difference(other *PageSet) (*PageSet, error) {
	if p.Wiki() != other.Wiki() {
		return nil, ErrWikiMismatch
	}
	result := New(p.Wiki())
	p.Each(func(e *PageEntry) {
		if _, ok := other.Get(e.Title); !ok {
			result.Add(e.Clone())
		}
	})
	if p.HasSitelinkCounts() {
		result.MarkHasSitelinkCounts()
	}
	return result, nil
}
