// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pageset

import (
	"context"
	"fmt"
)

// MaxSearchFilterEntries is the capacity ceiling for search_filter:
// capped at 10 000 entries.
const MaxSearchFilterEntries = 10_000

// ErrSearchFilterCapacity is returned when SearchFilter is asked to run
// against more than MaxSearchFilterEntries entries.
var ErrSearchFilterCapacity = fmt.Errorf("pageset: search_filter capacity exceeded (max %d entries)", MaxSearchFilterEntries)

// SearchMatcher answers "does entry e match query on its wiki's search
// index," used by SearchFilter to avoid coupling this package to an HTTP
// client. The real query against action=query&list=search takes the form
// "pageid:<id> <query>"; no package in this module supplies such a
// matcher.
type SearchMatcher func(ctx context.Context, e *PageEntry, query string) (bool, error)

// SearchFilter retains entries matching query via match. Any failed
// sub-search marks the whole filter failed (partial results are not
// returned).
func (p *PageSet) SearchFilter(ctx context.Context, query string, match SearchMatcher) error {
	if p.Len() > MaxSearchFilterEntries {
		return ErrSearchFilterCapacity
	}

	var keep []Title
	var failErr error
	p.Each(func(e *PageEntry) {
		if failErr != nil {
			return
		}
		ok, err := match(ctx, e, query)
		if err != nil {
			failErr = fmt.Errorf("pageset: search_filter sub-search failed: %w", err)
			return
		}
		if ok {
			keep = append(keep, e.Title)
		}
	})
	if failErr != nil {
		return failErr
	}

	keepSet := make(map[Title]bool, len(keep))
	for _, t := range keep {
		keepSet[t] = true
	}
	p.Retain(func(e *PageEntry) bool { return keepSet[e.Title] })
	return nil
}
