// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pageset

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/lanrat/extsort"
)

// extsortThreshold is the entry count above which group_by_namespace sorts
// titles with an external merge sort instead of sort.Strings.
const extsortThreshold = 100_000

// PageSet is the central data structure: a disk-spillable, keyed collection
// of Page Entries scoped to a single wiki. It is modeled as a
// reference-counted container guarded by a single reader-writer lock;
// every exported method takes that lock internally, so concurrent readers
// and a writer can interleave safely without callers managing locking
// themselves.
type PageSet struct {
	mu   sync.RWMutex
	wiki string // empty only transiently during construction
	s    store

	hasSitelinkCounts bool
	spillThreshold    int
}

// New creates an empty Page Set tagged for wiki.
func New(wiki string) *PageSet {
	return &PageSet{
		wiki:           wiki,
		s:              newMemStore(),
		spillThreshold: DefaultSpillThreshold,
	}
}

// Wiki returns the wiki label this set is scoped to.
func (p *PageSet) Wiki() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.wiki
}

// SetSpillThreshold overrides DefaultSpillThreshold; 0 disables spilling.
func (p *PageSet) SetSpillThreshold(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spillThreshold = n
}

// HasSitelinkCounts reports whether entries in this set carry a populated
// SitelinkCount column (affects which output columns a renderer emits).
func (p *PageSet) HasSitelinkCounts() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hasSitelinkCounts
}

// MarkHasSitelinkCounts records that sitelink counts were computed for this
// set (set by the sitelinks source / post-processor step).
func (p *PageSet) MarkHasSitelinkCounts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasSitelinkCounts = true
}

// Add inserts entry, idempotent and last-write-wins on attributes.
func (p *PageSet) Add(entry *PageEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.put(entry)
	p.maybeSpillLocked()
}

func (p *PageSet) maybeSpillLocked() {
	if p.spillThreshold <= 0 || p.s.len() <= p.spillThreshold {
		return
	}
	mem, ok := p.s.(*memStore)
	if !ok {
		if sp, ok := p.s.(*spillStore); ok {
			// Keep only half the overlay hot; push the rest to disk.
			overflow := len(sp.overlay) - p.spillThreshold/2
			if overflow > 0 {
				_ = sp.spillOldest(overflow)
			}
		}
		return
	}
	p.s = fromMemStore(mem)
	if sp, ok := p.s.(*spillStore); ok {
		overflow := sp.len() - p.spillThreshold/2
		if overflow > 0 {
			_ = sp.spillOldest(overflow)
		}
	}
}

// Get returns the entry for t, if present.
func (p *PageSet) Get(t Title) (*PageEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s.get(t)
}

// Mutate applies fn to the entry for t, if present, and persists the
// result. This is the write path row-joining code must use instead of
// Get+Add: Get on a disk-spilled entry returns a decoded copy, so mutating
// it in place would silently not persist. Reports whether t was present.
func (p *PageSet) Mutate(t Title, fn func(*PageEntry)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.s.get(t)
	if !ok {
		return false
	}
	fn(e)
	p.s.put(e)
	return true
}

// Len reports the number of entries.
func (p *PageSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s.len()
}

// IsEmpty reports whether the set has zero entries.
func (p *PageSet) IsEmpty() bool { return p.Len() == 0 }

// Clear removes all entries, keeping the wiki label.
func (p *PageSet) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.clear()
}

// SetFrom replaces p's contents with a copy of other's, adopting other's
// wiki label and sitelink-count flag. Used by post-processor steps that
// replace the result set outright.
func (p *PageSet) SetFrom(other *PageSet) {
	other.mu.RLock()
	entries := make([]*PageEntry, 0, other.s.len())
	other.s.each(func(e *PageEntry) bool {
		entries = append(entries, e.Clone())
		return true
	})
	wiki := other.wiki
	hasSitelinks := other.hasSitelinkCounts
	other.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.wiki = wiki
	p.hasSitelinkCounts = hasSitelinks
	p.s.clear()
	for _, e := range entries {
		p.s.put(e)
	}
}

// Retain removes every entry for which pred returns false.
func (p *PageSet) Retain(pred func(*PageEntry) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var toDelete []Title
	p.s.each(func(e *PageEntry) bool {
		if !pred(e) {
			toDelete = append(toDelete, e.Title)
		}
		return true
	})
	for _, t := range toDelete {
		p.s.delete(t)
	}
}

// Each iterates entries in insertion order under a read lock. fn must not
// call back into p.
func (p *PageSet) Each(fn func(*PageEntry)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.s.each(func(e *PageEntry) bool {
		fn(e)
		return true
	})
}

// Titles returns every title currently in the set, in insertion order.
func (p *PageSet) Titles() []Title {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Title, 0, p.s.len())
	p.s.each(func(e *PageEntry) bool {
		out = append(out, e.Title)
		return true
	})
	return out
}

// Clone returns an independent copy of p.
func (p *PageSet) Clone() *PageSet {
	c := New(p.Wiki())
	c.SetFrom(p)
	return c
}

// GroupByNamespace returns, for each namespace present in the set, the
// sorted list of dbkeys in that namespace. Above extsortThreshold entries
// it sorts with extsort instead of sort.Strings.
func (p *PageSet) GroupByNamespace() map[int][]string {
	p.mu.RLock()
	grouped := make(map[int][]string)
	p.s.each(func(e *PageEntry) bool {
		grouped[e.Title.NamespaceID] = append(grouped[e.Title.NamespaceID], e.Title.DBKey)
		return true
	})
	p.mu.RUnlock()

	for ns, keys := range grouped {
		if len(keys) > extsortThreshold {
			grouped[ns] = extsortStrings(keys)
		} else {
			sort.Strings(keys)
		}
	}
	return grouped
}

func extsortStrings(keys []string) []string {
	in := make(chan string, 1024)
	config := extsort.DefaultConfig()
	sorter, outCh, errCh := extsort.Strings(in, config)

	go func() {
		defer close(in)
		for _, k := range keys {
			in <- k
		}
	}()

	done := make(chan struct{})
	var sorted []string
	go func() {
		defer close(done)
		for s := range outCh {
			sorted = append(sorted, s)
		}
	}()
	sorter.Sort(context.Background())
	<-done
	if err := <-errCh; err != nil {
		// extsort failure degrades to an in-memory sort rather than losing data.
		sort.Strings(keys)
		return keys
	}
	return sorted
}

// RegexpFilter retains entries whose title (on non-Wikidata sets, the
// pretty form; on Wikidata, the WikidataLabel) matches re. Entries with a
// missing label on a Wikidata set are dropped.
func (p *PageSet) RegexpFilter(re *regexp.Regexp) {
	wiki := p.Wiki()
	p.Retain(func(e *PageEntry) bool {
		if wiki == "wikidatawiki" {
			if e.WikidataLabel == "" {
				return false
			}
			return re.MatchString(e.WikidataLabel)
		}
		return re.MatchString(e.Title.Pretty())
	})
}
