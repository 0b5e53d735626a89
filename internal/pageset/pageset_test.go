// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pageset

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAdd(p *PageSet, ns int, dbkey string) {
	p.Add(&PageEntry{Title: NewTitle(ns, dbkey)})
}

func titleSet(p *PageSet) map[Title]bool {
	out := make(map[Title]bool)
	p.Each(func(e *PageEntry) { out[e.Title] = true })
	return out
}

func TestAddIdempotentLastWriteWins(t *testing.T) {
	p := New("enwiki")
	p.Add(&PageEntry{Title: NewTitle(0, "Alpha"), Bytes: 10, HasBytes: true})
	p.Add(&PageEntry{Title: NewTitle(0, "Alpha"), Bytes: 20, HasBytes: true})
	require.Equal(t, 1, p.Len())
	e, ok := p.Get(NewTitle(0, "Alpha"))
	require.True(t, ok)
	assert.EqualValues(t, 20, e.Bytes)
}

func TestSetLaws(t *testing.T) {
	a := New("enwiki")
	mustAdd(a, 0, "Alpha")
	mustAdd(a, 0, "Beta")

	aa, err := a.Union(a)
	require.NoError(t, err)
	assert.Equal(t, titleSet(a), titleSet(aa))

	ai, err := a.Intersection(a)
	require.NoError(t, err)
	assert.Equal(t, titleSet(a), titleSet(ai))

	ad, err := a.Difference(a)
	require.NoError(t, err)
	assert.Equal(t, 0, ad.Len())

	empty := New("enwiki")
	aUnionEmpty, err := a.Union(empty)
	require.NoError(t, err)
	assert.Equal(t, titleSet(a), titleSet(aUnionEmpty))

	aIntersectEmpty, err := a.Intersection(empty)
	require.NoError(t, err)
	assert.Equal(t, 0, aIntersectEmpty.Len())
}

func TestWikiMismatchError(t *testing.T) {
	a := New("enwiki")
	b := New("dewiki")
	_, err := a.Union(b)
	assert.ErrorIs(t, err, ErrWikiMismatch)
}

// Union of manual lists.
func TestUnionOfManualLists(t *testing.T) {
	alpha := New("enwiki")
	mustAdd(alpha, 0, "Alpha")
	beta := New("enwiki")
	mustAdd(beta, 0, "Beta")

	union, err := alpha.Union(beta)
	require.NoError(t, err)
	assert.Equal(t, 2, union.Len())
	_, ok := union.Get(NewTitle(0, "Alpha"))
	assert.True(t, ok)
	_, ok = union.Get(NewTitle(0, "Beta"))
	assert.True(t, ok)
}

// Default intersection of two sources.
func TestDefaultIntersectionOfTwoSets(t *testing.T) {
	a := New("enwiki")
	for _, k := range []string{"A", "B", "C"} {
		mustAdd(a, 0, k)
	}
	b := New("enwiki")
	for _, k := range []string{"B", "C", "D"} {
		mustAdd(b, 0, k)
	}

	ab, err := a.Intersection(b)
	require.NoError(t, err)
	assert.Equal(t, map[Title]bool{
		NewTitle(0, "B"): true,
		NewTitle(0, "C"): true,
	}, titleSet(ab))
}

func TestRegexpFilterPretty(t *testing.T) {
	p := New("enwiki")
	mustAdd(p, 0, "Douglas_Adams")
	mustAdd(p, 0, "Terry_Pratchett")
	p.RegexpFilter(regexp.MustCompile(`^Douglas`))
	assert.Equal(t, 1, p.Len())
	_, ok := p.Get(NewTitle(0, "Douglas_Adams"))
	assert.True(t, ok)
}

func TestRegexpFilterWikidataDropsMissingLabel(t *testing.T) {
	p := New("wikidatawiki")
	p.Add(&PageEntry{Title: NewTitle(0, "Q42"), WikidataLabel: "Douglas Adams"})
	p.Add(&PageEntry{Title: NewTitle(0, "Q1")})
	p.RegexpFilter(regexp.MustCompile(`Adams`))
	assert.Equal(t, 1, p.Len())
}

func TestGroupByNamespaceSorted(t *testing.T) {
	p := New("enwiki")
	mustAdd(p, 0, "Zebra")
	mustAdd(p, 0, "Apple")
	mustAdd(p, 14, "Category_Z")
	grouped := p.GroupByNamespace()
	assert.Equal(t, []string{"Apple", "Zebra"}, grouped[0])
	assert.Equal(t, []string{"Category_Z"}, grouped[14])
}

func TestToSQLBatchesChunking(t *testing.T) {
	p := New("enwiki")
	for _, k := range []string{"A", "B", "C", "D", "E"} {
		mustAdd(p, 0, k)
	}
	batches := p.ToSQLBatches(2)
	require.Len(t, batches, 3)
	assert.Equal(t, []any{0, "A", "B"}, batches[0].Params)
	assert.Equal(t, []any{0, "E"}, batches[2].Params)
}

func TestSearchFilterCapacity(t *testing.T) {
	p := New("enwiki")
	p.SetSpillThreshold(0)
	for i := 0; i < MaxSearchFilterEntries+1; i++ {
		mustAdd(p, 0, string(rune('a'))+string(rune(i)))
	}
	err := p.SearchFilter(context.Background(), "q", func(ctx context.Context, e *PageEntry, q string) (bool, error) {
		return true, nil
	})
	assert.ErrorIs(t, err, ErrSearchFilterCapacity)
}

func TestSpillStoreRoundTrip(t *testing.T) {
	p := New("enwiki")
	p.SetSpillThreshold(4)
	for i := 0; i < 20; i++ {
		p.Add(&PageEntry{Title: NewTitle(0, string(rune('A'+i))), Bytes: int64(i), HasBytes: true})
	}
	require.Equal(t, 20, p.Len())
	for i := 0; i < 20; i++ {
		e, ok := p.Get(NewTitle(0, string(rune('A'+i))))
		require.True(t, ok)
		assert.EqualValues(t, i, e.Bytes)
	}
}
