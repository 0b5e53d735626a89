// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?,?,?", placeholders(3))
}

func TestChunkTitles(t *testing.T) {
	titles := make([]pageset.Title, 5)
	for i := range titles {
		titles[i] = pageset.NewTitle(0, string(rune('A'+i)))
	}
	chunks := chunkTitles(titles, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 2)
	assert.Len(t, chunks[2], 1)
}

func TestChunkTitlesEmpty(t *testing.T) {
	assert.Nil(t, chunkTitles(nil, 500))
}

func TestHasWikidataPropertyFilters(t *testing.T) {
	assert.False(t, hasWikidataPropertyFilters(params.FromValues(nil)))
	assert.True(t, hasWikidataPropertyFilters(params.FromValues(url.Values{"min_statements": {"1"}})))
	assert.True(t, hasWikidataPropertyFilters(params.FromValues(url.Values{"wpiu_no_sitelinks": {"1"}})))
}

func TestIntRange(t *testing.T) {
	_, _, ok := intRange(params.FromValues(nil), "min_statements", "max_statements")
	assert.False(t, ok)

	min, max, ok := intRange(params.FromValues(url.Values{"min_statements": {"5"}}), "min_statements", "max_statements")
	require.True(t, ok)
	assert.Equal(t, 5, min)
	assert.Equal(t, 1<<30, max)

	min, max, ok = intRange(params.FromValues(url.Values{"min_statements": {"5"}, "max_statements": {"10"}}), "min_statements", "max_statements")
	require.True(t, ok)
	assert.Equal(t, 5, min)
	assert.Equal(t, 10, max)
}

func TestCategoryDepthDefaultAndOverride(t *testing.T) {
	assert.Equal(t, 3, categoryDepth(params.FromValues(nil)))
	assert.Equal(t, 0, categoryDepth(params.FromValues(url.Values{"depth": {"0"}})))
	assert.Equal(t, 5, categoryDepth(params.FromValues(url.Values{"depth": {"5"}})))
	assert.Equal(t, 3, categoryDepth(params.FromValues(url.Values{"depth": {"not a number"}})))
}

func TestIsSchemaMismatch(t *testing.T) {
	assert.True(t, isSchemaMismatch(errors.New("Error 1146: Table 'wiki.linktarget' doesn't exist")))
	assert.True(t, isSchemaMismatch(errors.New("Unknown column 'lt_target_id' in 'field list'")))
	assert.False(t, isSchemaMismatch(errors.New("connection refused")))
}

func TestPostprocessShortCircuitsOnEmptyResult(t *testing.T) {
	d := &Driver{}
	empty := pageset.New("enwiki")
	p := params.FromValues(url.Values{"show_redlinks": {"1"}, "add_coordinates": {"1"}})

	got, err := d.postprocess(context.Background(), p, empty)
	require.NoError(t, err)
	assert.Same(t, empty, got)
}

func TestConvertToOutputWikiAutoIsNoop(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.convertToOutputWiki(context.Background(), params.FromValues(nil), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestConvertToOutputWikiOtherWithoutTargetIsNoop(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	got, err := d.convertToOutputWiki(context.Background(), params.FromValues(url.Values{"common_wiki": {"other"}}), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestConvertToOutputWikiUnknownModeErrors(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	_, err := d.convertToOutputWiki(context.Background(), params.FromValues(url.Values{"common_wiki": {"bogus"}}), result)
	assert.Error(t, err)
}

func TestFilterMissingCategoriesNoopWhenNoListsGiven(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.filterMissingCategories(context.Background(), params.FromValues(nil), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestFilterMissingCategoriesNoopWhenCategoriesSourceRan(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	p := params.FromValues(url.Values{"categories": {"Foo"}})

	got, err := d.filterMissingCategories(context.Background(), p, result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestAnnotateWikidataItemNoModeIsNoop(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.annotateWikidataItem(context.Background(), params.FromValues(nil), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestAnnotateWikidataItemOnWikidataSkipsLookup(t *testing.T) {
	d := &Driver{}
	result := pageset.New("wikidatawiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(pageset.NamespaceItem, "Q1")})
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(pageset.NamespaceItem, "Q2")})

	got, err := d.annotateWikidataItem(context.Background(), params.FromValues(url.Values{"wikidata_item": {"with"}}), result)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
}

func TestAnnotateWikidataItemAnyModeDoesNotFilter(t *testing.T) {
	d := &Driver{}
	result := pageset.New("wikidatawiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(pageset.NamespaceItem, "Q1")})

	got, err := d.annotateWikidataItem(context.Background(), params.FromValues(url.Values{"wikidata_item": {"any"}}), result)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestHydrateFileUsageNoopWithoutFlag(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(fileNamespace, "Foo.jpg")})

	got, err := d.hydrateFileUsage(context.Background(), params.FromValues(nil), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestHydrateFileUsageNoopWithoutFileEntries(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.hydrateFileUsage(context.Background(), params.FromValues(url.Values{"file_usage_data": {"1"}}), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestHydrateFileMetadataNoopWithoutFlag(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(fileNamespace, "Foo.jpg")})

	got, err := d.hydrateFileMetadata(context.Background(), params.FromValues(nil), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestConvertNamespaceKeepIsNoop(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.convertNamespace(context.Background(), params.FromValues(nil), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestConvertNamespaceTalkMapsEvenToOdd(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.convertNamespace(context.Background(), params.FromValues(url.Values{"namespace_conversion": {"talk"}}), result)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	got.Each(func(e *pageset.PageEntry) {
		assert.Equal(t, 1, e.Title.NamespaceID)
	})
}

func TestConvertNamespaceTopicLeavesSubjectNamespaceAlone(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.convertNamespace(context.Background(), params.FromValues(url.Values{"namespace_conversion": {"topic"}}), result)
	require.NoError(t, err)
	got.Each(func(e *pageset.PageEntry) {
		assert.Equal(t, 0, e.Title.NamespaceID)
	})
}

func TestConvertNamespaceTopicMapsOddToEven(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(1, "Foo")})

	got, err := d.convertNamespace(context.Background(), params.FromValues(url.Values{"namespace_conversion": {"topic"}}), result)
	require.NoError(t, err)
	got.Each(func(e *pageset.PageEntry) {
		assert.Equal(t, 0, e.Title.NamespaceID)
	})
}

func TestConvertNamespaceTalkTogglesOddToEven(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(1, "Foo")})

	got, err := d.convertNamespace(context.Background(), params.FromValues(url.Values{"namespace_conversion": {"talk"}}), result)
	require.NoError(t, err)
	got.Each(func(e *pageset.PageEntry) {
		assert.Equal(t, 0, e.Title.NamespaceID)
	})
}

func TestConvertNamespaceTalkIsInvolutiveForEvenNamespaces(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	once, err := d.convertNamespace(context.Background(), params.FromValues(url.Values{"namespace_conversion": {"talk"}}), result)
	require.NoError(t, err)
	twice, err := d.convertNamespace(context.Background(), params.FromValues(url.Values{"namespace_conversion": {"talk"}}), once)
	require.NoError(t, err)
	twice.Each(func(e *pageset.PageEntry) {
		assert.Equal(t, 0, e.Title.NamespaceID)
	})
}

func TestHandleSubpagesNoopWithEitherFilterAndNoAdd(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.handleSubpages(context.Background(), params.FromValues(nil), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestHandleSubpagesFiltersWithoutQueryingWhenAddNotSet(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo/bar")})

	got, err := d.handleSubpages(context.Background(), params.FromValues(url.Values{"subpage_filter": {"subpages"}}), result)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	got.Each(func(e *pageset.PageEntry) {
		assert.Equal(t, "Foo/bar", e.Title.DBKey)
	})
}

func TestHandleSubpagesNoQueryOnWikidata(t *testing.T) {
	d := &Driver{}
	result := pageset.New("wikidatawiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(pageset.NamespaceItem, "Q1")})

	got, err := d.handleSubpages(context.Background(), params.FromValues(url.Values{"add_subpages": {"1"}}), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestFilterRegexAndSearchRegexFilter(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Apple")})
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Banana")})

	got, err := d.filterRegexAndSearch(context.Background(), params.FromValues(url.Values{"rxp_filter": {"^Ap"}}), result)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestFilterRegexAndSearchInvalidRegexErrors(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	_, err := d.filterRegexAndSearch(context.Background(), params.FromValues(url.Values{"rxp_filter": {"("}}), result)
	assert.Error(t, err)
}

func TestFilterRegexAndSearchSearchFilter(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Golden Gate Bridge")})
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Eiffel Tower")})

	got, err := d.filterRegexAndSearch(context.Background(), params.FromValues(url.Values{"search_filter": {"gate"}}), result)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestResolveRedlinksNoopWithoutFlag(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.resolveRedlinks(context.Background(), params.FromValues(nil), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestResolveRedlinksNoopOnWikidata(t *testing.T) {
	d := &Driver{}
	result := pageset.New("wikidatawiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(pageset.NamespaceItem, "Q1")})

	got, err := d.resolveRedlinks(context.Background(), params.FromValues(url.Values{"show_redlinks": {"1"}}), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestPrecomputeCreatorCacheNoopWhenNotNeeded(t *testing.T) {
	d := &Driver{}
	result := pageset.New("enwiki")
	result.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.precomputeCreatorCache(context.Background(), params.FromValues(nil), result)
	require.NoError(t, err)
	assert.Same(t, result, got)
}
