// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
)

// searchBatchSize is the MediaWiki search API's per-request result cap
// (server-side capped at 500 per batch).
const searchBatchSize = 500

// DefaultMaxResults bounds the total results Search aggregates when the
// caller doesn't specify max_results.
const DefaultMaxResults = 1000

// Search wraps action=query&list=search with a user-supplied namespace
// filter, aggregating up to max_results.
type Search struct{}

func (Search) Name() string { return "search" }

func (Search) CanRun(p *params.Bag) bool { return p.Has("search_query") }

func (s Search) Run(ctx context.Context, p *params.Bag, env *Env) (*pageset.PageSet, error) {
	query := p.Get("search_query", "")
	wiki := p.Get("search_wiki", p.Get("language", "enwiki"))
	host := p.Get("search_host", wiki+".wikipedia.org")

	maxResults := DefaultMaxResults
	if n, err := strconv.Atoi(p.Get("max_results", "")); err == nil && n > 0 {
		maxResults = n
	}

	result := pageset.New(wiki)
	if query == "" {
		return result, nil
	}

	namespaces := p.Namespaces()
	namespace := 0
	for ns := range namespaces {
		namespace = ns
		break
	}

	collected := 0
	for collected < maxResults {
		limit := searchBatchSize
		if remaining := maxResults - collected; remaining < limit {
			limit = remaining
		}
		hits, err := env.API.Search(ctx, host, query, namespace, limit, collected)
		if err != nil {
			return nil, fmt.Errorf("sources: search: %w", err)
		}
		for _, h := range hits {
			result.Add(&pageset.PageEntry{Title: pageset.NewTitle(h.Namespace, h.Title)})
		}
		collected += len(hits)
		if len(hits) < limit {
			break
		}
	}
	return result, nil
}
