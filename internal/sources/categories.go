// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wikitools/petscango/internal/broker"
	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
)

// DefaultCategoryDepth bounds recursive subcategory expansion when the
// caller doesn't specify one.
const DefaultCategoryDepth = 3

// NamespaceCategory is the MediaWiki category namespace id.
const NamespaceCategory = 14

// Categories traverses categorylinks recursively, up to a configured depth
// per seed category on a single wiki. The categories list is matched as
// any-of: a page in any listed category (or its subcategories) qualifies;
// there is no separate all-of list. Members of any negcats category are
// removed.
type Categories struct{}

func (Categories) Name() string { return "categories" }

func (Categories) CanRun(p *params.Bag) bool {
	return p.Has("categories") || p.Has("negcats")
}

func (c Categories) Run(ctx context.Context, p *params.Bag, env *Env) (*pageset.PageSet, error) {
	wiki := p.Get("source_wiki", p.Get("language", "enwiki"))
	depth := DefaultCategoryDepth
	if d, err := strconv.Atoi(p.Get("depth", "")); err == nil && d >= 0 {
		depth = d
	}

	positive := p.GetList("categories", "\n")
	negative := p.GetList("negcats", "\n")

	result := pageset.New(wiki)
	if len(positive) == 0 {
		return result, nil
	}

	conn, err := env.Broker.Replica(ctx, wiki)
	if err != nil {
		return nil, fmt.Errorf("sources: categories: %w", err)
	}
	defer conn.Close()

	excluded := make(map[pageset.Title]bool)
	for _, n := range negative {
		members, err := membersOf(ctx, conn, n, depth)
		if err != nil {
			return nil, err
		}
		for t := range members {
			excluded[t] = true
		}
	}

	pool := make(map[pageset.Title]bool)
	for _, cat := range positive {
		members, err := membersOf(ctx, conn, cat, depth)
		if err != nil {
			return nil, err
		}
		// "any-of": union every seed category's members into one pool.
		for t := range members {
			pool[t] = true
		}
	}

	for t := range pool {
		if excluded[t] {
			continue
		}
		result.Add(&pageset.PageEntry{Title: t})
	}
	return result, nil
}

// membersOf returns every page transitively categorized under category,
// descending into subcategories up to depth additional levels.
func membersOf(ctx context.Context, conn broker.Conn, category string, depth int) (map[pageset.Title]bool, error) {
	category = pageset.NewTitle(NamespaceCategory, category).DBKey
	members := make(map[pageset.Title]bool)
	visited := map[string]bool{category: true}
	frontier := []string{category}

	for level := 0; level <= depth && len(frontier) > 0; level++ {
		rows, err := conn.QueryContext(ctx,
			"SELECT page_namespace, page_title FROM categorylinks JOIN page ON page_id = cl_from "+
				"WHERE cl_to IN ("+placeholders(len(frontier))+")", toArgs(frontier)...)
		if err != nil {
			return nil, fmt.Errorf("sources: categories: querying %v: %w", frontier, err)
		}

		var next []string
		for rows.Next() {
			var ns int
			var dbkey string
			if err := rows.Scan(&ns, &dbkey); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sources: categories: scanning row: %w", err)
			}
			t := pageset.Title{NamespaceID: ns, DBKey: dbkey}
			members[t] = true
			if ns == NamespaceCategory && !visited[dbkey] {
				visited[dbkey] = true
				next = append(next, dbkey)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		frontier = next
	}
	return members, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ",?"
	}
	return s
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
