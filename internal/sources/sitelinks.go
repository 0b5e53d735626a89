// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
)

// Sitelinks selects main-namespace pages from a seed wiki restricted by
// the presence or absence of a langlinks row for each requested language
// bucket, with an optional sitelink-count HAVING clause.
type Sitelinks struct{}

func (Sitelinks) Name() string { return "sitelinks" }

func (Sitelinks) CanRun(p *params.Bag) bool {
	return p.Has("sitelinks_yes") || p.Has("sitelinks_any") || p.Has("sitelinks_no")
}

func (s Sitelinks) Run(ctx context.Context, p *params.Bag, env *Env) (*pageset.PageSet, error) {
	wiki := p.Get("language", "enwiki")
	yes := normalizeLangs(p.GetList("sitelinks_yes", ","))
	anyOf := normalizeLangs(p.GetList("sitelinks_any", ","))
	no := normalizeLangs(p.GetList("sitelinks_no", ","))

	result := pageset.New(wiki)
	conn, err := env.Broker.Replica(ctx, wiki)
	if err != nil {
		return nil, fmt.Errorf("sources: sitelinks: %w", err)
	}
	defer conn.Close()

	var clauses []string
	var args []any
	for _, lang := range yes {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM langlinks WHERE ll_from = page_id AND ll_lang = ?)")
		args = append(args, lang)
	}
	for _, lang := range no {
		clauses = append(clauses, "NOT EXISTS (SELECT 1 FROM langlinks WHERE ll_from = page_id AND ll_lang = ?)")
		args = append(args, lang)
	}
	if len(anyOf) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(anyOf)), ",")
		clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM langlinks WHERE ll_from = page_id AND ll_lang IN (%s))", placeholders))
		for _, lang := range anyOf {
			args = append(args, lang)
		}
	}
	if len(clauses) == 0 {
		return result, nil
	}

	query := "SELECT page_namespace, page_title FROM page WHERE page_namespace = 0 AND " + strings.Join(clauses, " AND ")

	if min := p.Get("min_sitelink_count", ""); min != "" {
		if max := p.Get("max_sitelink_count", ""); max != "" {
			query += fmt.Sprintf(" HAVING (SELECT COUNT(*) FROM langlinks WHERE ll_from = page_id) BETWEEN %s AND %s",
				sanitizeInt(min), sanitizeInt(max))
		}
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sources: sitelinks: querying: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ns int
		var dbkey string
		if err := rows.Scan(&ns, &dbkey); err != nil {
			return nil, fmt.Errorf("sources: sitelinks: scanning row: %w", err)
		}
		result.Add(&pageset.PageEntry{Title: pageset.Title{NamespaceID: ns, DBKey: dbkey}})
	}
	return result, rows.Err()
}

// sanitizeInt guards the one spot this source interpolates a value
// straight into SQL text (a HAVING bound MySQL won't accept as a bound
// parameter in this position on older driver versions); it only ever
// emits a parsed integer literal, never the raw user string.
func sanitizeInt(s string) string {
	n, err := strconv.Atoi(s)
	if err != nil {
		return "0"
	}
	return strconv.Itoa(n)
}
