// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
)

// Wikidata returns items with sitelinks in a comma-separated set of wikis,
// with an optional "no statements" filter.
type Wikidata struct{}

func (Wikidata) Name() string { return "wikidata" }

func (Wikidata) CanRun(p *params.Bag) bool { return p.Has("wikidata_source_sites") }

func (w Wikidata) Run(ctx context.Context, p *params.Bag, env *Env) (*pageset.PageSet, error) {
	sites := p.GetList("wikidata_source_sites", ",")
	result := pageset.New("wikidatawiki")
	if len(sites) == 0 {
		return result, nil
	}

	conn, err := env.Broker.Termstore(ctx)
	if err != nil {
		return nil, fmt.Errorf("sources: wikidata: %w", err)
	}
	defer conn.Close()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sites)), ",")
	query := "SELECT DISTINCT ips_item_id FROM wb_items_per_site WHERE ips_site_id IN (" + placeholders + ")"
	args := make([]any, len(sites))
	for i, s := range sites {
		args[i] = s
	}

	// "no statements" checks for the absence of a pp_propname='wb-claims'
	// row on the item's page.
	if p.GetBool("wpiu_no_statements") {
		query = `SELECT DISTINCT i.ips_item_id FROM wb_items_per_site i
			JOIN page ON page_title = CONCAT('Q', i.ips_item_id) AND page_namespace = 0
			WHERE i.ips_site_id IN (` + placeholders + `)
			AND NOT EXISTS (SELECT 1 FROM page_props WHERE pp_page = page_id AND pp_propname = 'wb-claims')`
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sources: wikidata: querying: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var itemID int64
		if err := rows.Scan(&itemID); err != nil {
			return nil, fmt.Errorf("sources: wikidata: scanning row: %w", err)
		}
		result.Add(&pageset.PageEntry{Title: pageset.NewTitle(pageset.NamespaceItem, fmt.Sprintf("Q%d", itemID))})
	}
	return result, rows.Err()
}
