// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/wikitools/petscango/internal/pageset"
	"github.com/wikitools/petscango/internal/sources"
)

// convertChunkSize is the phase-1 (wiki -> wikidata) pivot chunk size,
// matching internal/sqlbatch's default.
const convertChunkSize = 500

// ConvertSet converts src, scoped to one wiki, into a new Page Set scoped
// to targetWiki, pivoting through Wikidata sitelinks when neither wiki is
// Wikidata. A set already on targetWiki is returned unchanged.
func (d *Driver) ConvertSet(ctx context.Context, src *pageset.PageSet, targetWiki string) (*pageset.PageSet, error) {
	if src.Wiki() == targetWiki {
		return src, nil
	}
	if src.Wiki() == "wikidatawiki" {
		return d.convertFromWikidata(ctx, src, targetWiki)
	}
	if targetWiki == "wikidatawiki" {
		return d.convertToWikidata(ctx, src)
	}
	viaWikidata, err := d.convertToWikidata(ctx, src)
	if err != nil {
		return nil, err
	}
	return d.convertFromWikidata(ctx, viaWikidata, targetWiki)
}

// convertToWikidata is phase 1: look up each src entry's Wikidata item via
// wb_items_per_site, chunked by pretty title.
func (d *Driver) convertToWikidata(ctx context.Context, src *pageset.PageSet) (*pageset.PageSet, error) {
	result := pageset.New("wikidatawiki")
	titles := src.Titles()
	if len(titles) == 0 {
		return result, nil
	}

	conn, err := d.Broker.Termstore(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: convert: %w", err)
	}
	defer conn.Close()

	for i := 0; i < len(titles); i += convertChunkSize {
		end := i + convertChunkSize
		if end > len(titles) {
			end = len(titles)
		}
		chunk := titles[i:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := "SELECT ips_item_id FROM wb_items_per_site WHERE ips_site_id = ? AND ips_site_page IN (" + placeholders + ")"
		args := make([]any, 0, len(chunk)+1)
		args = append(args, src.Wiki())
		for _, t := range chunk {
			args = append(args, t.Pretty())
		}

		if err := func() error {
			rows, err := conn.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("pipeline: convert: querying: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var itemID int64
				if err := rows.Scan(&itemID); err != nil {
					return fmt.Errorf("pipeline: convert: scanning row: %w", err)
				}
				result.Add(&pageset.PageEntry{Title: pageset.NewTitle(pageset.NamespaceItem, fmt.Sprintf("Q%d", itemID))})
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// convertFromWikidata is phase 2: map each Wikidata item in src back to
// its sitelink on targetWiki, doubling the chunk size since the second
// phase only ever binds a single integer column, so a larger IN-list
// stays well under MySQL's packet limit. A sitelink's ips_site_page is a
// pretty title with no namespace information of its own (sitelinks land
// on category pages, talk pages, etc., not only ns 0), so each one is
// parsed through targetWiki's API to recover its real (ns, dbkey).
func (d *Driver) convertFromWikidata(ctx context.Context, src *pageset.PageSet, targetWiki string) (*pageset.PageSet, error) {
	result := pageset.New(targetWiki)
	titles := src.Titles()
	if len(titles) == 0 {
		return result, nil
	}

	itemIDs := make([]int64, 0, len(titles))
	for _, t := range titles {
		if id, ok := parseItemID(t.DBKey); ok {
			itemIDs = append(itemIDs, id)
		}
	}
	if len(itemIDs) == 0 {
		return result, nil
	}

	conn, err := d.Broker.Termstore(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: convert: %w", err)
	}
	defer conn.Close()

	var sitelinkPages []string
	chunkSize := convertChunkSize * 2
	for i := 0; i < len(itemIDs); i += chunkSize {
		end := i + chunkSize
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		chunk := itemIDs[i:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := "SELECT ips_site_page FROM wb_items_per_site WHERE ips_site_id = ? AND ips_item_id IN (" + placeholders + ")"
		args := make([]any, 0, len(chunk)+1)
		args = append(args, targetWiki)
		for _, id := range chunk {
			args = append(args, id)
		}

		if err := func() error {
			rows, err := conn.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("pipeline: convert: querying: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var pretty string
				if err := rows.Scan(&pretty); err != nil {
					return fmt.Errorf("pipeline: convert: scanning row: %w", err)
				}
				sitelinkPages = append(sitelinkPages, pretty)
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	if len(sitelinkPages) == 0 {
		return result, nil
	}

	apiHost := sources.DBNameToHost(targetWiki, targetWiki)
	resolved, err := d.API.ResolveTitles(ctx, apiHost, sitelinkPages)
	if err != nil {
		return nil, fmt.Errorf("pipeline: convert: resolving sitelink titles: %w", err)
	}
	for _, pretty := range sitelinkPages {
		info, ok := resolved[pretty]
		if !ok || info.Missing {
			continue
		}
		result.Add(&pageset.PageEntry{Title: pageset.NewTitle(info.Namespace, info.Title)})
	}
	return result, nil
}

// parseItemID extracts the numeric id from an entity dbkey like "Q42".
func parseItemID(dbkey string) (int64, bool) {
	if len(dbkey) < 2 || (dbkey[0] != 'Q' && dbkey[0] != 'P') {
		return 0, false
	}
	n, err := strconv.ParseInt(dbkey[1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
