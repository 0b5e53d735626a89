// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wikitools/petscango/internal/broker"
	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
	"github.com/wikitools/petscango/internal/sources"
)

// postChunkSize bounds every IN (...) list the post-processor builds by
// hand (outside internal/sqlbatch, whose Batcher is shaped around
// page_namespace/page_title and doesn't fit these auxiliary tables).
const postChunkSize = 500

// step is one post-processor cascade stage. It may replace
// the result set outright.
type step func(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error)

// postprocess runs the ordered cascade, short-circuiting as soon as the
// result goes empty (run only if the cumulative result is
// non-empty at each step").
func (d *Driver) postprocess(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	steps := []step{
		d.filterWikidataPropItemUse, // 1
		d.filterSitelinks,           // 2
		d.filterLabels,              // 3
		d.convertToOutputWiki,       // 4
		d.filterMissingCategories,   // 5
		d.annotateWikidataItem,      // 6
		d.hydrateFileUsage,          // 7
		d.hydrateFileMetadata,       // 8
		d.hydratePageMetadata,       // 9
		d.convertNamespace,          // 10
		d.handleSubpages,            // 11
		d.annotateWikidataItem,      // 12: re-annotation after subpages
		d.loadMissingMetadata,       // 13
		d.filterRegexAndSearch,      // 14
		d.resolveRedlinks,           // 15
		d.precomputeCreatorCache,    // 16
	}
	for _, s := range steps {
		if result.IsEmpty() {
			break
		}
		next, err := s(ctx, p, result)
		if err != nil {
			return nil, err
		}
		result = next
	}
	return result, nil
}

func placeholders(n int) string { return strings.TrimSuffix(strings.Repeat("?,", n), ",") }

func chunkTitles(titles []pageset.Title, size int) [][]pageset.Title {
	var out [][]pageset.Title
	for i := 0; i < len(titles); i += size {
		end := i + size
		if end > len(titles) {
			end = len(titles)
		}
		out = append(out, titles[i:end])
	}
	return out
}

// 1. Wikidata property/statement/identifier filter.
//
// Statement and identifier counts are cached by Wikibase itself in
// page_props (pp_propname='wb-claims'/'wb-identifiers', pp_value holding
// the count as a string), so both bounds are EXISTS predicates against
// that table rather than a pagelinks count.
func (d *Driver) filterWikidataPropItemUse(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	if !hasWikidataPropertyFilters(p) {
		return result, nil
	}
	origWiki := result.Wiki()
	wd, err := d.ConvertSet(ctx, result, "wikidatawiki")
	if err != nil {
		return nil, err
	}

	conn, err := d.Broker.Termstore(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: wikidata property filter: %w", err)
	}
	defer conn.Close()

	titles := wd.Titles()
	pass := make(map[pageset.Title]bool, len(titles))
	for _, t := range titles {
		pass[t] = true
	}

	apply := func(clauseFmt string, extraArgs []any) error {
		for _, chunk := range chunkTitles(titles, postChunkSize) {
			query := fmt.Sprintf(`SELECT page_title FROM page WHERE page_namespace = 0 AND page_title IN (%s) AND %s`,
				placeholders(len(chunk)), clauseFmt)
			args := make([]any, 0, len(chunk)+len(extraArgs))
			for _, t := range chunk {
				args = append(args, t.DBKey)
			}
			args = append(args, extraArgs...)

			alive := make(map[pageset.Title]bool, len(chunk))
			if err := func() error {
				rows, err := conn.QueryContext(ctx, query, args...)
				if err != nil {
					return fmt.Errorf("pipeline: wikidata property filter: querying: %w", err)
				}
				defer rows.Close()
				for rows.Next() {
					var dbkey string
					if err := rows.Scan(&dbkey); err != nil {
						return err
					}
					alive[pageset.NewTitle(pageset.NamespaceItem, dbkey)] = true
				}
				return rows.Err()
			}(); err != nil {
				return err
			}
			for _, t := range chunk {
				if !alive[t] {
					delete(pass, t)
				}
			}
		}
		return nil
	}

	if min, max, ok := intRange(p, "min_statements", "max_statements"); ok {
		if err := apply("EXISTS (SELECT 1 FROM page_props WHERE pp_page = page_id AND pp_propname = 'wb-claims' AND CAST(pp_value AS UNSIGNED) BETWEEN ? AND ?)", []any{min, max}); err != nil {
			return nil, err
		}
	}
	if min, max, ok := intRange(p, "min_identifiers", "max_identifiers"); ok {
		if err := apply("EXISTS (SELECT 1 FROM page_props WHERE pp_page = page_id AND pp_propname = 'wb-identifiers' AND CAST(pp_value AS UNSIGNED) BETWEEN ? AND ?)", []any{min, max}); err != nil {
			return nil, err
		}
	}
	if p.GetBool("wpiu_no_statements") {
		if err := apply("NOT EXISTS (SELECT 1 FROM page_props WHERE pp_page = page_id AND pp_propname = 'wb-claims')", nil); err != nil {
			return nil, err
		}
	}
	if p.GetBool("wpiu_no_sitelinks") {
		if err := apply("NOT EXISTS (SELECT 1 FROM wb_items_per_site WHERE ips_item_id = CAST(SUBSTRING(page_title, 2) AS UNSIGNED))", nil); err != nil {
			return nil, err
		}
	}
	if list := p.GetList("wikidata_prop_item_use", ","); len(list) > 0 {
		mode := p.Get("wpiu", "any")
		idPlaceholders := placeholders(len(list))
		existsClause := fmt.Sprintf(`EXISTS (SELECT 1 FROM pagelinks WHERE pl_from = page_id AND pl_title IN (%s))`, idPlaceholders)
		ids := make([]any, len(list))
		for i, v := range list {
			ids[i] = v
		}
		switch mode {
		case "all":
			for _, id := range list {
				if err := apply(`EXISTS (SELECT 1 FROM pagelinks WHERE pl_from = page_id AND pl_title = ?)`, []any{id}); err != nil {
					return nil, err
				}
			}
		case "none":
			if err := apply("NOT "+existsClause, ids); err != nil {
				return nil, err
			}
		default: // any
			if err := apply(existsClause, ids); err != nil {
				return nil, err
			}
		}
	}

	wd.Retain(func(e *pageset.PageEntry) bool { return pass[e.Title] })

	if origWiki == "wikidatawiki" {
		return wd, nil
	}
	return d.ConvertSet(ctx, wd, origWiki)
}

func hasWikidataPropertyFilters(p *params.Bag) bool {
	for _, key := range []string{"min_statements", "max_statements", "min_identifiers", "max_identifiers", "wpiu_no_statements", "wpiu_no_sitelinks", "wikidata_prop_item_use"} {
		if p.Has(key) {
			return true
		}
	}
	return false
}

func intRange(p *params.Bag, minKey, maxKey string) (min, max int, ok bool) {
	minStr, maxStr := p.Get(minKey, ""), p.Get(maxKey, "")
	if minStr == "" && maxStr == "" {
		return 0, 0, false
	}
	min, _ = strconv.Atoi(minStr)
	if maxStr == "" {
		max = 1 << 30
	} else {
		max, _ = strconv.Atoi(maxStr)
	}
	return min, max, true
}

// 2. Sitelinks filter: same pivot-to-Wikidata pattern as step 1, checking
// wb_items_per_site directly for the presence of a sitelink on each named
// wiki rather than langlinks (which only exists on the original wiki, not
// on wikidatawiki).
func (d *Driver) filterSitelinks(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	yes := p.GetList("sitelinks_yes", ",")
	anyOf := p.GetList("sitelinks_any", ",")
	no := p.GetList("sitelinks_no", ",")
	if len(yes) == 0 && len(anyOf) == 0 && len(no) == 0 {
		return result, nil
	}

	origWiki := result.Wiki()
	wd, err := d.ConvertSet(ctx, result, "wikidatawiki")
	if err != nil {
		return nil, err
	}
	conn, err := d.Broker.Termstore(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: sitelinks filter: %w", err)
	}
	defer conn.Close()

	titles := wd.Titles()
	pass := make(map[pageset.Title]bool, len(titles))
	for _, t := range titles {
		pass[t] = true
	}

	checkSites := func(sites []string, negate bool) error {
		sitePlaceholders := placeholders(len(sites))
		for _, chunk := range chunkTitles(titles, postChunkSize) {
			query := fmt.Sprintf(`SELECT CONCAT('Q', ips_item_id) FROM wb_items_per_site
				WHERE ips_site_id IN (%s) AND CONCAT('Q', ips_item_id) IN (%s)`, sitePlaceholders, placeholders(len(chunk)))
			args := make([]any, 0, len(sites)+len(chunk))
			for _, s := range sites {
				args = append(args, s)
			}
			for _, t := range chunk {
				args = append(args, t.DBKey)
			}
			hit := make(map[pageset.Title]bool, len(chunk))
			if err := func() error {
				rows, err := conn.QueryContext(ctx, query, args...)
				if err != nil {
					return fmt.Errorf("pipeline: sitelinks filter: querying: %w", err)
				}
				defer rows.Close()
				for rows.Next() {
					var qid string
					if err := rows.Scan(&qid); err != nil {
						return err
					}
					hit[pageset.NewTitle(pageset.NamespaceItem, qid)] = true
				}
				return rows.Err()
			}(); err != nil {
				return err
			}
			for _, t := range chunk {
				present := hit[t]
				if negate {
					present = !present
				}
				if !present {
					delete(pass, t)
				}
			}
		}
		return nil
	}

	for _, site := range yes {
		if err := checkSites([]string{site}, false); err != nil {
			return nil, err
		}
	}
	for _, site := range no {
		if err := checkSites([]string{site}, true); err != nil {
			return nil, err
		}
	}
	if len(anyOf) > 0 {
		if err := checkSites(anyOf, false); err != nil {
			return nil, err
		}
	}

	wd.Retain(func(e *pageset.PageEntry) bool { return pass[e.Title] })
	if origWiki == "wikidatawiki" {
		return wd, nil
	}
	return d.ConvertSet(ctx, wd, origWiki)
}

// 3. Labels filter: same pattern, scoped to item (ns 0) and property
// (ns 120) entity kinds, reusing the term-store join shape from
// internal/sources.Labels.
func (d *Driver) filterLabels(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	yes := p.GetList("labels_yes", ",")
	anyOf := p.GetList("labels_any", ",")
	no := p.GetList("labels_no", ",")
	if len(yes) == 0 && len(anyOf) == 0 && len(no) == 0 {
		return result, nil
	}

	origWiki := result.Wiki()
	wd, err := d.ConvertSet(ctx, result, "wikidatawiki")
	if err != nil {
		return nil, err
	}
	conn, err := d.Broker.Termstore(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: labels filter: %w", err)
	}
	defer conn.Close()

	titles := wd.Titles()
	pass := make(map[pageset.Title]bool, len(titles))
	for _, t := range titles {
		pass[t] = true
	}

	checkLangs := func(langs []string, negate bool) error {
		langPlaceholders := placeholders(len(langs))
		for _, chunk := range chunkTitles(titles, postChunkSize) {
			// Both entity kinds can appear in the same chunk (ns 0 items,
			// ns 120 properties); UNION the two joins rather than
			// requiring the caller to pre-split by namespace.
			query := fmt.Sprintf(`
				SELECT CONCAT('Q', wbit_item_id) FROM wbt_item_terms
				JOIN wbt_term_in_lang ON wbtl_id = wbit_term_in_lang_id
				JOIN wbt_text_in_lang ON wbxl_id = wbtl_text_in_lang_id
				WHERE wbxl_language IN (%[1]s) AND CONCAT('Q', wbit_item_id) IN (%[2]s)
				UNION
				SELECT CONCAT('P', wbpt_property_id) FROM wbt_property_terms
				JOIN wbt_term_in_lang ON wbtl_id = wbpt_term_in_lang_id
				JOIN wbt_text_in_lang ON wbxl_id = wbtl_text_in_lang_id
				WHERE wbxl_language IN (%[1]s) AND CONCAT('P', wbpt_property_id) IN (%[2]s)`,
				langPlaceholders, placeholders(len(chunk)))

			args := make([]any, 0, 2*(len(langs)+len(chunk)))
			for _, l := range langs {
				args = append(args, l)
			}
			for _, t := range chunk {
				args = append(args, t.DBKey)
			}
			for _, l := range langs {
				args = append(args, l)
			}
			for _, t := range chunk {
				args = append(args, t.DBKey)
			}

			hit := make(map[pageset.Title]bool, len(chunk))
			if err := func() error {
				rows, err := conn.QueryContext(ctx, query, args...)
				if err != nil {
					return fmt.Errorf("pipeline: labels filter: querying: %w", err)
				}
				defer rows.Close()
				for rows.Next() {
					var id string
					if err := rows.Scan(&id); err != nil {
						return err
					}
					ns := pageset.NamespaceItem
					if strings.HasPrefix(id, "P") {
						ns = pageset.NamespaceProperty
					}
					hit[pageset.NewTitle(ns, id)] = true
				}
				return rows.Err()
			}(); err != nil {
				return err
			}
			for _, t := range chunk {
				present := hit[t]
				if negate {
					present = !present
				}
				if !present {
					delete(pass, t)
				}
			}
		}
		return nil
	}

	for _, lang := range yes {
		if err := checkLangs([]string{lang}, false); err != nil {
			return nil, err
		}
	}
	for _, lang := range no {
		if err := checkLangs([]string{lang}, true); err != nil {
			return nil, err
		}
	}
	if len(anyOf) > 0 {
		if err := checkLangs(anyOf, false); err != nil {
			return nil, err
		}
	}

	wd.Retain(func(e *pageset.PageEntry) bool { return pass[e.Title] })
	if origWiki == "wikidatawiki" {
		return wd, nil
	}
	return d.ConvertSet(ctx, wd, origWiki)
}

// 4. Output-wiki conversion: per common_wiki pick the target wiki
// "auto" is a no-op; everything else converts.
func (d *Driver) convertToOutputWiki(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	mode := p.Get("common_wiki", "auto")
	var target string
	switch mode {
	case "auto":
		return result, nil
	case "cats":
		target = p.Get("source_wiki", p.Get("language", "enwiki"))
	case "pagepile":
		target = p.Get("language", "enwiki")
	case "manual":
		target = p.Get("manual_list_wiki", p.Get("language", "enwiki"))
	case "wikidata":
		target = "wikidatawiki"
	case "other":
		target = p.Get("common_wiki_other", "")
	default:
		return nil, fmt.Errorf("pipeline: unknown common_wiki %q", mode)
	}
	if target == "" {
		return result, nil
	}
	return d.ConvertSet(ctx, result, target)
}

// 5. Missing category filters: if none of the run sources was categories,
// still apply category parameters by running a single category-style
// query against the current wiki, unioned/subtracted the same way
// internal/sources.Categories does for its own seeds.
func (d *Driver) filterMissingCategories(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	if (sources.Categories{}).CanRun(p) {
		return result, nil
	}
	positive := p.GetList("categories", "\n")
	negative := p.GetList("negcats", "\n")
	if len(positive) == 0 && len(negative) == 0 {
		return result, nil
	}

	wiki := result.Wiki()
	conn, err := d.Broker.Replica(ctx, wiki)
	if err != nil {
		return nil, fmt.Errorf("pipeline: missing category filter: %w", err)
	}
	defer conn.Close()

	depth := categoryDepth(p)
	var excluded map[pageset.Title]bool
	if len(negative) > 0 {
		excluded = make(map[pageset.Title]bool)
		for _, cat := range negative {
			members, err := categoryMembers(ctx, conn, cat, depth)
			if err != nil {
				return nil, err
			}
			for t := range members {
				excluded[t] = true
			}
		}
	}

	var allowed map[pageset.Title]bool
	if len(positive) > 0 {
		allowed = make(map[pageset.Title]bool)
		for _, cat := range positive {
			members, err := categoryMembers(ctx, conn, cat, depth)
			if err != nil {
				return nil, err
			}
			for t := range members {
				allowed[t] = true
			}
		}
	}

	result.Retain(func(e *pageset.PageEntry) bool {
		if excluded != nil && excluded[e.Title] {
			return false
		}
		if allowed != nil && !allowed[e.Title] {
			return false
		}
		return true
	})
	return result, nil
}

func categoryDepth(p *params.Bag) int {
	if d, err := strconv.Atoi(p.Get("depth", "")); err == nil && d >= 0 {
		return d
	}
	return 3
}

// categoryMembers BFS-walks categorylinks from category, descending into
// subcategories (ns 14) up to depth levels, mirroring
// internal/sources.Categories' own traversal for a step that runs when no
// categories source actually ran.
func categoryMembers(ctx context.Context, conn broker.Conn, category string, depth int) (map[pageset.Title]bool, error) {
	visited := map[string]bool{}
	members := map[pageset.Title]bool{}
	frontier := []string{category}

	for level := 0; level <= depth && len(frontier) > 0; level++ {
		var next []string
		for _, cat := range frontier {
			if visited[cat] {
				continue
			}
			visited[cat] = true

			rows, err := conn.QueryContext(ctx,
				`SELECT page_namespace, page_title FROM categorylinks JOIN page ON page_id = cl_from WHERE cl_to = ?`, cat)
			if err != nil {
				return nil, fmt.Errorf("pipeline: missing category filter: querying: %w", err)
			}
			for rows.Next() {
				var ns int
				var dbkey string
				if err := rows.Scan(&ns, &dbkey); err != nil {
					rows.Close()
					return nil, err
				}
				if ns == NamespaceCategory {
					next = append(next, dbkey)
				} else {
					members[pageset.NewTitle(ns, dbkey)] = true
				}
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return nil, err
			}
			rows.Close()
		}
		frontier = next
	}
	return members, nil
}

// NamespaceCategory is the MediaWiki category namespace id, matching
// internal/sources.Categories' own constant.
const NamespaceCategory = 14

// 6/12. Wikidata item annotation + filter: look up each entry's Q-id via
// wb_items_per_site, then retain per wikidata_item (the same join used by
// rerun as step 12 after sub-page handling may have added new entries).
func (d *Driver) annotateWikidataItem(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	mode := p.Get("wikidata_item", "no")
	if mode == "no" {
		return result, nil
	}

	wiki := result.Wiki()
	if wiki != "wikidatawiki" {
		conn, err := d.Broker.Termstore(ctx)
		if err != nil {
			return nil, fmt.Errorf("pipeline: wikidata annotation: %w", err)
		}
		defer conn.Close()

		titles := result.Titles()
		for _, chunk := range chunkTitles(titles, postChunkSize) {
			prettyList := make([]any, 0, len(chunk)+1)
			prettyList = append(prettyList, wiki)
			for _, t := range chunk {
				prettyList = append(prettyList, t.Pretty())
			}
			query := "SELECT ips_site_page, ips_item_id FROM wb_items_per_site WHERE ips_site_id = ? AND ips_site_page IN (" + placeholders(len(chunk)) + ")"
			if err := func() error {
				rows, err := conn.QueryContext(ctx, query, prettyList...)
				if err != nil {
					return fmt.Errorf("pipeline: wikidata annotation: querying: %w", err)
				}
				defer rows.Close()
				byPretty := make(map[string]int64, len(chunk))
				for rows.Next() {
					var pretty string
					var itemID int64
					if err := rows.Scan(&pretty, &itemID); err != nil {
						return err
					}
					byPretty[pretty] = itemID
				}
				for _, t := range chunk {
					if id, ok := byPretty[t.Pretty()]; ok {
						qid := fmt.Sprintf("Q%d", id)
						result.Mutate(t, func(e *pageset.PageEntry) { e.WikidataItem = qid })
					}
				}
				return rows.Err()
			}(); err != nil {
				return nil, err
			}
		}
	}

	if mode == "any" {
		return result, nil
	}
	result.Retain(func(e *pageset.PageEntry) bool {
		has := e.WikidataItem != "" || wiki == "wikidatawiki"
		if mode == "with" {
			return has
		}
		return !has // without
	})
	return result, nil
}

// 7. File-usage hydration: join file-namespace entries against
// globalimagelinks, grouping the returned rows per gil_to in Go.
func (d *Driver) hydrateFileUsage(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	if !p.GetBool("file_usage_data") {
		return result, nil
	}
	var files []pageset.Title
	result.Each(func(e *pageset.PageEntry) {
		if e.Title.NamespaceID == fileNamespace {
			files = append(files, e.Title)
		}
	})
	if len(files) == 0 {
		return result, nil
	}

	conn, err := d.Broker.Replica(ctx, result.Wiki())
	if err != nil {
		return nil, fmt.Errorf("pipeline: file usage hydration: %w", err)
	}
	defer conn.Close()

	nsClause := ""
	if p.GetBool("file_usage_data_ns0") {
		nsClause = " AND gil_to_namespace_id = 0"
	}
	for _, chunk := range chunkTitles(files, postChunkSize) {
		query := `SELECT gil_to, gil_wiki, gil_page_namespace_id, gil_page_title
			FROM globalimagelinks WHERE gil_to IN (` + placeholders(len(chunk)) + `)` + nsClause
		args := make([]any, len(chunk))
		for i, t := range chunk {
			args[i] = t.DBKey
		}
		if err := func() error {
			rows, err := conn.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("pipeline: file usage hydration: querying: %w", err)
			}
			defer rows.Close()
			usage := make(map[string][]pageset.FileUsage)
			for rows.Next() {
				var to, wiki, title string
				var ns int
				if err := rows.Scan(&to, &wiki, &ns, &title); err != nil {
					return err
				}
				usage[to] = append(usage[to], pageset.FileUsage{Wiki: wiki, NamespaceID: ns, Title: title})
			}
			for _, t := range chunk {
				if u, ok := usage[t.DBKey]; ok {
					result.Mutate(t, func(e *pageset.PageEntry) {
						if e.File == nil {
							e.File = &pageset.FileInfo{}
						}
						e.File.Usage = u
					})
				}
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

const fileNamespace = 6

// 8. File metadata hydration: dimensions, mime, uploader, sha1, timestamp
// from the image table.
func (d *Driver) hydrateFileMetadata(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	if !p.GetBool("ext_image_data") {
		return result, nil
	}
	var files []pageset.Title
	result.Each(func(e *pageset.PageEntry) {
		if e.Title.NamespaceID == fileNamespace {
			files = append(files, e.Title)
		}
	})
	if len(files) == 0 {
		return result, nil
	}

	conn, err := d.Broker.Replica(ctx, result.Wiki())
	if err != nil {
		return nil, fmt.Errorf("pipeline: file metadata hydration: %w", err)
	}
	defer conn.Close()

	for _, chunk := range chunkTitles(files, postChunkSize) {
		query := `SELECT img_name, img_width, img_height, img_size, img_media_type, img_sha1, img_user_text, img_timestamp
			FROM image WHERE img_name IN (` + placeholders(len(chunk)) + `)`
		args := make([]any, len(chunk))
		for i, t := range chunk {
			args[i] = t.DBKey
		}
		if err := func() error {
			rows, err := conn.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("pipeline: file metadata hydration: querying: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var name, mediaType, sha1, userText, timestamp string
				var width, height int
				var size int64
				if err := rows.Scan(&name, &width, &height, &size, &mediaType, &sha1, &userText, &timestamp); err != nil {
					return err
				}
				title := pageset.NewTitle(fileNamespace, name)
				result.Mutate(title, func(e *pageset.PageEntry) {
					e.File = &pageset.FileInfo{
						Width: width, Height: height, SizeBytes: size,
						MimeType: mediaType, SHA1: sha1, Uploader: userText, Timestamp: timestamp,
					}
				})
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// 9. Page metadata hydration: page_id/bytes/timestamp plus the optional
// flag-gated columns (page_image, coordinates, defaultsort,
// disambiguation). Incoming-link and sitelink counts are not loaded.
func (d *Driver) hydratePageMetadata(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	wiki := result.Wiki()
	if wiki == "wikidatawiki" {
		return result, nil
	}
	conn, err := d.Broker.Replica(ctx, wiki)
	if err != nil {
		return nil, fmt.Errorf("pipeline: page metadata hydration: %w", err)
	}
	defer conn.Close()

	if err := hydrateCore(ctx, conn, result); err != nil {
		return nil, err
	}
	if p.GetBool("add_image") {
		if err := hydrateColumn(ctx, conn, result, "page_props", "pp_page", "pp_value", "pp_propname = 'page_image_free'",
			func(e *pageset.PageEntry, v string) { e.PageImage = v }); err != nil {
			return nil, err
		}
	}
	if p.GetBool("add_defaultsort") {
		if err := hydrateColumn(ctx, conn, result, "page_props", "pp_page", "pp_value", "pp_propname = 'defaultsort'",
			func(e *pageset.PageEntry, v string) { e.DefaultSort = v }); err != nil {
			return nil, err
		}
	}
	if p.GetBool("add_coordinates") {
		if err := hydrateCoordinates(ctx, conn, result); err != nil {
			return nil, err
		}
	}
	if p.GetBool("add_disambiguation") {
		if err := hydrateDisambiguation(ctx, conn, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func hydrateCore(ctx context.Context, conn broker.Conn, result *pageset.PageSet) error {
	titles := result.Titles()
	for _, chunk := range chunkTitles(titles, postChunkSize) {
		byNS := make(map[int][]pageset.Title)
		for _, t := range chunk {
			byNS[t.NamespaceID] = append(byNS[t.NamespaceID], t)
		}
		for ns, group := range byNS {
			query := `SELECT page_title, page_id, page_len, page_namespace, rev_timestamp FROM page
				JOIN revision ON rev_id = page_latest
				WHERE page_namespace = ? AND page_title IN (` + placeholders(len(group)) + `)`
			args := make([]any, 0, len(group)+1)
			args = append(args, ns)
			for _, t := range group {
				args = append(args, t.DBKey)
			}
			if err := func() error {
				rows, err := conn.QueryContext(ctx, query, args...)
				if err != nil {
					return fmt.Errorf("pipeline: page metadata hydration: querying: %w", err)
				}
				defer rows.Close()
				for rows.Next() {
					var dbkey, timestamp string
					var pageID, length int64
					var namespace int
					if err := rows.Scan(&dbkey, &pageID, &length, &namespace, &timestamp); err != nil {
						return err
					}
					title := pageset.NewTitle(namespace, dbkey)
					result.Mutate(title, func(e *pageset.PageEntry) {
						e.PageID, e.HasPageID = pageID, true
						e.Bytes, e.HasBytes = length, true
						e.Timestamp, e.HasTimestamp = timestamp, true
					})
				}
				return rows.Err()
			}(); err != nil {
				return err
			}
		}
	}
	return nil
}

// hydrateColumn is a small generic helper for the one-column page_props
// lookups add_image/add_defaultsort share.
func hydrateColumn(ctx context.Context, conn broker.Conn, result *pageset.PageSet, table, joinCol, valueCol, extraWhere string, apply func(*pageset.PageEntry, string)) error {
	titles := result.Titles()
	for _, chunk := range chunkTitles(titles, postChunkSize) {
		ids := make([]any, 0, len(chunk))
		pageToTitle := make(map[int64]pageset.Title, len(chunk))
		// page_props is keyed by page_id, so resolve ids first via a join.
		joinQuery := `SELECT page_id, page_title, page_namespace FROM page WHERE page_title IN (` + placeholders(len(chunk)) + `)`
		for _, t := range chunk {
			ids = append(ids, t.DBKey)
		}
		var pageIDs []any
		if err := func() error {
			rows, err := conn.QueryContext(ctx, joinQuery, ids...)
			if err != nil {
				return fmt.Errorf("pipeline: page metadata hydration: resolving ids: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				var dbkey string
				var ns int
				if err := rows.Scan(&id, &dbkey, &ns); err != nil {
					return err
				}
				t := pageset.NewTitle(ns, dbkey)
				pageToTitle[id] = t
				pageIDs = append(pageIDs, id)
			}
			return rows.Err()
		}(); err != nil {
			return err
		}
		if len(pageIDs) == 0 {
			continue
		}
		query := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s IN (%s) AND %s`, joinCol, valueCol, table, joinCol, placeholders(len(pageIDs)), extraWhere)
		if err := func() error {
			rows, err := conn.QueryContext(ctx, query, pageIDs...)
			if err != nil {
				return fmt.Errorf("pipeline: page metadata hydration: querying %s: %w", table, err)
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				var value string
				if err := rows.Scan(&id, &value); err != nil {
					return err
				}
				if t, ok := pageToTitle[id]; ok {
					result.Mutate(t, func(e *pageset.PageEntry) { apply(e, value) })
				}
			}
			return rows.Err()
		}(); err != nil {
			return err
		}
	}
	return nil
}

func hydrateCoordinates(ctx context.Context, conn broker.Conn, result *pageset.PageSet) error {
	titles := result.Titles()
	for _, chunk := range chunkTitles(titles, postChunkSize) {
		query := `SELECT page.page_title, page.page_namespace, gt_lat, gt_lon FROM geo_tags
			JOIN page ON page_id = gt_page_id
			WHERE gt_primary = 1 AND gt_globe = 'earth' AND page_title IN (` + placeholders(len(chunk)) + `)`
		args := make([]any, len(chunk))
		for i, t := range chunk {
			args[i] = t.DBKey
		}
		if err := func() error {
			rows, err := conn.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("pipeline: coordinates hydration: querying: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var dbkey string
				var ns int
				var lat, lon float64
				if err := rows.Scan(&dbkey, &ns, &lat, &lon); err != nil {
					return err
				}
				title := pageset.NewTitle(ns, dbkey)
				result.Mutate(title, func(e *pageset.PageEntry) {
					e.Coordinates, e.HasCoordinates = pageset.Coordinates{Lat: lat, Lon: lon}, true
				})
			}
			return rows.Err()
		}(); err != nil {
			return err
		}
	}
	return nil
}

func hydrateDisambiguation(ctx context.Context, conn broker.Conn, result *pageset.PageSet) error {
	titles := result.Titles()
	for _, chunk := range chunkTitles(titles, postChunkSize) {
		query := `SELECT page_title, page_namespace FROM page
			JOIN page_props ON pp_page = page_id
			WHERE pp_propname = 'disambiguation' AND page_title IN (` + placeholders(len(chunk)) + `)`
		args := make([]any, len(chunk))
		for i, t := range chunk {
			args[i] = t.DBKey
		}
		disambiguated := make(map[pageset.Title]bool)
		if err := func() error {
			rows, err := conn.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("pipeline: disambiguation hydration: querying: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var dbkey string
				var ns int
				if err := rows.Scan(&dbkey, &ns); err != nil {
					return err
				}
				disambiguated[pageset.NewTitle(ns, dbkey)] = true
			}
			return rows.Err()
		}(); err != nil {
			return err
		}
		for _, t := range chunk {
			value := pageset.DisambiguationNo
			if disambiguated[t] {
				value = pageset.DisambiguationYes
			}
			result.Mutate(t, func(e *pageset.PageEntry) { e.Disambiguation = value })
		}
	}
	return nil
}

// 10. Namespace conversion: keep (default), talk, or topic. MediaWiki
// pairs each subject namespace with its talk namespace one apart (0/1,
// 2/3, 4/5, ...); "talk" toggles an entry to/from that sibling, which
// makes it its own inverse, while "topic" only ever drives toward the
// subject namespace (clearing the odd bit) and leaves subject-namespace
// entries untouched.
func (d *Driver) convertNamespace(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	mode := p.Get("namespace_conversion", "keep")
	if mode == "keep" || result.Wiki() == "wikidatawiki" {
		return result, nil
	}
	converted := pageset.New(result.Wiki())
	result.Each(func(e *pageset.PageEntry) {
		ns := e.Title.NamespaceID
		switch mode {
		case "talk":
			ns ^= 1
		case "topic":
			ns &^= 1
		}
		clone := e.Clone()
		clone.Title = pageset.NewTitle(ns, e.Title.DBKey)
		converted.Add(clone)
	})
	return converted, nil
}

// 11. Sub-page handling.
func (d *Driver) handleSubpages(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	addSubpages := p.GetBool("add_subpages")
	filter := p.Get("subpage_filter", "either")
	if !addSubpages && filter == "either" {
		return result, nil
	}
	if result.Wiki() == "wikidatawiki" {
		return result, nil
	}

	if addSubpages {
		conn, err := d.Broker.Replica(ctx, result.Wiki())
		if err != nil {
			return nil, fmt.Errorf("pipeline: subpage handling: %w", err)
		}
		defer conn.Close()

		var seeds []pageset.Title
		result.Each(func(e *pageset.PageEntry) { seeds = append(seeds, e.Title) })
		for _, seed := range seeds {
			query := `SELECT page_title FROM page WHERE page_namespace = ? AND page_title LIKE ?`
			rows, err := conn.QueryContext(ctx, query, seed.NamespaceID, seed.DBKey+"/%")
			if err != nil {
				return nil, fmt.Errorf("pipeline: subpage handling: querying: %w", err)
			}
			for rows.Next() {
				var dbkey string
				if err := rows.Scan(&dbkey); err != nil {
					rows.Close()
					return nil, err
				}
				result.Add(&pageset.PageEntry{Title: pageset.NewTitle(seed.NamespaceID, dbkey)})
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return nil, err
			}
			rows.Close()
		}
	}

	if filter != "either" {
		result.Retain(func(e *pageset.PageEntry) bool {
			isSubpage := strings.Contains(e.Title.DBKey, "/")
			if filter == "subpages" {
				return isSubpage
			}
			return !isSubpage // no_subpages
		})
	}
	return result, nil
}

// 13. Missing metadata load: fill in page_id/bytes/timestamp for entries
// that still lack them, plus Wikidata labels/descriptions for item/
// property entries in the chosen language.
func (d *Driver) loadMissingMetadata(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	wiki := result.Wiki()
	if wiki != "wikidatawiki" {
		var missing []pageset.Title
		result.Each(func(e *pageset.PageEntry) {
			if !e.HasPageID || !e.HasBytes || !e.HasTimestamp {
				missing = append(missing, e.Title)
			}
		})
		if len(missing) > 0 {
			conn, err := d.Broker.Replica(ctx, wiki)
			if err != nil {
				return nil, fmt.Errorf("pipeline: missing metadata load: %w", err)
			}
			partial := pageset.New(wiki)
			for _, t := range missing {
				partial.Add(&pageset.PageEntry{Title: t})
			}
			if err := hydrateCore(ctx, conn, partial); err != nil {
				conn.Close()
				return nil, err
			}
			conn.Close()
			partial.Each(func(e *pageset.PageEntry) {
				if e.HasPageID {
					result.Mutate(e.Title, func(target *pageset.PageEntry) {
						target.PageID, target.HasPageID = e.PageID, true
						target.Bytes, target.HasBytes = e.Bytes, true
						target.Timestamp, target.HasTimestamp = e.Timestamp, true
					})
				}
			})
		}
		return result, nil
	}

	lang := p.Get("interface_language", p.Get("language", "en"))
	conn, err := d.Broker.Termstore(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: missing metadata load: %w", err)
	}
	defer conn.Close()

	var missing []pageset.Title
	result.Each(func(e *pageset.PageEntry) {
		if e.WikidataLabel == "" {
			missing = append(missing, e.Title)
		}
	})
	for _, chunk := range chunkTitles(missing, postChunkSize) {
		query := `
			SELECT CONCAT(CASE WHEN wbit_item_id IS NOT NULL THEN 'Q' ELSE 'P' END,
				COALESCE(wbit_item_id, wbpt_property_id)), wbtl_type_id, wbx_text
			FROM wbt_term_in_lang
			JOIN wbt_text_in_lang ON wbxl_id = wbtl_text_in_lang_id
			JOIN wbt_text ON wbx_id = wbxl_text_id
			LEFT JOIN wbt_item_terms ON wbit_term_in_lang_id = wbtl_id
			LEFT JOIN wbt_property_terms ON wbpt_term_in_lang_id = wbtl_id
			WHERE wbxl_language = ? AND wbtl_type_id IN (1, 2)
			AND CONCAT(CASE WHEN wbit_item_id IS NOT NULL THEN 'Q' ELSE 'P' END,
				COALESCE(wbit_item_id, wbpt_property_id)) IN (` + placeholders(len(chunk)) + `)`
		args := make([]any, 0, len(chunk)+1)
		args = append(args, lang)
		for _, t := range chunk {
			args = append(args, t.DBKey)
		}
		if err := func() error {
			rows, err := conn.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("pipeline: label/description load: querying: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id string
				var typeID int
				var text string
				if err := rows.Scan(&id, &typeID, &text); err != nil {
					return err
				}
				ns := pageset.NamespaceItem
				if strings.HasPrefix(id, "P") {
					ns = pageset.NamespaceProperty
				}
				title := pageset.NewTitle(ns, id)
				result.Mutate(title, func(e *pageset.PageEntry) {
					if typeID == 1 {
						e.WikidataLabel = text
					} else {
						e.WikidataDescription = text
					}
				})
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// 14. Regex filter / search filter, applied last among content filters.
// search_filter keeps entries whose pretty title contains the query,
// case-insensitively; it does not query the wiki's search API.
func (d *Driver) filterRegexAndSearch(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	if raw := p.Get("rxp_filter", ""); raw != "" {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("pipeline: invalid rxp_filter: %w", err)
		}
		result.RegexpFilter(re)
	}
	if query := p.Get("search_filter", ""); query != "" {
		re, err := regexp.Compile(strings.ToLower(regexp.QuoteMeta(query)))
		if err != nil {
			return nil, fmt.Errorf("pipeline: invalid search_filter: %w", err)
		}
		result.Retain(func(e *pageset.PageEntry) bool {
			return re.MatchString(strings.ToLower(e.Title.Pretty()))
		})
	}
	return result, nil
}

// 15. Redlinks: replace the set with wanted links discovered by joining
// outgoing pagelinks to page, keeping targets with zero matches.
func (d *Driver) resolveRedlinks(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	if !p.GetBool("show_redlinks") {
		return result, nil
	}
	if result.Wiki() == "wikidatawiki" {
		return result, nil
	}

	conn, err := d.Broker.Replica(ctx, result.Wiki())
	if err != nil {
		return nil, fmt.Errorf("pipeline: redlinks: %w", err)
	}
	defer conn.Close()

	mainOnly := p.GetBool("article_redlinks_only")
	suppressTemplates := p.GetBool("remove_template_redlinks")
	minCount, _ := strconv.Atoi(p.Get("min_redlink_count", "1"))
	if minCount < 1 {
		minCount = 1
	}

	counts := make(map[pageset.Title]int)
	var linkSources []pageset.Title
	result.Each(func(e *pageset.PageEntry) { linkSources = append(linkSources, e.Title) })

	// Newer MediaWiki schemas normalize pagelinks' target through
	// pl_target_id/linktarget instead of storing pl_namespace/pl_title
	// directly; try the modern join first and fall back to the legacy
	// columns on a schema-mismatch error, remembering which schema worked
	// so later namespace groups don't re-probe.
	legacySchema := false
	for _, chunk := range chunkTitles(linkSources, postChunkSize) {
		byNS := make(map[int][]pageset.Title)
		for _, t := range chunk {
			byNS[t.NamespaceID] = append(byNS[t.NamespaceID], t)
		}
		for ns, group := range byNS {
			rows, err := queryRedlinkTargets(ctx, conn, ns, group, legacySchema)
			if err != nil && !legacySchema && isSchemaMismatch(err) {
				legacySchema = true
				rows, err = queryRedlinkTargets(ctx, conn, ns, group, true)
			}
			if err != nil {
				return nil, fmt.Errorf("pipeline: redlinks: querying: %w", err)
			}
			for _, r := range rows {
				if mainOnly && r.ns != 0 {
					continue
				}
				counts[pageset.NewTitle(r.ns, r.dbkey)]++
			}
		}
	}

	if suppressTemplates {
		// Template-originated redlinks are pagelinks whose pl_from lives in
		// the Template namespace (10); exclude any wanted link that also
		// appears as an outgoing link from a Template: page.
		var templateTargets map[pageset.Title]bool
		templateTargets, err = redlinkTargetsFromNamespace(ctx, conn, 10)
		if err != nil {
			return nil, err
		}
		for t := range templateTargets {
			delete(counts, t)
		}
	}

	redlinks := pageset.New(result.Wiki())
	for t, count := range counts {
		if count < minCount {
			continue
		}
		redlinks.Add(&pageset.PageEntry{Title: t, RedlinkCount: count, HasRedlinkCount: true})
	}
	return redlinks, nil
}

// redlinkRow is one wanted-link target returned by queryRedlinkTargets.
type redlinkRow struct {
	ns    int
	dbkey string
}

// queryRedlinkTargets finds pagelinks targets from group with no matching
// page row. legacy selects between the modern pl_target_id/linktarget join
// and the older pl_namespace/pl_title columns.
func queryRedlinkTargets(ctx context.Context, conn broker.Conn, ns int, group []pageset.Title, legacy bool) ([]redlinkRow, error) {
	var query string
	if legacy {
		query = `SELECT pl_title, pl_namespace FROM pagelinks
			LEFT JOIN page ON page_namespace = pl_namespace AND page_title = pl_title
			WHERE pl_from_namespace = ? AND pl_from IN (
				SELECT page_id FROM page WHERE page_namespace = ? AND page_title IN (` + placeholders(len(group)) + `)
			) AND page_id IS NULL`
	} else {
		query = `SELECT lt_title, lt_namespace FROM pagelinks
			JOIN linktarget ON lt_id = pl_target_id
			LEFT JOIN page ON page_namespace = lt_namespace AND page_title = lt_title
			WHERE pl_from_namespace = ? AND pl_from IN (
				SELECT page_id FROM page WHERE page_namespace = ? AND page_title IN (` + placeholders(len(group)) + `)
			) AND page_id IS NULL`
	}
	args := make([]any, 0, len(group)+2)
	args = append(args, ns, ns)
	for _, t := range group {
		args = append(args, t.DBKey)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []redlinkRow
	for rows.Next() {
		var dbkey string
		var targetNS int
		if err := rows.Scan(&dbkey, &targetNS); err != nil {
			return nil, err
		}
		out = append(out, redlinkRow{ns: targetNS, dbkey: dbkey})
	}
	return out, rows.Err()
}

// isSchemaMismatch reports whether err looks like the modern
// pl_target_id/linktarget join failed against an older replica schema that
// still uses pl_namespace/pl_title directly.
func isSchemaMismatch(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "linktarget") ||
		strings.Contains(msg, "unknown column") ||
		strings.Contains(msg, "doesn't exist")
}

func redlinkTargetsFromNamespace(ctx context.Context, conn broker.Conn, fromNS int) (map[pageset.Title]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT pl_title, pl_namespace FROM pagelinks WHERE pl_from_namespace = ?`, fromNS)
	if err != nil {
		return nil, fmt.Errorf("pipeline: redlinks: querying template links: %w", err)
	}
	defer rows.Close()
	out := make(map[pageset.Title]bool)
	for rows.Next() {
		var dbkey string
		var ns int
		if err := rows.Scan(&dbkey, &ns); err != nil {
			return nil, err
		}
		out[pageset.NewTitle(ns, dbkey)] = true
	}
	return out, rows.Err()
}

// 16. Creator mode cache: for redlink results or wikidata_item=without,
// precompute which candidate titles already exist as Wikidata labels or
// aliases, so the UI can mark them without a per-row round-trip.
func (d *Driver) precomputeCreatorCache(ctx context.Context, p *params.Bag, result *pageset.PageSet) (*pageset.PageSet, error) {
	needsCache := p.GetBool("show_redlinks") || p.Get("wikidata_item", "") == "without"
	if !needsCache {
		return result, nil
	}

	conn, err := d.Broker.Termstore(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: creator cache: %w", err)
	}
	defer conn.Close()

	lang := p.Get("interface_language", p.Get("language", "en"))
	var titles []pageset.Title
	result.Each(func(e *pageset.PageEntry) { titles = append(titles, e.Title) })

	for _, chunk := range chunkTitles(titles, postChunkSize) {
		query := `SELECT DISTINCT wbx_text FROM wbt_text
			JOIN wbt_text_in_lang ON wbxl_text_id = wbx_id
			JOIN wbt_term_in_lang ON wbtl_text_in_lang_id = wbxl_id
			WHERE wbxl_language = ? AND wbtl_type_id IN (1, 3) AND wbx_text IN (` + placeholders(len(chunk)) + `)`
		args := make([]any, 0, len(chunk)+1)
		args = append(args, lang)
		for _, t := range chunk {
			args = append(args, t.Pretty())
		}
		existing := make(map[string]bool, len(chunk))
		if err := func() error {
			rows, err := conn.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("pipeline: creator cache: querying: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var text string
				if err := rows.Scan(&text); err != nil {
					return err
				}
				existing[text] = true
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
		for _, t := range chunk {
			if existing[t.Pretty()] {
				result.Mutate(t, func(e *pageset.PageEntry) { e.WikidataLabel = t.Pretty() })
			}
		}
	}
	return result, nil
}
