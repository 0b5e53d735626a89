// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
)

// ErrLegacyTermStore is returned when a caller asks labels to target the
// retired wb_terms schema; this source only speaks the modern wbt_* split
// tables and rejects the legacy path outright rather than silently
// falling back to it.
var ErrLegacyTermStore = errors.New("sources: labels: wb_terms is retired, target wbt_* instead")

// Term type codes in wbt_term_in_lang.wbtl_type_id: 1=label, 3=alias,
// 2=description.
const (
	termTypeLabel       = 1
	termTypeDescription = 2
	termTypeAlias       = 3
)

// Labels builds a predicate over the Wikidata term store
// (wbt_item_terms/wbt_property_terms joined through wbt_term_in_lang,
// wbt_text_in_lang, wbt_text), matching entities whose labels/aliases/
// descriptions satisfy yes/any/no language buckets.
type Labels struct{}

func (Labels) Name() string { return "labels" }

func (Labels) CanRun(p *params.Bag) bool {
	return p.Has("labels_yes") || p.Has("labels_any") || p.Has("labels_no")
}

func (l Labels) Run(ctx context.Context, p *params.Bag, env *Env) (*pageset.PageSet, error) {
	if p.Get("term_store_schema", "") == "wb_terms" {
		return nil, fmt.Errorf("sources: labels: %w", ErrLegacyTermStore)
	}

	entityType := p.Get("labels_entity_type", "item")
	table := "wbt_item_terms"
	joinColumn := "wbit_term_in_lang_id"
	entityColumn := "wbit_item_id"
	namespace := pageset.NamespaceItem
	entityPrefix := "Q"
	if entityType == "property" {
		table = "wbt_property_terms"
		joinColumn = "wbpt_term_in_lang_id"
		entityColumn = "wbpt_property_id"
		namespace = pageset.NamespaceProperty
		entityPrefix = "P"
	}

	types := selectedTermTypes(p)
	if len(types) == 0 {
		types = []int{termTypeLabel}
	}

	yes := normalizeLangs(p.GetList("labels_yes", ","))
	anyOf := normalizeLangs(p.GetList("labels_any", ","))
	no := normalizeLangs(p.GetList("labels_no", ","))
	if len(yes) == 0 && len(anyOf) == 0 && len(no) == 0 {
		return pageset.New("wikidatawiki"), nil
	}

	result := pageset.New("wikidatawiki")
	conn, err := env.Broker.Termstore(ctx)
	if err != nil {
		return nil, fmt.Errorf("sources: labels: %w", err)
	}
	defer conn.Close()

	typePlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")

	buildClause := func(langs []string, negate bool) (string, []any) {
		langPlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(langs)), ",")
		exists := fmt.Sprintf(`EXISTS (
			SELECT 1 FROM %s
			JOIN wbt_term_in_lang ON wbtl_id = %s
			JOIN wbt_text_in_lang ON wbxl_id = wbtl_text_in_lang_id
			JOIN wbt_text ON wbx_id = wbxl_text_id
			WHERE %s = entity_id
			AND wbtl_type_id IN (%s)
			AND wbxl_language IN (%s)
		)`, table, joinColumn, entityColumn, typePlaceholders, langPlaceholders)
		if negate {
			exists = "NOT " + exists
		}
		args := make([]any, 0, len(types)+len(langs))
		for _, t := range types {
			args = append(args, t)
		}
		for _, lang := range langs {
			args = append(args, lang)
		}
		return exists, args
	}

	var clauses []string
	var args []any
	for _, lang := range yes {
		clause, clauseArgs := buildClause([]string{lang}, false)
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}
	for _, lang := range no {
		clause, clauseArgs := buildClause([]string{lang}, true)
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}
	if len(anyOf) > 0 {
		clause, clauseArgs := buildClause(anyOf, false)
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	query := fmt.Sprintf("SELECT DISTINCT entity_id FROM %s WHERE %s", table, strings.Join(clauses, " AND "))
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sources: labels: querying: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityID int64
		if err := rows.Scan(&entityID); err != nil {
			return nil, fmt.Errorf("sources: labels: scanning row: %w", err)
		}
		result.Add(&pageset.PageEntry{Title: pageset.NewTitle(namespace, fmt.Sprintf("%s%d", entityPrefix, entityID))})
	}
	return result, rows.Err()
}

func selectedTermTypes(p *params.Bag) []int {
	var types []int
	if p.GetBool("cb_labels_label") {
		types = append(types, termTypeLabel)
	}
	if p.GetBool("cb_labels_alias") {
		types = append(types, termTypeAlias)
	}
	if p.GetBool("cb_labels_description") {
		types = append(types, termTypeDescription)
	}
	return types
}
