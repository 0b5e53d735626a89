// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pageset

import "strings"

// SQLTuple is a parameterized statement fragment: '?' placeholders plus
// an ordered list of typed values. Combinators concatenate both halves.
type SQLTuple struct {
	Stmt   string
	Params []any
}

// Concat joins a with b, concatenating statement text with sep and
// appending parameter lists in order.
func Concat(sep string, a, b SQLTuple) SQLTuple {
	return SQLTuple{
		Stmt:   a.Stmt + sep + b.Stmt,
		Params: append(append([]any{}, a.Params...), b.Params...),
	}
}

// ToSQLBatches chunks the set's titles into namespace-grouped batches of at
// most chunkSize dbkeys, emitting one SQLTuple per chunk of the form
// "page_namespace=N AND page_title IN (?,?,…)".
func (p *PageSet) ToSQLBatches(chunkSize int) []SQLTuple {
	grouped := p.GroupByNamespace()
	var out []SQLTuple
	// Deterministic namespace order keeps batch ordering stable for tests.
	for _, ns := range sortedKeys(grouped) {
		out = append(out, chunkNamespace(ns, grouped[ns], chunkSize)...)
	}
	return out
}

// ToSQLBatchesNamespace restricts ToSQLBatches to a single namespace, used
// for file/term lookups that are only ever meaningful in one namespace.
func (p *PageSet) ToSQLBatchesNamespace(chunkSize int, namespaceID int) []SQLTuple {
	grouped := p.GroupByNamespace()
	keys, ok := grouped[namespaceID]
	if !ok {
		return nil
	}
	return chunkNamespace(namespaceID, keys, chunkSize)
}

func chunkNamespace(ns int, keys []string, chunkSize int) []SQLTuple {
	if chunkSize <= 0 {
		chunkSize = len(keys)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	var out []SQLTuple
	for i := 0; i < len(keys); i += chunkSize {
		end := i + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[i:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		stmt := "page_namespace=? AND page_title IN (" + placeholders + ")"
		params := make([]any, 0, len(chunk)+1)
		params = append(params, ns)
		for _, k := range chunk {
			params = append(params, k)
		}
		out = append(out, SQLTuple{Stmt: stmt, Params: params})
	}
	return out
}

func sortedKeys(m map[int][]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Small N (namespace ids); insertion sort is plenty and keeps this
	// file free of an extra sort.Ints import-order dependency.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// OrPredicate concatenates batches' statements with OR, yielding a single
// predicate matching the whole set. Used by callers that want one WHERE
// clause instead of dispatching a query per batch (e.g. EXISTS-style
// post-processor filters).
func OrPredicate(batches []SQLTuple) SQLTuple {
	if len(batches) == 0 {
		return SQLTuple{Stmt: "0"}
	}
	stmt := "(" + batches[0].Stmt + ")"
	params := append([]any{}, batches[0].Params...)
	for _, b := range batches[1:] {
		stmt += " OR (" + b.Stmt + ")"
		params = append(params, b.Params...)
	}
	return SQLTuple{Stmt: stmt, Params: params}
}
