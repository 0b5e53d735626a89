// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT
// Package pageset implements the Page Set abstraction: a disk-spillable,
// keyed collection of Page Entries scoped to a single wiki, with boolean
// set algebra and annotated metadata columns.
package pageset

import "strings"

// Title is (namespace_id, dbkey). Equality and hashing use both fields
// exactly. The canonical (dbkey) form uses underscores; Pretty renders
// the space form.
type Title struct {
	NamespaceID int
	DBKey       string
}

// NewTitle canonicalizes dbkey (spaces to underscores) before storing it.
func NewTitle(namespaceID int, dbkey string) Title {
	return Title{NamespaceID: namespaceID, DBKey: strings.ReplaceAll(dbkey, " ", "_")}
}

// Pretty renders the title with underscores replaced by spaces, the form
// used by regexp_filter on non-Wikidata entries.
func (t Title) Pretty() string {
	return strings.ReplaceAll(t.DBKey, "_", " ")
}

// Entity namespace ids for Wikidata pseudo-titles.
const (
	NamespaceItem     = 0
	NamespaceProperty = 120
	NamespaceLexeme   = 146
)

// IsEntity reports whether t sits in one of the Wikidata entity namespaces.
func (t Title) IsEntity() bool {
	switch t.NamespaceID {
	case NamespaceItem, NamespaceProperty, NamespaceLexeme:
		return true
	default:
		return false
	}
}
