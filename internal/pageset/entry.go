// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pageset

// Disambiguation is the tri-state disambiguation flag from the Data Model.
type Disambiguation int

const (
	DisambiguationUnknown Disambiguation = iota
	DisambiguationYes
	DisambiguationNo
)

// Coordinates is a decimal-degree lat/lon pair.
type Coordinates struct {
	Lat, Lon float64
}

// FileUsage is one row of a file's cross-wiki usage, as returned by the
// globalimagelinks join in the post-processor.
type FileUsage struct {
	Wiki          string
	NamespaceID   int
	NamespaceName string
	PageID        int64
	Title         string
}

// FileInfo bundles the attributes hydrated for File-namespace entries.
type FileInfo struct {
	SizeBytes int64
	Width     int
	Height    int
	MimeType  string
	Uploader  string
	Timestamp string // 14-digit UTC, matching PageEntry.Timestamp
	SHA1      string
	Usage     []FileUsage
}

// PageEntry is one row of a Page Set: a Title plus annotated, optional
// attributes. A PageEntry is equal to
// another iff titles match; everything else is metadata merged with
// last-write-wins semantics on re-insertion.
type PageEntry struct {
	Title Title

	PageID    int64 // 0 means unset
	HasPageID bool

	Bytes    int64
	HasBytes bool

	Timestamp    string // 14-digit UTC
	HasTimestamp bool

	WikidataItem string // "Q…"
	WikidataProp string // "P…" only meaningful for property entities

	WikidataLabel       string
	WikidataDescription string

	DefaultSort string

	PageImage string

	Coordinates    Coordinates
	HasCoordinates bool

	Disambiguation Disambiguation

	IncomingLinks    int
	HasIncomingLinks bool

	LinkCount    int
	HasLinkCount bool

	RedlinkCount    int
	HasRedlinkCount bool

	SitelinkCount    int
	HasSitelinkCount bool

	File *FileInfo
}

// merge applies last-write-wins updates from other onto e for every
// attribute other actually sets, per the idempotent-insert invariant.
func (e *PageEntry) merge(other *PageEntry) {
	if other.HasPageID {
		e.PageID, e.HasPageID = other.PageID, true
	}
	if other.HasBytes {
		e.Bytes, e.HasBytes = other.Bytes, true
	}
	if other.HasTimestamp {
		e.Timestamp, e.HasTimestamp = other.Timestamp, true
	}
	if other.WikidataItem != "" {
		e.WikidataItem = other.WikidataItem
	}
	if other.WikidataProp != "" {
		e.WikidataProp = other.WikidataProp
	}
	if other.WikidataLabel != "" {
		e.WikidataLabel = other.WikidataLabel
	}
	if other.WikidataDescription != "" {
		e.WikidataDescription = other.WikidataDescription
	}
	if other.DefaultSort != "" {
		e.DefaultSort = other.DefaultSort
	}
	if other.PageImage != "" {
		e.PageImage = other.PageImage
	}
	if other.HasCoordinates {
		e.Coordinates, e.HasCoordinates = other.Coordinates, true
	}
	if other.Disambiguation != DisambiguationUnknown {
		e.Disambiguation = other.Disambiguation
	}
	if other.HasIncomingLinks {
		e.IncomingLinks, e.HasIncomingLinks = other.IncomingLinks, true
	}
	if other.HasLinkCount {
		e.LinkCount, e.HasLinkCount = other.LinkCount, true
	}
	if other.HasRedlinkCount {
		e.RedlinkCount, e.HasRedlinkCount = other.RedlinkCount, true
	}
	if other.HasSitelinkCount {
		e.SitelinkCount, e.HasSitelinkCount = other.SitelinkCount, true
	}
	if other.File != nil {
		e.File = other.File
	}
}

// Clone returns a shallow copy of e, safe to hand to a caller without
// exposing the set's internal pointer.
func (e *PageEntry) Clone() *PageEntry {
	c := *e
	return &c
}
