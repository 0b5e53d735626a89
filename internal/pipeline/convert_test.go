// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikitools/petscango/internal/pageset"
)

func TestParseItemID(t *testing.T) {
	id, ok := parseItemID("Q42")
	require.True(t, ok)
	assert.EqualValues(t, 42, id)

	id, ok = parseItemID("P31")
	require.True(t, ok)
	assert.EqualValues(t, 31, id)

	_, ok = parseItemID("enwiki")
	assert.False(t, ok)

	_, ok = parseItemID("Q")
	assert.False(t, ok)
}

func TestConvertSetNoopWhenAlreadyOnTargetWiki(t *testing.T) {
	d := &Driver{}
	src := pageset.New("enwiki")
	src.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Foo")})

	got, err := d.ConvertSet(context.Background(), src, "enwiki")
	require.NoError(t, err)
	assert.Same(t, src, got)
}
