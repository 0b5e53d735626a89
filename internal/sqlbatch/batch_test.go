// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sqlbatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikitools/petscango/internal/pageset"
)

func newSourceSet(titles ...string) *pageset.PageSet {
	set := pageset.New("testwiki")
	for _, title := range titles {
		set.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, title)})
	}
	return set
}

func TestBuildChunksSplitsByChunkSize(t *testing.T) {
	req := Request{Source: newSourceSet("A", "B", "C"), AllNamespace: true}
	chunks := buildChunks(req, 2)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0].titles, 2)
	assert.Len(t, chunks[1].titles, 1)
}

func TestBuildChunksFiltersNamespace(t *testing.T) {
	set := pageset.New("testwiki")
	set.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "Article")})
	set.Add(&pageset.PageEntry{Title: pageset.NewTitle(14, "Category_page")})

	req := Request{Source: set, Namespace: 14}
	chunks := buildChunks(req, 500)
	require.Len(t, chunks, 1)
	assert.Equal(t, 14, chunks[0].ns)
}

func TestRunChunkShrinksOnPacketTooLarge(t *testing.T) {
	target := pageset.New("testwiki")
	target.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "A")})
	target.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, "B")})

	var attempts int32
	b := &Batcher{
		execOverride: func(ctx context.Context, req Request, c chunk) error {
			atomic.AddInt32(&attempts, 1)
			if len(c.titles) > 1 {
				return errors.New("Got a packet bigger than 'max_allowed_packet' bytes")
			}
			target.Mutate(pageset.NewTitle(c.ns, c.titles[0]), func(e *pageset.PageEntry) {
				e.WikidataLabel = "seen"
			})
			return nil
		},
	}

	req := Request{Source: newSourceSet("A", "B"), Target: target, AllNamespace: true}
	c := chunk{ns: 0, titles: []string{"A", "B"}}
	require.NoError(t, b.runChunk(context.Background(), req, c))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))

	a, ok := target.Get(pageset.NewTitle(0, "A"))
	require.True(t, ok)
	assert.Equal(t, "seen", a.WikidataLabel)
}

func TestRunChunkFailsWithCapacityAtMinimum(t *testing.T) {
	b := &Batcher{
		execOverride: func(ctx context.Context, req Request, c chunk) error {
			return errors.New("packet too large")
		},
	}
	req := Request{Source: newSourceSet("A"), Target: pageset.New("testwiki"), AllNamespace: true}
	err := b.runChunk(context.Background(), req, chunk{ns: 0, titles: []string{"A"}})
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestRunChunkBacksOffOnMaxUserConnections(t *testing.T) {
	var attempts int32
	b := &Batcher{
		execOverride: func(ctx context.Context, req Request, c chunk) error {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return errors.New("Too many connections: max_user_connections")
			}
			return nil
		},
	}
	req := Request{Source: newSourceSet("A"), Target: pageset.New("testwiki"), AllNamespace: true}
	require.NoError(t, b.runChunk(context.Background(), req, chunk{ns: 0, titles: []string{"A"}}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRunDispatchesAllChunksConcurrently(t *testing.T) {
	target := pageset.New("testwiki")
	for _, title := range []string{"A", "B", "C", "D"} {
		target.Add(&pageset.PageEntry{Title: pageset.NewTitle(0, title)})
	}

	var seen int32
	b := &Batcher{
		Waves:     2,
		ChunkSize: 1,
		execOverride: func(ctx context.Context, req Request, c chunk) error {
			for _, title := range c.titles {
				req.Target.Mutate(pageset.NewTitle(c.ns, title), func(e *pageset.PageEntry) {
					atomic.AddInt32(&seen, 1)
				})
			}
			return nil
		},
	}

	req := Request{Source: newSourceSet("A", "B", "C", "D"), Target: target, AllNamespace: true}
	require.NoError(t, b.Run(context.Background(), req))
	assert.Equal(t, int32(4), atomic.LoadInt32(&seen))
}
