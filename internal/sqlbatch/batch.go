// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sqlbatch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wikitools/petscango/internal/pageset"
)

// DefaultChunkSize is the batcher's default title-chunk size.
const DefaultChunkSize = 500

// minChunkSize is the floor a shrinking chunk must not cross; once a chunk
// would shrink below this, the batch fails as a Capacity error rather
// than retrying forever on a single title.
const minChunkSize = 1

// backoffDelay is the fixed sleep on a max_user_connections error
// before retrying.
const backoffDelay = 100 * time.Millisecond

// ErrCapacity is returned when a batch cannot shrink any further after
// repeated "packet too large" errors.
var ErrCapacity error = capacitySentinel{}

type capacitySentinel struct{}

func (capacitySentinel) Error() string { return "sqlbatch: batch could not shrink below minimum chunk size" }

// Conn is the connection type the batcher needs; satisfied by
// *broker.Broker's Replica()/Termstore() return value.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

// ConnAcquirer hands out a Conn for a wiki; implemented by
// *broker.Broker.Replica and, for termstore-scoped batches, an adaptor
// ignoring the wiki argument and calling Broker.Termstore.
type ConnAcquirer func(ctx context.Context, wiki string) (Conn, error)

// RetryHook is notified whenever the batcher backs off, letting callers
// feed a Prometheus counter (internal/broker.Broker.RecordRetry) without
// this package depending on Prometheus directly.
type RetryHook func()

// RowDecoder decodes one already-Scanned-into row into a target Title
// plus a mutator applied to the matching entry in Target: entries not
// present in Target are silently ignored (they are ghosts from the
// join).
type RowDecoder func(rows *sql.Rows) (pageset.Title, func(*pageset.PageEntry), error)

// Batcher runs Request against a wiki's replica connections, chunking by
// namespace, executing chunks concurrently, and joining decoded rows back
// onto Target.
type Batcher struct {
	Acquire   ConnAcquirer
	OnRetry   RetryHook
	ChunkSize int // 0 means DefaultChunkSize
	Waves     int // concurrent chunks per wave; 0 means 5

	// execOverride replaces execChunk in tests, so the retry/shrink state
	// machine can be exercised without a live MySQL connection.
	execOverride func(ctx context.Context, req Request, c chunk) error
}

// New returns a Batcher wired to acquire, the broker's per-wiki connection
// function.
func New(acquire ConnAcquirer) *Batcher {
	return &Batcher{Acquire: acquire}
}

// Request describes one SQL Batcher invocation over a source Page Set.
type Request struct {
	Wiki   string
	Source *pageset.PageSet // set whose titles drive the WHERE clause chunks
	Target *pageset.PageSet // set whose entries get mutated by decoded rows

	// Namespace restricts chunking to a single namespace, matching
	// to_sql_batches_namespace; zero value means "all namespaces".
	Namespace    int
	AllNamespace bool // true => Namespace is ignored, use every namespace

	Prefix, Suffix string // wrap the WHERE page_namespace=?/page_title IN(...) clause
	Decode         RowDecoder
}

type chunk struct {
	ns     int
	titles []string
}

func buildChunks(req Request, chunkSize int) []chunk {
	grouped := req.Source.GroupByNamespace()
	var chunks []chunk
	for ns, keys := range grouped {
		if !req.AllNamespace && ns != req.Namespace {
			continue
		}
		for i := 0; i < len(keys); i += chunkSize {
			end := i + chunkSize
			if end > len(keys) {
				end = len(keys)
			}
			chunks = append(chunks, chunk{ns: ns, titles: keys[i:end]})
		}
	}
	return chunks
}

// Run executes req, chunking Source's titles, running chunks concurrently
// up to Waves per wave, and joining rows onto Target.
func (b *Batcher) Run(ctx context.Context, req Request) error {
	chunkSize := b.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	waves := b.Waves
	if waves <= 0 {
		waves = 5
	}

	chunks := buildChunks(req, chunkSize)

	sem := make(chan struct{}, waves)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		c := c
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()
			return b.runChunk(groupCtx, req, c)
		})
	}
	return group.Wait()
}

func (b *Batcher) exec(ctx context.Context, req Request, c chunk) error {
	if b.execOverride != nil {
		return b.execOverride(ctx, req, c)
	}
	return b.execChunk(ctx, req, c)
}

func (b *Batcher) runChunk(ctx context.Context, req Request, c chunk) error {
	for {
		err := b.exec(ctx, req, c)
		if err == nil {
			return nil
		}
		switch classifyError(err) {
		case retryBackoff:
			if b.OnRetry != nil {
				b.OnRetry()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay):
			}
			continue
		case retryShrinkChunk:
			if len(c.titles) <= minChunkSize {
				return fmt.Errorf("%w (namespace %d)", ErrCapacity, c.ns)
			}
			mid := len(c.titles) / 2
			left := chunk{ns: c.ns, titles: c.titles[:mid]}
			right := chunk{ns: c.ns, titles: c.titles[mid:]}
			if err := b.runChunk(ctx, req, left); err != nil {
				return err
			}
			return b.runChunk(ctx, req, right)
		default:
			return err
		}
	}
}

func (b *Batcher) execChunk(ctx context.Context, req Request, c chunk) error {
	conn, err := b.Acquire(ctx, req.Wiki)
	if err != nil {
		return err
	}
	defer conn.Close()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(c.titles)), ",")
	stmt := req.Prefix + "page_namespace=? AND page_title IN (" + placeholders + ")" + req.Suffix
	params := make([]any, 0, len(c.titles)+1)
	params = append(params, c.ns)
	for _, t := range c.titles {
		params = append(params, t)
	}

	rows, err := conn.QueryContext(ctx, stmt, params...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		title, mutate, err := req.Decode(rows)
		if err != nil {
			return fmt.Errorf("sqlbatch: decoding row: %w", err)
		}
		req.Target.Mutate(title, mutate)
	}
	return rows.Err()
}
