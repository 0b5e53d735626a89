// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT
// Package pipeline implements the Pipeline Driver and Post-processor
// cascade: it resolves available sources, evaluates the combination
// expression against their concurrently-produced Page Sets, and runs the
// ordered post-processing steps over the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wikitools/petscango/internal/broker"
	"github.com/wikitools/petscango/internal/combination"
	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
	"github.com/wikitools/petscango/internal/sources"
	"github.com/wikitools/petscango/internal/tooldb"
	"github.com/wikitools/petscango/internal/wikiapi"
)

// Driver owns the collaborators a full pipeline run needs: the Broker
// (shared with the sources and the post-processor's own hydration
// queries), the MediaWiki API client, and the tool database for PSID
// overlay. The Driver owns these; sources and the post-processor only
// borrow them for the run's duration.
type Driver struct {
	Broker *broker.Broker
	API    *wikiapi.Client
	Tooldb *tooldb.Store
	Env    *sources.Env
}

// New wires a Driver around the given collaborators. tdb may be nil, in
// which case PSID overlay is skipped and any psid parameter is ignored.
func New(b *broker.Broker, api *wikiapi.Client, tdb *tooldb.Store) *Driver {
	return &Driver{Broker: b, API: api, Tooldb: tdb, Env: sources.NewEnv(b, api)}
}

// Run executes the full pipeline for p: PSID overlay, source resolution,
// combination evaluation, and the post-processor cascade.
func (d *Driver) Run(ctx context.Context, p *params.Bag) (*pageset.PageSet, error) {
	p, err := d.overlayPSID(ctx, p)
	if err != nil {
		return nil, err
	}

	available := availableSources(p)
	if len(available) == 0 {
		return pageset.New(p.Get("language", "enwiki")), nil
	}

	expr := combinationExpr(p, available)
	post, err := combination.Postorder(expr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	results, err := d.runSources(ctx, p, available, post)
	if err != nil {
		return nil, err
	}

	combined, err := d.evaluate(ctx, post, results)
	if err != nil {
		return nil, err
	}

	return d.postprocess(ctx, p, combined)
}

// overlayPSID handles the psid parameter: when it names a previously
// persisted query, that query's parameters are parsed and the current
// request's parameters are overlaid on top, so freshly supplied values
// win per-key over the persisted ones.
func (d *Driver) overlayPSID(ctx context.Context, p *params.Bag) (*params.Bag, error) {
	psid := p.Get("psid", "")
	if psid == "" || d.Tooldb == nil {
		return p, nil
	}
	raw, err := d.Tooldb.LoadPSID(ctx, psid)
	if err != nil {
		return nil, fmt.Errorf("pipeline: loading psid %s: %w", psid, err)
	}
	persisted, err := params.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parsing persisted query for psid %s: %w", psid, err)
	}
	return persisted.Overlay(p), nil
}

// availableSources asks every known Source whether it can run against p.
func availableSources(p *params.Bag) []sources.Source {
	var out []sources.Source
	for _, s := range sources.All() {
		if s.CanRun(p) {
			out = append(out, s)
		}
	}
	return out
}

// combinationExpr returns the caller-supplied combination if present and
// parseable, otherwise the left-folded intersection of every available
// source.
func combinationExpr(p *params.Bag, available []sources.Source) *combination.Expr {
	if raw := p.Get("source_combination", ""); raw != "" {
		if expr := combination.Parse(raw); !expr.IsNone() {
			return expr
		}
	}
	names := make([]string, len(available))
	for i, s := range available {
		names[i] = s.Name()
	}
	return combination.DefaultCombination(names)
}

// runSources launches source.Run concurrently for every Source leaf
// actually referenced by the post-order, and awaits all of them.
func (d *Driver) runSources(ctx context.Context, p *params.Bag, available []sources.Source, post []combination.PostItem) (map[string]*pageset.PageSet, error) {
	byName := make(map[string]sources.Source, len(available))
	for _, s := range available {
		byName[s.Name()] = s
	}

	needed := make(map[string]bool)
	for _, item := range post {
		if item.Op == combination.OpSource {
			needed[item.Name] = true
		}
	}

	results := make(map[string]*pageset.PageSet, len(needed))
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	for name := range needed {
		name := name
		src, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("pipeline: no available source named %q", name)
		}
		group.Go(func() error {
			result, err := src.Run(groupCtx, p, d.Env)
			if err != nil {
				return fmt.Errorf("pipeline: source %q: %w", name, err)
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// evaluate runs the post-order against results. combination.Evaluate's
// combine callbacks have no error return, so cross-wiki conversion
// failures are captured in opErr and surfaced after Evaluate returns;
// once opErr is set, later callbacks become no-ops that just pass their
// left operand through.
func (d *Driver) evaluate(ctx context.Context, post []combination.PostItem, results map[string]*pageset.PageSet) (*pageset.PageSet, error) {
	var opErr error

	wrap := func(op func(a, b *pageset.PageSet) (*pageset.PageSet, error)) func(a, b *pageset.PageSet) *pageset.PageSet {
		return func(a, b *pageset.PageSet) *pageset.PageSet {
			if opErr != nil {
				return a
			}
			result, err := d.combineWithConversion(ctx, op, a, b)
			if err != nil {
				opErr = err
				return a
			}
			return result
		}
	}

	union := wrap(func(a, b *pageset.PageSet) (*pageset.PageSet, error) { return a.Union(b) })
	intersect := wrap(func(a, b *pageset.PageSet) (*pageset.PageSet, error) { return a.Intersection(b) })
	difference := wrap(func(a, b *pageset.PageSet) (*pageset.PageSet, error) { return a.Difference(b) })

	combined, err := combination.Evaluate(post, results, union, intersect, difference)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opErr != nil {
		return nil, opErr
	}
	return combined, nil
}

// combineWithConversion runs op(a, b); on ErrWikiMismatch it converts the
// smaller operand to the other's wiki and retries once.
func (d *Driver) combineWithConversion(ctx context.Context, op func(a, b *pageset.PageSet) (*pageset.PageSet, error), a, b *pageset.PageSet) (*pageset.PageSet, error) {
	result, err := op(a, b)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, pageset.ErrWikiMismatch) {
		return nil, err
	}
	if a.Len() <= b.Len() {
		converted, cerr := d.ConvertSet(ctx, a, b.Wiki())
		if cerr != nil {
			return nil, cerr
		}
		return op(converted, b)
	}
	converted, cerr := d.ConvertSet(ctx, b, a.Wiki())
	if cerr != nil {
		return nil, cerr
	}
	return op(a, converted)
}
