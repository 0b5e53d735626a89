// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT
// Package sources implements the eight independent page-list producers:
// categories, sparql, manual, pagepile, search, sitelinks, labels,
// wikidata. Each is a small Source implementation that only knows how to
// build its own Page Set; combining them is internal/pipeline's job.
package sources

import (
	"context"
	"net/http"
	"time"

	"github.com/wikitools/petscango/internal/broker"
	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
	"github.com/wikitools/petscango/internal/sqlbatch"
	"github.com/wikitools/petscango/internal/wikiapi"
)

// Source produces one named Page Set from request parameters.
type Source interface {
	Name() string
	CanRun(p *params.Bag) bool
	Run(ctx context.Context, p *params.Bag, env *Env) (*pageset.PageSet, error)
}

// Env bundles the collaborators every source needs: a connection broker
// for replica/termstore SQL, a batcher built on top of it, a MediaWiki API
// client, and a plain HTTP client for SPARQL/PagePile endpoints.
type Env struct {
	Broker   *broker.Broker
	API      *wikiapi.Client
	HTTP     *http.Client
	BatchNew func(wiki string) *sqlbatch.Batcher
}

// NewEnv wires a default Env around b, reusing a single Batcher factory so
// every source shares the broker's retry telemetry.
func NewEnv(b *broker.Broker, api *wikiapi.Client) *Env {
	return &Env{
		Broker: b,
		API:    api,
		HTTP:   &http.Client{Timeout: 120 * time.Second},
		BatchNew: func(wiki string) *sqlbatch.Batcher {
			return &sqlbatch.Batcher{
				Acquire: func(ctx context.Context, wiki string) (sqlbatch.Conn, error) {
					return b.Replica(ctx, wiki)
				},
				OnRetry: b.RecordRetry,
			}
		},
	}
}

// All returns every source, used by internal/pipeline.Driver to resolve
// names in a combination expression.
func All() []Source {
	return []Source{
		&Categories{},
		&SPARQL{},
		&Manual{},
		&PagePile{},
		&Search{},
		&Sitelinks{},
		&Labels{},
		&Wikidata{},
	}
}
