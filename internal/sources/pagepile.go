// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
)

// pagePileEndpoint is the well-known PagePile bundle-fetch endpoint.
const pagePileEndpoint = "https://pagepile.toolforge.org/api.php"

// pagePileTimeout bounds a single PagePile bundle fetch.
const pagePileTimeout = 240 * time.Second

// PagePile fetches a JSON bundle by numeric id and resolves each listed
// page via the target wiki's API.
type PagePile struct{}

func (PagePile) Name() string { return "pagepile" }

func (PagePile) CanRun(p *params.Bag) bool { return p.Has("pagepile") }

func (s PagePile) Run(ctx context.Context, p *params.Bag, env *Env) (*pageset.PageSet, error) {
	id := p.Get("pagepile", "")
	if id == "" {
		return pageset.New(""), nil
	}

	ctx, cancel := context.WithTimeout(ctx, pagePileTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pagePileEndpoint+"?id="+id+"&action=get_data&format=json", nil)
	if err != nil {
		return nil, fmt.Errorf("sources: pagepile: %w", err)
	}
	resp, err := env.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sources: pagepile: fetching bundle %s: %w", id, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sources: pagepile: reading bundle %s: %w", id, err)
	}

	var bundle struct {
		Wiki  string   `json:"wiki"`
		Pages []string `json:"pages"`
	}
	if err := jsoniter.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("sources: pagepile: decoding bundle %s: %w", id, err)
	}

	// PagePile reports the wiki as a dbname (e.g. "enwiki"); the API client
	// resolves titles against a host, so translate dbname -> host the same
	// way the manual source's caller would configure it.
	apiHost := DBNameToHost(bundle.Wiki, p.Get("language", "enwiki"))

	result := pageset.New(bundle.Wiki)
	if len(bundle.Pages) == 0 {
		return result, nil
	}
	resolved, err := env.API.ResolveTitles(ctx, apiHost, bundle.Pages)
	if err != nil {
		return nil, fmt.Errorf("sources: pagepile: resolving titles: %w", err)
	}
	for _, title := range bundle.Pages {
		info, ok := resolved[title]
		if !ok || info.Missing {
			continue
		}
		result.Add(&pageset.PageEntry{Title: pageset.NewTitle(info.Namespace, info.Title)})
	}
	return result, nil
}

// DBNameToHost maps a replica database name (e.g. "enwiki", "commonswiki")
// to the public wiki host the action API lives on. Wikidata and Commons
// are special-cased; a dbname ending in wiki, wiktionary, wikibooks,
// wikisource, wikiquote or wikivoyage maps to <lang>.<project host>
// (wiki -> wikipedia.org); anything else is assumed to be a Wikipedia
// language edition.
func DBNameToHost(dbname, fallbackLang string) string {
	switch dbname {
	case "wikidatawiki":
		return "www.wikidata.org"
	case "commonswiki":
		return "commons.wikimedia.org"
	case "":
		return fallbackLang + ".wikipedia.org"
	default:
		lang := dbname
		for _, suffix := range []string{"wiki", "wiktionary", "wikibooks", "wikisource", "wikiquote", "wikivoyage"} {
			if len(dbname) > len(suffix) && dbname[len(dbname)-len(suffix):] == suffix {
				lang = dbname[:len(dbname)-len(suffix)]
				return lang + "." + projectHost(suffix)
			}
		}
		return lang + ".wikipedia.org"
	}
}

func projectHost(suffix string) string {
	switch suffix {
	case "wiki":
		return "wikipedia.org"
	default:
		return suffix + ".org"
	}
}
