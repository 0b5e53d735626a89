// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import (
	"context"
	"fmt"

	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
)

// Manual splits the manual_list parameter by newline and resolves each
// non-empty line as a title via the declared wiki's API.
type Manual struct{}

func (Manual) Name() string { return "manual" }

func (Manual) CanRun(p *params.Bag) bool { return p.Has("manual_list") }

func (m Manual) Run(ctx context.Context, p *params.Bag, env *Env) (*pageset.PageSet, error) {
	wiki := p.Get("manual_list_wiki", p.Get("language", "enwiki"))
	host := p.Get("manual_list_host", DBNameToHost(wiki, p.Get("language", "enwiki")))

	lines := p.GetLines("manual_list")
	result := pageset.New(wiki)
	if len(lines) == 0 {
		return result, nil
	}

	resolved, err := env.API.ResolveTitles(ctx, host, lines)
	if err != nil {
		return nil, fmt.Errorf("sources: manual: resolving titles: %w", err)
	}
	for _, line := range lines {
		info, ok := resolved[line]
		if !ok || info.Missing {
			continue
		}
		result.Add(&pageset.PageEntry{Title: pageset.NewTitle(info.Namespace, info.Title)})
	}
	return result, nil
}
