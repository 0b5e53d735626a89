// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/wikitools/petscango/internal/params"
	"github.com/wikitools/petscango/internal/pageset"
)

// sparqlTimeout bounds a single SPARQL request.
const sparqlTimeout = 120 * time.Second

// wikidataQueryService is the default SPARQL endpoint.
const wikidataQueryService = "https://query.wikidata.org/sparql"

// qleverEndpoint is the alternative SPARQL endpoint, requiring a prefix
// block prepended to bare queries.
const qleverEndpoint = "https://qlever.cs.uni-freiburg.de/api/wikidata"

// qleverPrefixBlock is prepended to queries sent to QLever, which (unlike
// the Wikidata Query Service) doesn't predeclare wd:/wdt:/etc.
const qleverPrefixBlock = `PREFIX wd: <http://www.wikidata.org/entity/>
PREFIX wdt: <http://www.wikidata.org/prop/direct/>
PREFIX p: <http://www.wikidata.org/prop/>
PREFIX ps: <http://www.wikidata.org/prop/statement/>
PREFIX pq: <http://www.wikidata.org/prop/qualifier/>
PREFIX rdfs: <http://www.w3.org/2000/01/rdf-schema#>
`

// SPARQL POSTs a query to the Wikidata Query Service (default) or QLever
// (alternative), parses the W3C SPARQL JSON result, takes the first
// variable, and maps each entity URI binding to an entity pseudo-title
// It decodes with jsoniter's streaming API,
// binding-by-binding, to keep memory bounded on large result sets.
type SPARQL struct{}

func (SPARQL) Name() string { return "sparql" }

func (SPARQL) CanRun(p *params.Bag) bool { return p.Has("sparql_query") }

func (s SPARQL) Run(ctx context.Context, p *params.Bag, env *Env) (*pageset.PageSet, error) {
	query := p.Get("sparql_query", "")
	result := pageset.New("wikidatawiki")
	if query == "" {
		return result, nil
	}

	endpoint := wikidataQueryService
	if p.Get("sparql_endpoint", "") == "qlever" {
		endpoint = qleverEndpoint
		query = qleverPrefixBlock + query
	}

	ctx, cancel := context.WithTimeout(ctx, sparqlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("query="+query))
	if err != nil {
		return nil, fmt.Errorf("sources: sparql: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := env.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sources: sparql: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("sources: sparql: endpoint returned status %d", resp.StatusCode)
	}

	if err := decodeSparqlBindings(resp.Body, func(uri string) {
		qid := entityIDFromURI(uri)
		if qid == "" {
			return
		}
		ns := pageset.NamespaceItem
		if strings.HasPrefix(qid, "P") {
			ns = pageset.NamespaceProperty
		}
		result.Add(&pageset.PageEntry{Title: pageset.NewTitle(ns, qid)})
	}); err != nil {
		return nil, fmt.Errorf("sources: sparql: decoding result: %w", err)
	}
	return result, nil
}

// sparqlBinding is one variable's value within a single result row.
type sparqlBinding struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// sparqlResult is one row of bindings, keyed by variable name.
type sparqlResult map[string]sparqlBinding

// decodeSparqlBindings streams the W3C SPARQL JSON results document with
// jsoniter's encoding/json-compatible Decoder, walking top-level keys with
// Token() and decoding the "results.bindings" array one element at a time
// instead of unmarshaling the whole document, so memory stays bounded on
// large result sets, a streaming variant of the same query. It reports the
// value of the first variable bound in each row.
func decodeSparqlBindings(body io.Reader, onURI func(uri string)) error {
	dec := jsoniter.NewDecoder(body)
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		key, err := nextKey(dec)
		if err != nil {
			return err
		}
		if key != "results" {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}
		if err := decodeResultsObject(dec, onURI); err != nil {
			return err
		}
	}
	return nil
}

func decodeResultsObject(dec *jsoniter.Decoder, onURI func(uri string)) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		key, err := nextKey(dec)
		if err != nil {
			return err
		}
		if key != "bindings" {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}
		if err := expectDelim(dec, '['); err != nil {
			return err
		}
		for dec.More() {
			var row sparqlResult
			if err := dec.Decode(&row); err != nil {
				return err
			}
			for _, binding := range row {
				if binding.Type == "uri" {
					onURI(binding.Value)
				}
				break // first bound variable only
			}
		}
		if _, err := dec.Token(); err != nil { // consume ']'
			return err
		}
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return err
	}
	return nil
}

func expectDelim(dec *jsoniter.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if _, ok := tok.(json.Delim); !ok {
		return fmt.Errorf("sources: sparql: expected delimiter %q, got %v", want, tok)
	}
	return nil
}

func nextKey(dec *jsoniter.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("sources: sparql: expected object key, got %v", tok)
	}
	return key, nil
}

// skipValue discards the next JSON value (scalar, object, or array) by
// decoding it into a throwaway interface{}.
func skipValue(dec *jsoniter.Decoder) error {
	var discard interface{}
	return dec.Decode(&discard)
}

// entityIDFromURI extracts a Wikidata Q-id from a full entity URI,
// returning "" if uri isn't a recognizable Wikidata item/property URI.
func entityIDFromURI(uri string) string {
	const prefix = "http://www.wikidata.org/entity/"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	return strings.TrimPrefix(uri, prefix)
}
