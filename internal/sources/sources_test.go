// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikitools/petscango/internal/params"
)

func TestCanRunGates(t *testing.T) {
	withManual := params.FromValues(map[string][]string{"manual_list": {"A\nB"}})
	assert.True(t, Manual{}.CanRun(withManual))
	assert.False(t, Manual{}.CanRun(params.FromValues(nil)))

	withSearch := params.FromValues(map[string][]string{"search_query": {"golang"}})
	assert.True(t, Search{}.CanRun(withSearch))

	withCats := params.FromValues(map[string][]string{"categories": {"Foo"}})
	assert.True(t, Categories{}.CanRun(withCats))
}

func TestDbnameToHost(t *testing.T) {
	assert.Equal(t, "www.wikidata.org", DBNameToHost("wikidatawiki", "en"))
	assert.Equal(t, "commons.wikimedia.org", DBNameToHost("commonswiki", "en"))
	assert.Equal(t, "en.wikipedia.org", DBNameToHost("enwiki", "en"))
	assert.Equal(t, "fr.wiktionary.org", DBNameToHost("frwiktionary", "en"))
	assert.Equal(t, "en.wikipedia.org", DBNameToHost("", "en"))
}

func TestEntityIDFromURI(t *testing.T) {
	assert.Equal(t, "Q42", entityIDFromURI("http://www.wikidata.org/entity/Q42"))
	assert.Equal(t, "", entityIDFromURI("http://example.org/not-wikidata"))
}

func TestDecodeSparqlBindingsStreamsURIs(t *testing.T) {
	doc := `{
		"head": {"vars": ["item"]},
		"results": {
			"bindings": [
				{"item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q1"}},
				{"item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q2"}},
				{"item": {"type": "literal", "value": "not a uri"}}
			]
		}
	}`

	var got []string
	err := decodeSparqlBindings(strings.NewReader(doc), func(uri string) {
		got = append(got, uri)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://www.wikidata.org/entity/Q1",
		"http://www.wikidata.org/entity/Q2",
	}, got)
}

func TestSelectedTermTypesFromCheckboxes(t *testing.T) {
	p := params.FromValues(nil)
	assert.Equal(t, []int(nil), selectedTermTypes(p))

	p2 := params.FromValues(map[string][]string{"cb_labels_alias": {"1"}})
	assert.Equal(t, []int{termTypeAlias}, selectedTermTypes(p2))
}
