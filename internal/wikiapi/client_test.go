// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package wikiapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTitlesFollowsRedirectsAndNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"query": {
				"normalized": [{"from": "san_francisco", "to": "San francisco"}],
				"redirects": [{"from": "San francisco", "to": "San Francisco"}],
				"pages": [{"title": "San Francisco", "ns": 0, "missing": false}]
			}
		}`))
	}))
	defer srv.Close()

	c := New("test-agent")
	host := srv.URL
	result, err := c.ResolveTitles(context.Background(), host, []string{"san_francisco"})
	require.NoError(t, err)
	info, ok := result["san_francisco"]
	require.True(t, ok)
	assert.Equal(t, "San Francisco", info.Title)
	assert.False(t, info.Missing)
}

func TestResolveTitlesMarksMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query": {"pages": [{"title": "Nonexistent Page", "ns": 0, "missing": true}]}}`))
	}))
	defer srv.Close()

	c := New("test-agent")
	result, err := c.ResolveTitles(context.Background(), srv.URL, []string{"Nonexistent Page"})
	require.NoError(t, err)
	assert.True(t, result["Nonexistent Page"].Missing)
}

func TestSearchParsesHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "search", r.Form.Get("list"))
		w.Write([]byte(`{"query": {"search": [{"title": "Go (programming language)", "ns": 0}]}}`))
	}))
	defer srv.Close()

	c := New("test-agent")
	results, err := c.Search(context.Background(), srv.URL, "golang", 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Go (programming language)", results[0].Title)
}

func TestDoWithBackoffRetriesOn503(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"query": {"pages": [{"title": "A", "ns": 0}]}}`))
	}))
	defer srv.Close()

	c := New("test-agent")
	result, err := c.ResolveTitles(context.Background(), srv.URL, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "A", result["A"].Title)
}
