// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT
// Package wikiapi is a small MediaWiki action=query client, generalized
// from a single hardcoded *.wikipedia.org host to an arbitrary wiki host,
// since sources talk to many wikis, not just Wikipedia.
package wikiapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBatchSize is the titles-per-request cap the MediaWiki API enforces
// for non-bot accounts.
const DefaultBatchSize = 50

// Client issues action=query requests against a configurable wiki host.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// New returns a Client. userAgent should identify the tool per Wikimedia
// API etiquette.
func New(userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		userAgent:  userAgent,
	}
}

// PageInfo is one page's resolved identity: its normalized/redirect-target
// title, namespace, and whether the API reported it missing.
type PageInfo struct {
	Title     string
	Namespace int
	Missing   bool
}

// ResolveTitles looks up titles on host (e.g. "en.wikipedia.org"),
// following redirects and normalization, batched to DefaultBatchSize per
// request. The returned map is keyed by the ORIGINAL requested title, with
// PageInfo.Title holding the resolved form.
func (c *Client) ResolveTitles(ctx context.Context, host string, titles []string) (map[string]PageInfo, error) {
	result := make(map[string]PageInfo, len(titles))
	for i := 0; i < len(titles); i += DefaultBatchSize {
		end := i + DefaultBatchSize
		if end > len(titles) {
			end = len(titles)
		}
		if err := c.resolveBatch(ctx, host, titles[i:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Client) resolveBatch(ctx context.Context, host string, batch []string, out map[string]PageInfo) error {
	form := url.Values{}
	form.Set("action", "query")
	form.Set("prop", "info")
	form.Set("titles", strings.Join(batch, "|"))
	form.Set("redirects", "1")
	form.Set("format", "json")
	form.Set("formatversion", "2")

	var resp struct {
		Query struct {
			Normalized []struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"normalized"`
			Redirects []struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"redirects"`
			Pages []struct {
				Title     string `json:"title"`
				Namespace int    `json:"ns"`
				Missing   bool   `json:"missing"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := c.post(ctx, host, form, &resp); err != nil {
		return err
	}

	byTitle := make(map[string]PageInfo, len(resp.Query.Pages))
	for _, p := range resp.Query.Pages {
		byTitle[p.Title] = PageInfo{Title: p.Title, Namespace: p.Namespace, Missing: p.Missing}
	}

	resolved := make(map[string]string, len(batch))
	for _, t := range batch {
		resolved[t] = t
	}
	for _, n := range resp.Query.Normalized {
		resolved[n.From] = n.To
	}
	redirectTo := make(map[string]string, len(resp.Query.Redirects))
	for _, r := range resp.Query.Redirects {
		redirectTo[r.From] = r.To
	}

	for _, original := range batch {
		finalTitle := resolved[original]
		if to, ok := redirectTo[finalTitle]; ok {
			finalTitle = to
		}
		if info, ok := byTitle[finalTitle]; ok {
			out[original] = info
		} else {
			out[original] = PageInfo{Title: finalTitle, Missing: true}
		}
	}
	return nil
}

// SearchResult is one hit from a list=search query.
type SearchResult struct {
	Title     string
	Namespace int
}

// Search runs a list=search query against host, limited to namespace.
// offset paginates via sroffset.
func (c *Client) Search(ctx context.Context, host, query string, namespace, limit, offset int) ([]SearchResult, error) {
	form := url.Values{}
	form.Set("action", "query")
	form.Set("list", "search")
	form.Set("srsearch", query)
	form.Set("srnamespace", strconv.Itoa(namespace))
	form.Set("srlimit", strconv.Itoa(limit))
	if offset > 0 {
		form.Set("sroffset", strconv.Itoa(offset))
	}
	form.Set("format", "json")
	form.Set("formatversion", "2")

	var resp struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
				Ns    int    `json:"ns"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := c.post(ctx, host, form, &resp); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(resp.Query.Search))
	for _, s := range resp.Query.Search {
		out = append(out, SearchResult{Title: s.Title, Namespace: s.Ns})
	}
	return out, nil
}

// post sends form to host's api.php with exponential backoff on 429/5xx.
func (c *Client) post(ctx context.Context, host string, form url.Values, out any) error {
	endpoint := host + "/w/api.php"
	if !strings.Contains(host, "://") {
		endpoint = fmt.Sprintf("https://%s/w/api.php", host)
	}
	body, err := c.doWithBackoff(ctx, endpoint, form)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("wikiapi: decoding response from %s: %w", host, err)
	}
	return nil
}

func (c *Client) doWithBackoff(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	const maxAttempts = 4
	baseDelay := 300 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(form.Encode())))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !sleepBackoff(ctx, attempt, baseDelay) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			resp.Body.Close()
			if !sleepBackoff(ctx, attempt, baseDelay) {
				return nil, ctx.Err()
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("wikiapi: reading response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("wikiapi: %s returned status %d", endpoint, resp.StatusCode)
		}
		return body, nil
	}
	return nil, fmt.Errorf("wikiapi: %s: max retries exceeded", endpoint)
}

func sleepBackoff(ctx context.Context, attempt int, base time.Duration) bool {
	delay := time.Duration(math.Pow(2, float64(attempt))) * base
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
