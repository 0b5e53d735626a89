// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT
// Package sqlbatch implements the SQL Batcher: it splits a Page Set into
// namespace-grouped title chunks, runs them concurrently against a
// wiki's replica connection, and joins the returned rows back onto an
// in-memory Page Set.
package sqlbatch

import "strings"

// retryDecision is the batcher's substring-matched error-text decision
// table, deliberately isolated so it can be tested without a live
// database. It is a small ordered table, not a type switch on driver
// error types, because the only signal MySQL/MariaDB gives us for these
// conditions is the error text.
type retryDecision int

const (
	retryNone retryDecision = iota
	retryBackoff
	retryShrinkChunk
)

// classifyError maps a driver error's text to a retry decision:
// "max_user_connections" backs off and retries indefinitely; "packet too
// large" (or MySQL's "max_allowed_packet" text) halves the batch and
// retries until a single-title chunk still fails (then fails with
// ErrCapacity); anything else propagates.
func classifyError(err error) retryDecision {
	if err == nil {
		return retryNone
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "max_user_connections"):
		return retryBackoff
	case strings.Contains(msg, "packet too large"), strings.Contains(msg, "max_allowed_packet"):
		return retryShrinkChunk
	default:
		return retryNone
	}
}
