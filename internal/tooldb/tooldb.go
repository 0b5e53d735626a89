// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT
// Package tooldb implements the auxiliary tool database: persisted query
// strings (PSIDs) and in-flight started_queries tracking.
package tooldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// ErrNotFound is returned when a PSID has no matching row.
var ErrNotFound = errors.New("tooldb: psid not found")

// Conn is the connection shape tooldb needs; satisfied by
// broker.Broker.ToolDatabase's return value.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// ConnAcquirer hands out a tool-database Conn.
type ConnAcquirer func(ctx context.Context) (Conn, error)

// Store wraps the query/started_queries tables.
type Store struct {
	Acquire ConnAcquirer
}

// New returns a Store wired to acquire.
func New(acquire ConnAcquirer) *Store {
	return &Store{Acquire: acquire}
}

// SavePSID persists querystring and returns a newly generated PSID, using
// xid for a compact, sortable, coordination-free id: concurrent web
// workers never need to round-trip through the database to learn their
// own id.
func (s *Store) SavePSID(ctx context.Context, querystring string) (string, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	id := xid.New().String()
	_, err = conn.ExecContext(ctx,
		"INSERT INTO query (id, querystring, created) VALUES (?, ?, ?)",
		id, querystring, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("tooldb: saving psid: %w", err)
	}
	return id, nil
}

// LoadPSID looks up the querystring for a previously saved PSID.
func (s *Store) LoadPSID(ctx context.Context, psid string) (string, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	var querystring string
	err = conn.QueryRowContext(ctx, "SELECT querystring FROM query WHERE id = ?", psid).Scan(&querystring)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("tooldb: loading psid %s: %w", psid, err)
	}
	return querystring, nil
}

// StartedQuery tracks one in-flight request, so an out-of-band reaper can
// find and clean up orphans from crashed processes. This module only
// records and removes its own row, never another process's.
type StartedQuery struct {
	ID         int64
	Querystring string
	ProcessID  string
	Created    time.Time
}

// BeginStartedQuery records querystring as in-flight under a fresh
// process id (uuid, the same correlation-id scheme internal/broker.Broker.ID
// uses) and returns a done func that removes the row; callers should defer
// done().
func (s *Store) BeginStartedQuery(ctx context.Context, querystring string) (done func(context.Context) error, err error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	processID := uuid.NewString()
	result, err := conn.ExecContext(ctx,
		"INSERT INTO started_queries (querystring, created, process_id) VALUES (?, ?, ?)",
		querystring, time.Now().UTC(), processID)
	if err != nil {
		return nil, fmt.Errorf("tooldb: recording started query: %w", err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("tooldb: reading started query id: %w", err)
	}

	return func(ctx context.Context) error {
		conn, err := s.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		_, err = conn.ExecContext(ctx, "DELETE FROM started_queries WHERE id = ? AND process_id = ?", rowID, processID)
		if err != nil {
			return fmt.Errorf("tooldb: clearing started query %d: %w", rowID, err)
		}
		return nil
	}, nil
}
