// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT
// Package broker implements the Connection Broker: per-wiki pooled
// connections to the replica cluster and the dedicated Wikidata termstore
// (X3) cluster, credential resolution, and the transient-failure retry
// policy shared with internal/sqlbatch.
package broker

import "errors"

// ErrCredential is returned when no replica or termstore credentials can be
// resolved.
var ErrCredential = errors.New("broker: no resolvable database credentials")
