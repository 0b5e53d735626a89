// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package combination

import "errors"

// ErrMalformed is returned by the parser and by the strict constructors
// above when an expression cannot be built into a valid Combination tree.
var ErrMalformed = errors.New("malformed combination expression")
