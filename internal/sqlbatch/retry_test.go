// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sqlbatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want retryDecision
	}{
		{nil, retryNone},
		{errors.New("Error 1203: max_user_connections exceeded"), retryBackoff},
		{errors.New("ERROR 2020 (HY000): Got packet bigger than 'max_allowed_packet' bytes: packet too large"), retryShrinkChunk},
		{errors.New("Error 1064: syntax error near 'SELECT'"), retryNone},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classifyError(c.err))
	}
}
