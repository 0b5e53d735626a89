// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresCredentials(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrCredential)
}

func TestNewSucceedsWithExplicitCredentials(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	b, err := New(Config{ReplicaUser: "u1", ReplicaPassword: "p1"})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID())
}
