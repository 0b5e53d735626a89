// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasGetDefault(t *testing.T) {
	b, err := Parse("foo=bar&empty=&ns%5B0%5D=1&ns%5B14%5D=1")
	require.NoError(t, err)

	assert.True(t, b.Has("foo"))
	assert.False(t, b.Has("empty"), "present but empty must count as absent")
	assert.False(t, b.Has("missing"))

	assert.Equal(t, "bar", b.Get("foo", "default"))
	assert.Equal(t, "default", b.Get("empty", "default"))
	assert.Equal(t, "default", b.Get("missing", "default"))

	assert.Equal(t, map[int]bool{0: true, 14: true}, b.Namespaces())
}

func TestGetListClean(t *testing.T) {
	raw := "manual_list=Alpha Bravo\n‎Beta\n \nGamma‏"
	b, err := Parse(raw)
	require.NoError(t, err)

	got := b.GetLines("manual_list")
	assert.Equal(t, []string{"Alpha_Bravo", "Beta", "Gamma"}, got)
}

func TestGetBoolCheckbox(t *testing.T) {
	b, err := Parse("a=1&b=0&c=false&d=yes&e=")
	require.NoError(t, err)
	assert.True(t, b.GetBool("a"))
	assert.False(t, b.GetBool("b"))
	assert.False(t, b.GetBool("c"))
	assert.True(t, b.GetBool("d"))
	assert.False(t, b.GetBool("e"))
	assert.False(t, b.GetBool("missing"))
}

func TestOverlayPrecedence(t *testing.T) {
	base, err := Parse("language=en&project=wikipedia&ns%5B0%5D=1")
	require.NoError(t, err)
	fresh, err := Parse("language=de")
	require.NoError(t, err)

	merged := base.Overlay(fresh)
	assert.Equal(t, "de", merged.Get("language", ""))
	assert.Equal(t, "wikipedia", merged.Get("project", ""))
	assert.True(t, merged.Namespaces()[0])
}
