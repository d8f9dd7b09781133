// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_InMemory(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)

	s.SetMaxSpeed(45)
	s.SetLightEnabled(true)
	require.NoError(t, s.Commit())

	v := s.Values()
	assert.Equal(t, 45, v.MaxSpeed)
	assert.True(t, v.LightEnabled)
}

func TestStore_CommitAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	s, err := NewStore(path)
	require.NoError(t, err)
	s.SetMaxSpeed(38)
	s.SetPedalTilt(-2)
	s.SetSpeakerMute(true)
	s.SetHandleButtonDisabled(true)
	require.NoError(t, s.Commit())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_speed: 38")

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, s.Values(), reloaded.Values())
}

func TestStore_CommitOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	s, err := NewStore(path)
	require.NoError(t, err)
	s.SetSpeakerVolume(50)
	require.NoError(t, s.Commit())

	// Remove the file; an unchanged store must not rewrite it
	require.NoError(t, os.Remove(path))
	s.SetSpeakerVolume(50)
	require.NoError(t, s.Commit())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	s.SetSpeakerVolume(60)
	require.NoError(t, s.Commit())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestNewStore_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_speed: [1"), 0o644))

	_, err := NewStore(path)
	assert.Error(t, err)
}
