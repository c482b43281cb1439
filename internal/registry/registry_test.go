package registry

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/models"
	"panel-backup/internal/state"
	"panel-backup/internal/vault"
)

func newTestRegistry(t *testing.T) (*Registry, *state.FileBackend) {
	t.Helper()
	backend, err := state.NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)

	cipher, err := vault.NewCipher(bytes.Repeat([]byte{0x42}, vault.KeySize))
	require.NoError(t, err)

	reg := New(vault.NewStore(backend, cipher, nil), nil)
	reg.now = func() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) }
	return reg, backend
}

func host(name string) models.HostRecord {
	return models.HostRecord{Name: name, BaseURL: "http://" + name + ".example:2053", Username: "admin", Password: "secret-" + name}
}

func TestRegistryAddListPersistsEncrypted(t *testing.T) {
	ctx := context.Background()
	reg, backend := newTestRegistry(t)

	index, err := reg.Add(ctx, host("A"))
	require.NoError(t, err)
	assert.Equal(t, 0, index)

	hosts, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "secret-A", hosts[0].Password)
	require.NotNil(t, hosts[0].AddedAt)

	raw, err := os.ReadFile(backend.HostsPath())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-A", "no plaintext password at rest")
	assert.Contains(t, string(raw), vault.FieldPrefix)
}

func TestRegistryUpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	for _, name := range []string{"A", "B", "C"} {
		_, err := reg.Add(ctx, host(name))
		require.NoError(t, err)
	}

	edited := host("B")
	edited.Password = "rotated"
	require.NoError(t, reg.Update(ctx, 1, edited))

	got, err := reg.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Password)

	removed, err := reg.Remove(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "A", removed.Name)

	hosts, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "B", hosts[0].Name, "indices shift after removal")
}

func TestRegistryOutOfRange(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	_, err := reg.Add(ctx, host("A"))
	require.NoError(t, err)

	for _, index := range []int{-1, 1, 99} {
		_, err := reg.Remove(ctx, index)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound), "remove %d", index)

		err = reg.Update(ctx, index, host("X"))
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound), "update %d", index)

		_, err = reg.Get(ctx, index)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound), "get %d", index)
	}

	hosts, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, hosts, 1, "failed mutations leave the registry untouched")
}

func TestRegistryDuplicateIsAllowed(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Add(ctx, host("A"))
	require.NoError(t, err)
	index, err := reg.Add(ctx, host("A"))
	require.NoError(t, err)
	assert.Equal(t, 1, index)
}

func TestRegistryRememberPath(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Add(ctx, host("A"))
	require.NoError(t, err)
	_, err = reg.Add(ctx, host("B"))
	require.NoError(t, err)

	target := host("B")
	// A removal between listing and remembering shifts B to index 0
	_, err = reg.Remove(ctx, 0)
	require.NoError(t, err)

	at := time.Date(2026, 10, 2, 3, 0, 0, 0, time.UTC)
	changed, err := reg.RememberPath(ctx, target, "/panel/api/server/getDb", &at)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := reg.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "/panel/api/server/getDb", got.DiscoveredPath)
	require.NotNil(t, got.LastBackupAt)
	assert.True(t, at.Equal(*got.LastBackupAt))

	changed, err = reg.RememberPath(ctx, target, "/panel/api/server/getDb", nil)
	require.NoError(t, err)
	assert.False(t, changed, "same path is not rewritten")

	_, err = reg.RememberPath(ctx, host("gone"), "/server/getDb", nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestScheduleStoreDefaults(t *testing.T) {
	ctx := context.Background()
	backend, err := state.NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)
	store := NewScheduleStore(backend, nil)

	assert.Equal(t, models.DefaultSchedule(), store.Load(ctx))

	require.NoError(t, store.Save(ctx, models.ScheduleSetting{IntervalSeconds: 600}))
	loaded := store.Load(ctx)
	assert.EqualValues(t, 600, loaded.IntervalSeconds)
	assert.Equal(t, "Every 10 minutes", loaded.Label, "missing label is derived")

	require.NoError(t, os.WriteFile(backend.SchedulePath(), []byte("garbage"), 0600))
	assert.Equal(t, models.DefaultSchedule(), store.Load(ctx))
}
