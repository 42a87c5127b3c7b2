package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panfm/panfm/pkg/security"
	"github.com/panfm/panfm/pkg/types"
)

func openTestRegistry(t *testing.T, maxEnabled int) *Registry {
	t.Helper()
	cipher, err := security.NewCipherFromPassphrase("registry-test")
	require.NoError(t, err)

	r, err := Open(t.TempDir(), cipher, maxEnabled)
	require.NoError(t, err)
	return r
}

func testDevice(name string) *types.Device {
	return &types.Device{
		Name:    name,
		Host:    name + ".example.com",
		APIKey:  "LUFRPT1" + name,
		Enabled: true,
	}
}

func TestCreateAndGet(t *testing.T) {
	r := openTestRegistry(t, 0)

	d := testDevice("edge-fw")
	require.NoError(t, r.Create(d))
	assert.NotEmpty(t, d.ID, "Create assigns an ID")
	assert.False(t, d.CreatedAt.IsZero())

	got, err := r.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "edge-fw", got.Name)
	assert.Equal(t, "LUFRPT1edge-fw", got.APIKey, "Get decrypts the API key")
}

func TestGetNotFound(t *testing.T) {
	r := openTestRegistry(t, 0)
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	r := openTestRegistry(t, 0)

	tests := []struct {
		name   string
		device *types.Device
	}{
		{name: "nil device", device: nil},
		{name: "missing name", device: &types.Device{Host: "h", APIKey: "k"}},
		{name: "missing host", device: &types.Device{Name: "n", APIKey: "k"}},
		{name: "missing api key", device: &types.Device{Name: "n", Host: "h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.Create(tt.device))
		})
	}
}

func TestListSortedByName(t *testing.T) {
	r := openTestRegistry(t, 0)

	for _, name := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, r.Create(testDevice(name)))
	}

	devices, err := r.List()
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "alpha", devices[0].Name)
	assert.Equal(t, "mike", devices[1].Name)
	assert.Equal(t, "zulu", devices[2].Name)
}

func TestListEnabled(t *testing.T) {
	r := openTestRegistry(t, 0)

	on := testDevice("on")
	off := testDevice("off")
	off.Enabled = false
	require.NoError(t, r.Create(on))
	require.NoError(t, r.Create(off))

	enabled, err := r.ListEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].Name)
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	r := openTestRegistry(t, 0)

	d := testDevice("edge")
	require.NoError(t, r.Create(d))
	created := d.CreatedAt

	d.Host = "new-host.example.com"
	require.NoError(t, r.Update(d))

	got, err := r.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-host.example.com", got.Host)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.False(t, got.UpdatedAt.Before(created))
}

func TestUpdateNotFound(t *testing.T) {
	r := openTestRegistry(t, 0)
	d := testDevice("ghost")
	d.ID = "no-such-id"
	assert.ErrorIs(t, r.Update(d), ErrNotFound)
}

func TestDelete(t *testing.T) {
	r := openTestRegistry(t, 0)

	d := testDevice("gone")
	require.NoError(t, r.Create(d))
	require.NoError(t, r.Delete(d.ID))

	_, err := r.Get(d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Delete(d.ID), ErrNotFound)
}

func TestDeviceLimit(t *testing.T) {
	r := openTestRegistry(t, 2)

	require.NoError(t, r.Create(testDevice("one")))
	require.NoError(t, r.Create(testDevice("two")))

	third := testDevice("three")
	assert.ErrorIs(t, r.Create(third), ErrDeviceLimit)

	// Disabled creates are always allowed.
	third.Enabled = false
	require.NoError(t, r.Create(third))

	// Enabling past the cap fails; re-saving an already enabled device does not.
	third.Enabled = true
	assert.ErrorIs(t, r.Update(third), ErrDeviceLimit)

	one, err := r.List()
	require.NoError(t, err)
	for _, d := range one {
		if d.Enabled {
			d.Group = "prod"
			assert.NoError(t, r.Update(d), "updating an enabled device must not trip the cap")
			break
		}
	}
}

func TestRecordsEncryptedAtRest(t *testing.T) {
	cipher, err := security.NewCipherFromPassphrase("at-rest")
	require.NoError(t, err)

	dir := t.TempDir()
	r, err := Open(dir, cipher, 0)
	require.NoError(t, err)

	d := testDevice("secret-holder")
	require.NoError(t, r.Create(d))

	raw, err := os.ReadFile(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), d.APIKey, "API key must not appear in the file")
	assert.NotContains(t, string(raw), "secret-holder", "record fields must not appear in the file")
}

// Two handles on the same file stand in for the scheduler and the API server
// sharing one registry: no handle holds the lock between operations, so a
// write through one is immediately visible to the other.
func TestSharedFileAcrossHandles(t *testing.T) {
	cipher, err := security.NewCipherFromPassphrase("shared")
	require.NoError(t, err)

	dir := t.TempDir()
	writer, err := Open(dir, cipher, 0)
	require.NoError(t, err)
	reader, err := Open(dir, cipher, 0)
	require.NoError(t, err)

	d := testDevice("branch-fw")
	require.NoError(t, writer.Create(d))

	got, err := reader.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "branch-fw", got.Name)

	d.Enabled = false
	require.NoError(t, writer.Update(d))

	enabled, err := reader.ListEnabled()
	require.NoError(t, err)
	assert.Empty(t, enabled)
}

func TestCount(t *testing.T) {
	r := openTestRegistry(t, 0)

	require.NoError(t, r.Create(testDevice("a")))
	off := testDevice("b")
	off.Enabled = false
	require.NoError(t, r.Create(off))

	total, enabled, err := r.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, enabled)
}
