package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnumerator struct {
	links   []Link
	addrs   []LinkAddress
	linkErr error
	addrErr error
}

func (f *fakeEnumerator) Links(context.Context) ([]Link, error) { return f.links, f.linkErr }

func (f *fakeEnumerator) Addresses(context.Context) ([]LinkAddress, error) {
	return f.addrs, f.addrErr
}

func TestSyncInitialEnumeration(t *testing.T) {
	r := New(Options{MaxAddresses: -1})
	e := &fakeEnumerator{
		links: []Link{
			{Index: 1, Name: "lo", Up: true},
			{Index: 2, Name: "eth0", Up: false},
		},
		addrs: []LinkAddress{
			{Index: 1, Address: v4("127.0.0.1", 8)},
			{Index: 2, Address: v4("10.0.0.5", 24)},
			{Index: 2, Address: v4("10.0.0.9", 0)},
			{Index: 7, Address: v4("192.168.0.1", 24)},
		},
	}

	stats, err := Sync(context.Background(), r, e, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Links: 2, Addresses: 2, Skipped: 2}, stats)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "lo", snap[0].Name)
	assert.True(t, snap[0].Up)
	assert.Equal(t, "eth0", snap[1].Name)
	assert.False(t, snap[1].Up)
	assert.Equal(t, []Address{v4("10.0.0.5", 24)}, snap[1].Addresses)
}

func TestSyncReconcilesExistingState(t *testing.T) {
	r := New(Options{})
	r.UpsertByIndex(1, "lo")
	r.UpsertByIndex(3, "gone0")
	r.UpsertByIndex(4, "")
	require.NoError(t, r.AddAddress(1, v4("127.0.0.1", 8)))
	require.NoError(t, r.AddAddress(1, v4("10.9.9.9", 32)))

	e := &fakeEnumerator{
		links: []Link{
			{Index: 1, Name: "lo", Up: true},
			{Index: 4, Name: "wg0", Up: true},
		},
		addrs: []LinkAddress{
			{Index: 1, Address: v4("127.0.0.1", 8)},
		},
	}

	stats, err := Sync(context.Background(), r, e, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)

	_, ok := r.FindByIndex(3)
	assert.False(t, ok)

	wg, ok := r.FindByIndex(4)
	require.True(t, ok)
	assert.Equal(t, "wg0", wg.Name)
	assert.False(t, wg.Provisional)

	lo, _ := r.FindByIndex(1)
	assert.Equal(t, []Address{v4("127.0.0.1", 8)}, lo.Addresses)
}

func TestSyncErrors(t *testing.T) {
	boom := errors.New("boom")

	_, err := Sync(context.Background(), New(Options{}), &fakeEnumerator{linkErr: boom}, zerolog.Nop())
	assert.ErrorIs(t, err, boom)

	r := New(Options{})
	_, err = Sync(context.Background(), r, &fakeEnumerator{
		links:   []Link{{Index: 1, Name: "lo"}},
		addrErr: boom,
	}, zerolog.Nop())
	assert.ErrorIs(t, err, boom)
	// Links from the first pass stay.
	assert.Equal(t, 1, r.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Sync(ctx, New(Options{}), &fakeEnumerator{}, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
}
