package maildrop

import (
	"testing"

	"github.com/dunlinmail/dunlin/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotResolveBeforeBuild(t *testing.T) {
	var s Snapshot
	assert.False(t, s.Built())

	_, err := s.Resolve(1)
	assert.ErrorIs(t, err, consts.ErrNotListed)
}

func TestSnapshotBuildAssignsListingOrder(t *testing.T) {
	var s Snapshot
	s.build([]ListEntry{
		{MessageID: 42, Checksum: "aaa", Size: 100},
		{MessageID: 7, Checksum: "bbb", Size: 250},
		{MessageID: 99, Checksum: "ccc", Size: 50},
	})

	require.True(t, s.Built())
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, int64(400), s.TotalSize())

	// Sequence numbers follow listing order, not message id order
	id, err := s.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	e, err := s.Entry(2)
	require.NoError(t, err)
	assert.Equal(t, Entry{Seq: 2, MessageID: 7, Checksum: "bbb", Size: 250}, e)

	_, err = s.Resolve(0)
	assert.ErrorIs(t, err, consts.ErrSequenceNotFound)
	_, err = s.Resolve(4)
	assert.ErrorIs(t, err, consts.ErrSequenceNotFound)
}

func TestSnapshotEmptyListing(t *testing.T) {
	var s Snapshot
	s.build(nil)

	require.True(t, s.Built())
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, int64(0), s.TotalSize())

	_, err := s.Resolve(1)
	assert.ErrorIs(t, err, consts.ErrSequenceNotFound)
}
