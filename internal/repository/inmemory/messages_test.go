package inmemory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miles-six/hub-monorepo/pkg/types"
)

func hash(b byte) types.MessageHash {
	var h types.MessageHash
	h[0] = b
	return h
}

func TestMessageStore_PutAndRead(t *testing.T) {
	t.Parallel()

	s := NewMessageStore()
	s.Put(
		types.Message{Hash: hash(2), Fid: 1, Timestamp: 20, Body: types.SignedData{}},
		types.Message{Hash: hash(1), Fid: 1, Timestamp: 10, Body: types.SignedData{}},
		types.Message{Hash: hash(3), Fid: 2, Timestamp: 5, Body: types.SignedData{}},
	)

	msgs, err := s.MessagesByFid(t.Context(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, hash(1), msgs[0].Hash)
	require.Equal(t, hash(2), msgs[1].Hash)
	require.Equal(t, 1, s.Reads())

	msgs, err = s.MessagesByFid(t.Context(), 99)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMessageStore_Delete(t *testing.T) {
	t.Parallel()

	s := NewMessageStore()
	s.Put(types.Message{Hash: hash(1), Fid: 1})

	require.NoError(t, s.DeleteMessage(t.Context(), 1, hash(1)))
	require.False(t, s.Has(1, hash(1)))
	require.NoError(t, s.DeleteMessage(t.Context(), 1, hash(1)), "absent message")
	require.Equal(t, 0, s.Count(1))
	require.Equal(t, 2, s.Deletes())
}

func TestMessageStore_InjectedErrors(t *testing.T) {
	t.Parallel()

	s := NewMessageStore()
	s.Put(types.Message{Hash: hash(1), Fid: 1})
	boom := errors.New("boom")

	s.FailReads(1, boom)
	_, err := s.MessagesByFid(t.Context(), 1)
	require.ErrorIs(t, err, boom)
	_, _, err = s.LatestUsernameProofTimestamp(t.Context(), 1)
	require.ErrorIs(t, err, boom)
	s.FailReads(1, nil)
	_, err = s.MessagesByFid(t.Context(), 1)
	require.NoError(t, err)

	s.FailDelete(hash(1), boom)
	require.ErrorIs(t, s.DeleteMessage(t.Context(), 1, hash(1)), boom)
	require.True(t, s.Has(1, hash(1)))
}

func TestMessageStore_LatestUsernameProofTimestamp(t *testing.T) {
	t.Parallel()

	s := NewMessageStore()
	_, ok, err := s.LatestUsernameProofTimestamp(t.Context(), 1)
	require.NoError(t, err)
	require.False(t, ok)

	s.Put(
		types.Message{Hash: hash(1), Fid: 1, Type: types.MessageTypeCastAdd, Timestamp: 500},
		types.Message{Hash: hash(2), Fid: 1, Type: types.MessageTypeUsernameProof, Timestamp: 100, Body: &types.UsernameProof{}},
		types.Message{Hash: hash(3), Fid: 1, Type: types.MessageTypeUsernameProof, Timestamp: 300, Body: &types.UsernameProof{}},
	)

	ts, ok, err := s.LatestUsernameProofTimestamp(t.Context(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(300), ts)
	require.Equal(t, 0, s.Reads(), "proof lookups do not count as message enumeration")
}
