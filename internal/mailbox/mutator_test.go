package mailbox

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmail/kestrel/pkg/types"
)

type storeCall struct {
	accountID string
	folder    string
	uids      []uint32
	flag      string
	add       bool
}

type recordingWriter struct {
	calls   []storeCall
	deletes []storeCall
	err     error
}

func (w *recordingWriter) StoreFlags(accountID, folder string, uids []uint32, flag string, add bool) error {
	w.calls = append(w.calls, storeCall{accountID, folder, uids, flag, add})
	return w.err
}

func (w *recordingWriter) DeleteMessages(accountID, folder string, uids []uint32) error {
	w.deletes = append(w.deletes, storeCall{accountID: accountID, folder: folder, uids: uids})
	return w.err
}

type recordingFlagCache struct {
	calls []storeCall
	err   error
}

func (c *recordingFlagCache) SetFlag(accountID, folder string, uids []uint32, flag string, add bool) error {
	c.calls = append(c.calls, storeCall{accountID, folder, uids, flag, add})
	return c.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMutator(writer *recordingWriter, cache *recordingFlagCache) (*Mutator, *Listing, *Dispatcher) {
	dispatch := NewDispatcher()
	listing := NewListing()
	return NewMutator(writer, cache, listing, dispatch, quietLogger()), listing, dispatch
}

func TestGroupByFolderOneGroupPerPair(t *testing.T) {
	groups := groupByFolder([]types.MessageHeader{
		header("a", "INBOX", 1),
		header("a", "Archive", 2),
		header("a", "INBOX", 3),
		header("b", "INBOX", 4),
	})

	require.Len(t, groups, 3)
	assert.Equal(t, []uint32{1, 3}, groups[0].uids)
	assert.Equal(t, "Archive", groups[1].folder)
	assert.Equal(t, "b", groups[2].accountID)
}

func TestGroupByFolderDeduplicatesUIDs(t *testing.T) {
	groups := groupByFolder([]types.MessageHeader{
		header("a", "INBOX", 1),
		header("a", "INBOX", 1),
		header("a", "INBOX", 2),
	})

	require.Len(t, groups, 1)
	assert.Equal(t, []uint32{1, 2}, groups[0].uids)
}

func TestApplyOneCommandPerGroup(t *testing.T) {
	writer := &recordingWriter{}
	cache := &recordingFlagCache{}
	m, listing, dispatch := newTestMutator(writer, cache)
	defer dispatch.Close()

	selection := []types.MessageHeader{
		header("a", "INBOX", 1),
		header("a", "INBOX", 2),
		header("a", "Archive", 7),
	}
	dispatch.Call(func() { listing.Replace(selection) })

	require.NoError(t, m.Apply(selection, types.FlagSeen, true))
	require.Len(t, writer.calls, 2)
	assert.Equal(t, []uint32{1, 2}, writer.calls[0].uids)
	assert.Equal(t, "INBOX", writer.calls[0].folder)
	assert.Equal(t, []uint32{7}, writer.calls[1].uids)
	assert.True(t, writer.calls[0].add)

	for _, h := range listing.Headers() {
		assert.True(t, h.HasFlag(types.FlagSeen))
	}
	assert.Len(t, cache.calls, 2)
}

func TestApplyReconcilesListingOnNetworkFailure(t *testing.T) {
	writer := &recordingWriter{err: errors.New("server unreachable")}
	cache := &recordingFlagCache{}
	m, listing, dispatch := newTestMutator(writer, cache)
	defer dispatch.Close()

	selection := []types.MessageHeader{header("a", "INBOX", 1)}
	dispatch.Call(func() { listing.Replace(selection) })

	err := m.Apply(selection, types.FlagFlagged, true)
	require.Error(t, err)

	h, ok := listing.Get("INBOX", 1)
	require.True(t, ok)
	assert.True(t, h.HasFlag(types.FlagFlagged))
	assert.Len(t, cache.calls, 1)
}

func TestApplyAttemptsEveryGroupAndReturnsFirstError(t *testing.T) {
	writer := &recordingWriter{err: errors.New("nope")}
	cache := &recordingFlagCache{}
	m, _, dispatch := newTestMutator(writer, cache)
	defer dispatch.Close()

	err := m.Apply([]types.MessageHeader{
		header("a", "INBOX", 1),
		header("a", "Archive", 2),
	}, types.FlagSeen, true)

	require.Error(t, err)
	assert.Len(t, writer.calls, 2)
}

func TestApplySkipsNetworkForLocalOnlyEntries(t *testing.T) {
	writer := &recordingWriter{}
	cache := &recordingFlagCache{}
	m, _, dispatch := newTestMutator(writer, cache)
	defer dispatch.Close()

	require.NoError(t, m.Apply([]types.MessageHeader{
		header("a", "", 5),
	}, types.FlagSeen, true))

	assert.Empty(t, writer.calls)
	assert.Empty(t, cache.calls)
}
