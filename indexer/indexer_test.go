package indexer_test

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iturovskiy/blockmesh/events"
	"github.com/iturovskiy/blockmesh/indexer"
	"github.com/iturovskiy/blockmesh/internal/testutil"
)

func TestIndexerRecordsCommits(t *testing.T) {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	em := events.NewEmitter(lg)
	idx := indexer.New(testutil.NewMemDB(), em, lg)

	em.Emit(events.Event{Type: events.EventBlockCommitted, Node: "A",
		BlockHash: "h1", Participants: []string{"alice", "bob"}, Round: 1})
	em.Emit(events.Event{Type: events.EventBlockCommitted, Node: "A",
		BlockHash: "h2", Participants: []string{"alice"}, Round: 2})
	// A replayed commit must not duplicate history.
	em.Emit(events.Event{Type: events.EventBlockCommitted, Node: "A",
		BlockHash: "h1", Participants: []string{"alice", "bob"}, Round: 1})

	got, err := idx.BlocksByParticipant("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, got)

	got, err = idx.BlocksByParticipant("bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, got)

	got, err = idx.BlocksByParticipant("nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}
