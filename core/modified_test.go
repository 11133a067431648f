package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iturovskiy/blockmesh/core"
)

// TestModifiedQuorumWithholdsCommit delays one home node's gossip: a block
// whose shared count is below its participant count must stay pending, and
// commit only once every home has gossiped it.
func TestModifiedQuorumWithholdsCommit(t *testing.T) {
	m := newMesh(t, core.Modified, 3)
	s1, s2, s3 := m.stgs[0], m.stgs[1], m.stgs[2]
	a := m.user(t, core.Modified, "alice", s1)
	b := m.user(t, core.Modified, "bob", s2)

	blk, err := a.Perform([]string{"bob"}, map[string]any{"x": 1})
	require.NoError(t, err)
	require.NotNil(t, blk)
	// The sender's home and the receiver's home both queued the block.
	require.Equal(t, 1, s1.QueueLen())
	require.Equal(t, 1, s2.QueueLen())
	require.Equal(t, 0, s3.QueueLen())

	// Only the sender's home gossips; every node sees count 1 < 2 and
	// withholds without dropping the submission.
	s1.PerformStep1()
	for _, s := range m.stgs {
		require.NoError(t, s.PerformStep2(1))
	}
	assert.Equal(t, core.GenesisBlock, a.Head())
	assert.Equal(t, 1, s1.BlockCount(), "nothing committed yet")
	assert.Equal(t, 1, s1.QueueLen(), "withheld block stays queued")

	// Both homes gossip within the same window; counts reach the
	// participant count and the commit proceeds everywhere.
	s1.PerformStep1()
	s2.PerformStep1()
	for _, s := range m.stgs {
		require.NoError(t, s.PerformStep2(2))
	}
	hash := blk.Hash()
	assert.Equal(t, hash, a.Head())
	assert.Equal(t, hash, b.Head())
	for _, s := range m.stgs {
		head, _ := s.Head("alice")
		assert.Equal(t, hash, head, "head on %s", s.ID())
		assert.Equal(t, 2, s.BlockCount(), "block count on %s", s.ID())
	}
	assert.Equal(t, 0, s1.QueueLen())
	assert.Equal(t, 0, s2.QueueLen())
	requireConverged(t, s1, s2, s3)
}

// TestModifiedGenerationThrottle allows one outstanding submission: a
// second Perform before the commit returns nothing, and delivery of the
// committed block re-arms the sender.
func TestModifiedGenerationThrottle(t *testing.T) {
	m := newMesh(t, core.Modified, 2)
	s1, s2 := m.stgs[0], m.stgs[1]
	a := m.user(t, core.Modified, "alice", s1)
	b := m.user(t, core.Modified, "bob", s2)

	require.True(t, a.GenerationAllowed())
	first, err := a.Perform([]string{"bob"}, nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.False(t, a.GenerationAllowed())

	second, err := a.Perform([]string{"bob"}, nil)
	require.NoError(t, err)
	assert.Nil(t, second, "throttled submission returns nothing")

	m.round(t, 1)

	assert.Equal(t, first.Hash(), a.Head())
	assert.True(t, a.GenerationAllowed(), "commit delivery re-arms the sender")
	assert.True(t, b.GenerationAllowed(), "receiver was never throttled")

	third, err := a.Perform([]string{"bob"}, nil)
	require.NoError(t, err)
	require.NotNil(t, third)
}

// TestModifiedSameHomeCounting homes both participants on one node: the
// submit plus the receiver-side submit raise the queue count to the
// participant count, so a single gossip satisfies the quorum.
func TestModifiedSameHomeCounting(t *testing.T) {
	m := newMesh(t, core.Modified, 2)
	s1 := m.stgs[0]
	a := m.user(t, core.Modified, "alice", s1)
	b := m.user(t, core.Modified, "bob", s1)

	blk, err := a.Perform([]string{"bob"}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, s1.QueueLen(), "sender and receiver submissions accumulate")

	s1.PerformStep1()
	for _, s := range m.stgs {
		require.NoError(t, s.PerformStep2(1))
	}
	assert.Equal(t, blk.Hash(), a.Head())
	assert.Equal(t, blk.Hash(), b.Head())
	assert.Equal(t, 0, s1.QueueLen())
	requireConverged(t, m.stgs[0], m.stgs[1])
}

// TestModifiedGossipFairnessCap checks that the per-round gossip cap of
// |users| admits as many pending blocks as the node homes participants.
func TestModifiedGossipFairnessCap(t *testing.T) {
	m := newMesh(t, core.Modified, 2)
	s1, s2 := m.stgs[0], m.stgs[1]
	a := m.user(t, core.Modified, "alice", s1)
	c := m.user(t, core.Modified, "carol", s1)
	m.user(t, core.Modified, "bob", s2)
	m.user(t, core.Modified, "dave", s2)

	b1, err := a.Perform([]string{"bob"}, nil)
	require.NoError(t, err)
	b2, err := c.Perform([]string{"dave"}, nil)
	require.NoError(t, err)
	require.NotNil(t, b1)
	require.NotNil(t, b2)

	// Two homed participants, two pending blocks: the cap admits both and
	// one full round commits them together (disjoint participants).
	m.round(t, 1)
	assert.Equal(t, b1.Hash(), a.Head())
	assert.Equal(t, b2.Hash(), c.Head())
	requireConverged(t, s1, s2)
}
