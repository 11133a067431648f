package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iturovskiy/blockmesh/core"
	"github.com/iturovskiy/blockmesh/internal/testutil"
)

// TestConnectHeadMismatch attaches a participant carrying a head that
// disagrees with the mesh record: the attach must fail hard.
func TestConnectHeadMismatch(t *testing.T) {
	m := newMesh(t, core.Classic, 1)
	s1 := m.stgs[0]
	m.user(t, core.Classic, "alice", s1)

	_, err := core.NewUser(core.Classic, testutil.NewMemBlockStore(), "alice", "sign-alice",
		s1, "bogus-head", m.lg)
	assert.ErrorIs(t, err, core.ErrHeadMismatch)

	// An empty head adopts the mesh record instead.
	u, err := core.NewUser(core.Classic, testutil.NewMemBlockStore(), "alice", "sign-alice",
		s1, "", m.lg)
	require.NoError(t, err)
	assert.Equal(t, core.GenesisBlock, u.Head())
}

func TestUserUnknownMode(t *testing.T) {
	m := newMesh(t, core.Classic, 1)
	_, err := core.NewUser(core.Mode("turbo"), testutil.NewMemBlockStore(), "alice", "s",
		m.stgs[0], "", m.lg)
	assert.Error(t, err)
}

// TestReceiveChainMismatchIsFatal delivers a block whose recorded parent
// disagrees with the participant's head: corruption, not a refusal.
func TestReceiveChainMismatchIsFatal(t *testing.T) {
	m := newMesh(t, core.Classic, 1)
	a := m.user(t, core.Classic, "alice", m.stgs[0])

	blk := core.NewBlock(testTx("alice", "bob"), 1)
	blk.Parents = map[string]string{"alice": "someone-elses-head", "bob": core.GenesisBlock}
	blk.SetApproved(true)

	err := a.ReceiveFromStorage(blk)
	assert.Error(t, err)
	assert.Equal(t, core.GenesisBlock, a.Head())
}

// TestReceiveMissingChainFileRefuses breaks the participant's stored chain
// and delivers the next block: the commit is refused without error and the
// head stays put.
func TestReceiveMissingChainFileRefuses(t *testing.T) {
	m := newMesh(t, core.Classic, 1)
	s1 := m.stgs[0]
	store := testutil.NewMemBlockStore()
	a, err := core.NewUser(core.Classic, store, "alice", "sa", s1, "", m.lg)
	require.NoError(t, err)
	m.user(t, core.Classic, "bob", s1)

	first, err := a.Perform([]string{"bob"}, nil)
	require.NoError(t, err)
	m.round(t, 1)
	require.Equal(t, first.Hash(), a.Head())

	store.DeleteBlock(first.Hash())

	next := core.NewBlock(testTx("alice", "bob"), 50)
	next.Parents = map[string]string{"alice": first.Hash(), "bob": first.Hash()}
	next.SetApproved(true)
	require.NoError(t, a.ReceiveFromStorage(next))
	assert.Equal(t, first.Hash(), a.Head(), "refused commit leaves the head untouched")
	assert.Equal(t, 1, a.BlockCount())
}

// TestRejectedDeliveryIsNoOp mirrors the gossip reject path: an
// unapproved block never advances the chain.
func TestRejectedDeliveryIsNoOp(t *testing.T) {
	m := newMesh(t, core.Classic, 1)
	a := m.user(t, core.Classic, "alice", m.stgs[0])

	blk := core.NewBlock(testTx("alice", "bob"), 1)
	blk.SetApproved(false)
	require.NoError(t, a.ReceiveFromStorage(blk))
	assert.Equal(t, core.GenesisBlock, a.Head())
	assert.Equal(t, 0, a.BlockCount())
}

// TestChainWalkAndIndex commits a few blocks and checks the participant's
// chain is strictly linear down to genesis.
func TestChainWalkAndIndex(t *testing.T) {
	m := newMesh(t, core.Classic, 1)
	s1 := m.stgs[0]
	a := m.user(t, core.Classic, "alice", s1)
	m.user(t, core.Classic, "bob", s1)

	hashes := []string{}
	for i := 1; i <= 3; i++ {
		blk, err := a.Perform([]string{"bob"}, map[string]any{"i": i})
		require.NoError(t, err)
		m.round(t, i)
		hashes = append(hashes, blk.Hash())
	}
	require.Equal(t, hashes[2], a.Head())
	assert.Equal(t, 3, a.BlockCount())

	index, err := a.IndexBlocks()
	require.NoError(t, err)
	// Head-to-genesis order: newest first after the genesis sentinel.
	assert.Equal(t, []string{core.GenesisBlock, hashes[2], hashes[1], hashes[0]}, index)
}

func TestChangeStorage(t *testing.T) {
	m := newMesh(t, core.Classic, 2)
	s1, s2 := m.stgs[0], m.stgs[1]
	a := m.user(t, core.Classic, "alice", s1)
	m.user(t, core.Classic, "bob", s1)

	require.NoError(t, a.ChangeStorage(s2))
	assert.Same(t, s2, a.Storage())

	// The participant keeps transacting through its new home.
	blk, err := a.Perform([]string{"bob"}, nil)
	require.NoError(t, err)
	require.NotNil(t, blk)
	m.round(t, 1)
	assert.Equal(t, blk.Hash(), a.Head())

	s2.Disable()
	assert.ErrorIs(t, a.ChangeStorage(s2), core.ErrUnavailable)
}

// TestUserSaveLoad round-trips a participant HEAD record and recovers the
// chain length by walking the stored blocks.
func TestUserSaveLoad(t *testing.T) {
	m := newMesh(t, core.Classic, 1)
	s1 := m.stgs[0]
	store := testutil.NewMemBlockStore()
	a, err := core.NewUser(core.Classic, store, "alice", "sa", s1, "", m.lg)
	require.NoError(t, err)
	m.user(t, core.Classic, "bob", s1)

	_, err = a.Perform([]string{"bob"}, nil)
	require.NoError(t, err)
	m.round(t, 1)
	require.NoError(t, a.Save())
	require.NoError(t, s1.DisconnectUser(a))

	restored, err := core.LoadUser(store, s1, m.lg)
	require.NoError(t, err)
	assert.Equal(t, a.Addr(), restored.Addr())
	assert.Equal(t, a.Head(), restored.Head())
	assert.Equal(t, 1, restored.BlockCount())
}
