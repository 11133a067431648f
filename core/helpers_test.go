package core_test

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iturovskiy/blockmesh/core"
	"github.com/iturovskiy/blockmesh/internal/testutil"
	"github.com/iturovskiy/blockmesh/timeserver"
)

func quietLogger() *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return lg
}

// mesh is a fully connected set of storage nodes sharing one logical clock.
type mesh struct {
	stgs  []*core.Storage
	clock *timeserver.Logical
	lg    *logrus.Logger
}

func newMesh(t *testing.T, mode core.Mode, n int) *mesh {
	t.Helper()
	m := &mesh{clock: timeserver.NewLogical(0), lg: quietLogger()}
	m.stgs = make([]*core.Storage, n)
	for i := range m.stgs {
		stg := newStorageNode(t, mode, nodeID(i), m.clock, m.lg, nil)
		if i > 0 {
			require.NoError(t, stg.JoinMesh(m.stgs[0]))
		}
		m.stgs[i] = stg
	}
	return m
}

func nodeID(i int) string {
	return string(rune('A' + i))
}

func newStorageNode(t *testing.T, mode core.Mode, id string, clock timeserver.Source,
	lg *logrus.Logger, validate core.ValidateFunc) *core.Storage {
	t.Helper()
	stg, err := core.NewStorage(id, mode, testutil.NewMemBlockStore(), clock, validate, nil, lg)
	require.NoError(t, err)
	return stg
}

func (m *mesh) user(t *testing.T, mode core.Mode, addr string, stg *core.Storage) *core.User {
	t.Helper()
	u, err := core.NewUser(mode, testutil.NewMemBlockStore(), addr, "sign-"+addr, stg, "", m.lg)
	require.NoError(t, err)
	return u
}

// round runs step 1 then step 2 with the given index on every node.
func (m *mesh) round(t *testing.T, iter int) {
	t.Helper()
	for _, s := range m.stgs {
		s.PerformStep1()
	}
	for _, s := range m.stgs {
		require.NoError(t, s.PerformStep2(iter))
	}
}

// requireConverged asserts that every available node shares the same
// reachable index and head table.
func requireConverged(t *testing.T, stgs ...*core.Storage) {
	t.Helper()
	base := stgs[0]
	baseIndex, err := base.IndexBlocks()
	require.NoError(t, err)
	for _, s := range stgs[1:] {
		index, err := s.IndexBlocks()
		require.NoError(t, err)
		require.True(t, baseIndex.Equal(index), "index of %s differs from %s", s.ID(), base.ID())
		require.Equal(t, base.Heads(), s.Heads(), "head table of %s differs from %s", s.ID(), base.ID())
	}
}
