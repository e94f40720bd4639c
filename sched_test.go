package mpi

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// Steps separated by barriers run strictly in order: later copies of the
// same cell win.
func TestScheduleBarrierOrder(t *testing.T) {
	cluster := NewLocalCluster(1)
	g := NewGroup(cluster[0])

	cell := make([]byte, 1)
	s := newSchedule(g)
	s.Copy(cell, []byte{1})
	s.Barrier()
	s.Copy(cell, []byte{2})
	s.Barrier()
	s.Copy(cell, []byte{3})

	require.NoError(t, s.run(cluster[0]))
	require.Equal(t, []byte{3}, cell)
}

// An empty barrier records no phase, and a schedule flushes its trailing
// steps when drained.
func TestScheduleEmptyBarrier(t *testing.T) {
	cluster := NewLocalCluster(1)
	g := NewGroup(cluster[0])
	s := newSchedule(g)
	s.Barrier()
	s.Barrier()
	require.Empty(t, s.phases)
	s.Copy(make([]byte, 1), []byte{1})
	require.NoError(t, s.run(cluster[0]))
	require.Len(t, s.phases, 1)
}

// Send and receive inside one phase are concurrent, so a rank exchanging
// with itself must not deadlock.
func TestScheduleSelfExchange(t *testing.T) {
	cluster := NewLocalCluster(1)
	g := NewGroup(cluster[0])

	out := []byte{9}
	in := make([]byte, 1)
	s := newSchedule(g)
	s.Send(out, 0)
	s.Recv(in, 0)
	s.Barrier()

	require.NoError(t, s.run(cluster[0]))
	require.Equal(t, out, in)
}

// The failure flag keeps the first local error, is raised by remote reports,
// and folds to a single result.
func TestFailureFlag(t *testing.T) {
	f := new(failureFlag)
	require.False(t, f.raised())
	require.NoError(t, f.summary())

	f.markRemote()
	require.True(t, f.raised())
	require.ErrorIs(t, f.summary(), ErrRemoteFailure)

	first := errors.New("first")
	f.fail(first)
	f.fail(errors.New("second"))
	require.ErrorIs(t, f.summary(), first)
}

// The per-group tag derivation separates contexts, calls, and phases.
func TestGroupTags(t *testing.T) {
	a, err := NewIntraGroup(1, 0, []int{0, 1})
	require.NoError(t, err)
	b, err := NewIntraGroup(2, 0, []int{0, 1})
	require.NoError(t, err)

	seqA := a.nextSeq()
	require.NotEqual(t, a.tag(seqA, 0), a.tag(seqA, 1))
	require.NotEqual(t, a.tag(seqA, 0), a.tag(a.nextSeq(), 0))
	require.NotEqual(t, a.tag(seqA, 0), b.tag(seqA, 0))
}
