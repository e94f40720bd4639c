package mpi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// sameRegion reports whether two slices are the identical memory region.
func sameRegion(a, b []byte) bool {
	return len(a) == len(b) && len(a) > 0 && &a[0] == &b[0]
}

// With size = 5 the ring runs exactly 4 communication steps, each pairing
// the right neighbor for the send with the left neighbor for the receive,
// walking the forwarded block index downward mod size.
func TestRingSteps(t *testing.T) {
	const size, count = 5, 2
	cluster := NewLocalCluster(size)
	for r := 0; r < size; r++ {
		g := NewGroup(cluster[r])
		send := &Buffer{Data: contribution(r, count), Count: count, Type: Byte}
		recv := &Buffer{Data: make([]byte, size*count), Count: count, Type: Byte}
		s := newSchedule(g)
		require.NoError(t, ringGather{}.schedule(send, recv, g, s))
		s.Barrier()

		// seed copy plus size-1 transfer steps
		require.Len(t, s.phases, size)
		require.Len(t, s.phases[0], 1)
		require.Equal(t, stepCopy, s.phases[0][0].kind)

		left := (size + r - 1) % size
		right := (r + 1) % size
		j := r
		jnext := left
		for i := 1; i < size; i++ {
			phase := s.phases[i]
			require.Lenf(t, phase, 2, "rank %d step %d", r, i)
			require.Equal(t, stepSend, phase[0].kind)
			require.Equalf(t, right, phase[0].peer, "rank %d step %d sends right", r, i)
			require.True(t, sameRegion(recv.block(j), phase[0].data),
				"rank %d step %d forwards block %d", r, i, j)
			require.Equal(t, stepRecv, phase[1].kind)
			require.Equalf(t, left, phase[1].peer, "rank %d step %d receives from the left", r, i)
			require.True(t, sameRegion(recv.block(jnext), phase[1].data),
				"rank %d step %d fills block %d", r, i, jnext)
			j = jnext
			jnext = (size + jnext - 1) % size
		}
	}
}

// In-place skips the seed copy; the contribution is already at its block.
func TestRingInPlace(t *testing.T) {
	const size, count = 3, 1
	cluster := NewLocalCluster(size)
	g := NewGroup(cluster[0])
	recv := &Buffer{Data: make([]byte, size*count), Count: count, Type: Byte}
	s := newSchedule(g)
	require.NoError(t, ringGather{}.schedule(InPlace, recv, g, s))
	s.Barrier()
	require.Len(t, s.phases, size-1)
	for _, phase := range s.phases {
		for _, st := range phase {
			require.NotEqual(t, stepCopy, st.kind)
		}
	}
}

func TestRingSingleRank(t *testing.T) {
	cluster := NewLocalCluster(1)
	data := []byte{5}
	recv := make([]byte, 1)
	send := &Buffer{Data: data, Count: 1, Type: Byte}
	cfg := DefaultConfig()
	cfg.IntraAlgorithm = Ring
	withConfig(t, cfg)
	require.NoError(t, AllGather(send, &Buffer{Data: recv, Count: 1, Type: Byte}, NewGroup(cluster[0]), cluster[0]))
	require.Equal(t, data, recv)
}
