package mpi

// ringGather is the nearest-neighbor pipeline all-gather, used for long
// messages and awkward group sizes. After seeding the own block, each of the
// size-1 steps sends the block currently held to the right neighbor while
// receiving the next block from the left neighbor, walking the block index
// downward mod size. The send and receive of one step are concurrent; the
// barrier between steps is required because the next step forwards the block
// just received.
type ringGather struct{}

func (ringGather) schedule(sendbuf, recvbuf *Buffer, g *Group, s *Schedule) error {
	rank, size := g.Rank(), g.Size()

	if !sendbuf.inPlace() {
		s.Copy(recvbuf.block(rank), sendbuf.bytes())
		s.Barrier()
	}

	left := (size + rank - 1) % size
	right := (rank + 1) % size

	j := rank
	jnext := left
	for i := 1; i < size; i++ {
		s.Send(recvbuf.block(j), g.peer(right))
		// concurrent, no barrier between the pair
		s.Recv(recvbuf.block(jnext), g.peer(left))
		s.Barrier()
		j = jnext
		jnext = (size + jnext - 1) % size
	}
	return nil
}
