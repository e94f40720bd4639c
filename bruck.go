package mpi

// bruckGather is the dissemination all-gather of Bruck et al., used for
// short messages on groups of any size. The local contribution is rotated to
// logical offset zero, so process rank indexes blocks as (block+rank) mod
// size. Each of the ceil(log2(size)) rounds sends all blocks held so far to
// the process 2^k positions below and appends the symmetric set received from
// 2^k positions above, with a final partial round when size is not a power of
// two. A last permutation undoes the rotation so block j ends up at position
// j.
type bruckGather struct{}

func (bruckGather) schedule(sendbuf, recvbuf *Buffer, g *Group, s *Schedule) error {
	rank, size := g.Rank(), g.Size()
	blk := recvbuf.Count * recvbuf.Type.Extent
	tmp := make([]byte, size*blk)

	// Rotated layout: the own contribution leads.
	if sendbuf.inPlace() {
		s.Copy(tmp[:blk], recvbuf.block(rank))
	} else {
		s.Copy(tmp[:blk], sendbuf.bytes())
	}
	s.Barrier()

	held := 1
	pof2 := 1
	for ; pof2 <= size/2; pof2 <<= 1 {
		above := (rank + pof2) % size
		below := (rank - pof2 + size) % size
		s.Send(tmp[:held*blk], g.peer(below))
		s.Recv(tmp[held*blk:2*held*blk], g.peer(above))
		s.Barrier()
		held *= 2
	}

	// Non-power-of-two sizes need one partial round for the remainder.
	if rem := size - held; rem > 0 {
		above := (rank + pof2) % size
		below := (rank - pof2 + size) % size
		s.Send(tmp[:rem*blk], g.peer(below))
		s.Recv(tmp[held*blk:(held+rem)*blk], g.peer(above))
		s.Barrier()
	}

	// Undo the rotation: tmp block i holds the contribution of rank
	// (rank+i) mod size, so the tail of tmp wraps to the front of recvbuf.
	s.Copy(recvbuf.blocks(rank, size-rank), tmp[:(size-rank)*blk])
	if rank != 0 {
		s.Copy(recvbuf.blocks(0, rank), tmp[(size-rank)*blk:])
	}
	return nil
}
