package mpi

import "github.com/pkg/errors"

// doublingGather is the recursive doubling all-gather. It requires a
// power-of-two group and runs in log2(size) rounds: in round k every process
// exchanges everything it has gathered so far with the process whose rank
// differs in bit k, so the held footprint doubles each round. After round k a
// process holds exactly the contributions of the 2^(k+1) ranks that agree
// with it on all bits above k.
type doublingGather struct{}

func (doublingGather) schedule(sendbuf, recvbuf *Buffer, g *Group, s *Schedule) error {
	rank, size := g.Rank(), g.Size()
	if !isPowerOfTwo(size) {
		return errors.Errorf("mpi: recursive doubling requires a power-of-two group, got size %d", size)
	}

	// The local contribution starts at its final position.
	if !sendbuf.inPlace() {
		s.Copy(recvbuf.block(rank), sendbuf.bytes())
		s.Barrier()
	}

	for mask := 1; mask < size; mask <<= 1 {
		partner := rank ^ mask
		// Each side holds a run of mask blocks aligned on a multiple of
		// mask; clearing the low bits locates it.
		mine := rank &^ (mask - 1)
		theirs := partner &^ (mask - 1)
		s.Send(recvbuf.blocks(mine, mask), g.peer(partner))
		s.Recv(recvbuf.blocks(theirs, mask), g.peer(partner))
		s.Barrier()
	}
	return nil
}
