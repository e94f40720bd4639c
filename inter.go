package mpi

import "github.com/pkg/errors"

// interGather is the generic inter-group exchange: every local-remote pair of
// ranks trades blocks exactly once by direct point-to-point transfer, all in
// one concurrent phase, so each local member ends up holding every remote
// contribution. One algorithm serves all message sizes on inter-groups; the
// pairs are posted in remote-rank order.
type interGather struct{}

func (interGather) schedule(sendbuf, recvbuf *Buffer, g *Group, s *Schedule) error {
	if sendbuf.inPlace() {
		return errors.New("mpi: in-place all-gather is only valid on an intra-group")
	}
	for r := 0; r < g.RemoteSize(); r++ {
		s.Send(sendbuf.bytes(), g.remotePeer(r))
		s.Recv(recvbuf.block(r), g.remotePeer(r))
	}
	s.Barrier()
	return nil
}
