package mpi

import "github.com/pkg/errors"

// INeighborAllGather starts a nonblocking exchange restricted to the neighbor
// set of topo: the local contribution is sent to every destination neighbor,
// and block i of recvbuf receives the contribution of the i-th source
// neighbor. All transfers run in a single concurrent phase.
func INeighborAllGather(sendbuf, recvbuf *Buffer, g *Group, topo *Topology, t Transport) (*Handle, error) {
	if err := checkNeighborArgs(sendbuf, recvbuf, g, topo); err != nil {
		return nil, err
	}
	if recvbuf.Count == 0 || sendbuf.Count == 0 {
		return completedHandle(), nil
	}
	s := newSchedule(g)
	for _, dst := range topo.Destinations {
		s.Send(sendbuf.bytes(), g.peer(dst))
	}
	for i, src := range topo.Sources {
		s.Recv(recvbuf.block(i), g.peer(src))
	}
	s.Barrier()
	return startSchedule(s, t), nil
}

// NeighborAllGather is the blocking form of INeighborAllGather: it builds the
// nonblocking schedule and waits on it.
func NeighborAllGather(sendbuf, recvbuf *Buffer, g *Group, topo *Topology, t Transport) error {
	h, err := INeighborAllGather(sendbuf, recvbuf, g, topo, t)
	if err != nil {
		return err
	}
	return h.Wait()
}

func checkNeighborArgs(sendbuf, recvbuf *Buffer, g *Group, topo *Topology) error {
	if g == nil {
		return errors.New("mpi: nil group")
	}
	if topo == nil {
		return errors.New("mpi: nil topology")
	}
	if g.Kind() != Intra {
		return errors.New("mpi: neighbor all-gather requires an intra-group")
	}
	if sendbuf == nil || sendbuf.inPlace() {
		return errors.New("mpi: neighbor all-gather needs a concrete send buffer")
	}
	if recvbuf == nil || recvbuf.inPlace() {
		return errors.New("mpi: receive buffer must be a concrete buffer")
	}
	for _, r := range topo.Sources {
		if r < 0 || r >= g.Size() {
			return errors.Errorf("mpi: source neighbor %d outside group of size %d", r, g.Size())
		}
	}
	for _, r := range topo.Destinations {
		if r < 0 || r >= g.Size() {
			return errors.Errorf("mpi: destination neighbor %d outside group of size %d", r, g.Size())
		}
	}
	if want := len(topo.Sources) * recvbuf.Count * recvbuf.Type.Extent; len(recvbuf.Data) < want {
		return errors.Errorf("mpi: receive buffer too small: %d bytes, need %d", len(recvbuf.Data), want)
	}
	return nil
}
