package mpi

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// scheduler is the capability shared by the algorithm variants: record one
// all-gather exchange for the given group and buffers into a schedule.
type scheduler interface {
	schedule(sendbuf, recvbuf *Buffer, g *Group, s *Schedule) error
}

// buildAllGather selects an algorithm and records the full exchange.
func buildAllGather(cfg Config, sendbuf, recvbuf *Buffer, g *Group) (*Schedule, error) {
	alg, err := pickAlgorithm(cfg, recvbuf, g)
	if err != nil {
		return nil, err
	}
	if klog.V(2).Enabled() {
		klog.Infof("mpi: allgather rank=%d size=%d volume=%s algorithm=%v",
			g.Rank(), g.Size(), humanize.IBytes(uint64(gatherVolume(recvbuf, g))), algorithmName(alg))
	}
	s := newSchedule(g)
	if err := alg.schedule(sendbuf, recvbuf, g, s); err != nil {
		return nil, err
	}
	return s, nil
}

// gatherVolume is the total per-process receive volume in bytes, the quantity
// the threshold policy is defined over.
func gatherVolume(recvbuf *Buffer, g *Group) int64 {
	return int64(recvbuf.Count) * int64(g.gatherSize()) * int64(recvbuf.Type.Size)
}

// pickAlgorithm applies the configuration overrides and, under Auto, the
// selection policy: power-of-two groups use recursive doubling below the
// long-message threshold (checked first, so it wins even above the short
// threshold), other short messages use Bruck's algorithm, and everything else
// uses the ring. Inter-groups always use the generic pairwise exchange.
func pickAlgorithm(cfg Config, recvbuf *Buffer, g *Group) (scheduler, error) {
	if g.Kind() == Inter {
		switch cfg.InterAlgorithm {
		case Auto, Generic:
			return interGather{}, nil
		}
		return nil, errors.Errorf("mpi: %v is not an inter-group algorithm", cfg.InterAlgorithm)
	}
	switch cfg.IntraAlgorithm {
	case Bruck:
		return bruckGather{}, nil
	case RecursiveDoubling:
		if !isPowerOfTwo(g.Size()) {
			return nil, errors.Errorf("mpi: recursive doubling requires a power-of-two group, got size %d", g.Size())
		}
		return doublingGather{}, nil
	case Ring:
		return ringGather{}, nil
	case Auto:
	default:
		return nil, errors.Errorf("mpi: %v is not an intra-group algorithm", cfg.IntraAlgorithm)
	}
	volume := gatherVolume(recvbuf, g)
	switch {
	case volume < cfg.LongMsgSize && isPowerOfTwo(g.Size()):
		return doublingGather{}, nil
	case volume < cfg.ShortMsgSize:
		return bruckGather{}, nil
	default:
		return ringGather{}, nil
	}
}

func algorithmName(alg scheduler) Algorithm {
	switch alg.(type) {
	case doublingGather:
		return RecursiveDoubling
	case bruckGather:
		return Bruck
	case ringGather:
		return Ring
	case interGather:
		return Generic
	}
	return Auto
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
