package mpi

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Kind distinguishes collectives within one group of mutually visible
// processes from collectives between two disjoint groups.
type Kind int

const (
	// Intra is a group whose members all both send and receive.
	Intra Kind = iota
	// Inter is a pair of disjoint groups exchanging with each other.
	Inter
)

func (k Kind) String() string {
	switch k {
	case Intra:
		return "intra"
	case Inter:
		return "inter"
	}
	return "unknown"
}

// Group is a read-only description of the processes participating in a
// collective call: the local rank, the group size, and the mapping from group
// ranks to transport ranks. A Group is immutable for the lifetime of a call
// and may be reused across calls; every member must issue collectives on
// matching groups in the same order.
//
// The context value separates the tag space of groups that share transport
// ranks. Two groups with different contexts may run collectives concurrently
// without their messages interfering; it plays the role of a communicator
// context id and must be agreed upon by all members.
type Group struct {
	rank    int
	size    int
	kind    Kind
	context int

	// local maps group rank to transport rank; nil means the identity
	// mapping. remote is the same for the opposite group of an inter-group.
	local  []int
	remote []int

	// seq counts the collective calls issued on this group instance. Matched
	// calls on matched group instances yield matched sequence numbers, which
	// is what lets every rank derive the same message tags with no
	// coordination.
	seq atomic.Uint32
}

// NewGroup returns the intra-group spanning all ranks of the transport, with
// context zero.
func NewGroup(t Transport) *Group {
	return &Group{rank: t.Rank(), size: t.Size(), kind: Intra}
}

// NewIntraGroup returns an intra-group whose members are the given transport
// ranks. rank is the local position within members.
func NewIntraGroup(context, rank int, members []int) (*Group, error) {
	if len(members) == 0 {
		return nil, errors.New("mpi: empty group")
	}
	if rank < 0 || rank >= len(members) {
		return nil, errors.Errorf("mpi: rank %d outside group of size %d", rank, len(members))
	}
	g := &Group{rank: rank, size: len(members), kind: Intra, context: context}
	g.local = append(g.local, members...)
	return g, nil
}

// NewInterGroup returns the local half of an inter-group. local holds the
// transport ranks of the local group, remote those of the disjoint remote
// group, and rank is the local position within local. Members of the remote
// group construct the mirror image with the two slices swapped.
func NewInterGroup(context, rank int, local, remote []int) (*Group, error) {
	if len(local) == 0 || len(remote) == 0 {
		return nil, errors.New("mpi: both sides of an inter-group must be non-empty")
	}
	if rank < 0 || rank >= len(local) {
		return nil, errors.Errorf("mpi: rank %d outside group of size %d", rank, len(local))
	}
	g := &Group{rank: rank, size: len(local), kind: Inter, context: context}
	g.local = append(g.local, local...)
	g.remote = append(g.remote, remote...)
	return g, nil
}

// Rank returns the 0-indexed position of the local process in the group.
func (g *Group) Rank() int { return g.rank }

// Size returns the number of members of the (local) group.
func (g *Group) Size() int { return g.size }

// Kind returns whether the group is intra or inter.
func (g *Group) Kind() Kind { return g.kind }

// RemoteSize returns the size of the remote group of an inter-group, and 0
// for an intra-group.
func (g *Group) RemoteSize() int { return len(g.remote) }

// gatherSize is the number of blocks an all-gather fills: contributions come
// from the remote group on an inter-group, from the group itself otherwise.
func (g *Group) gatherSize() int {
	if g.kind == Inter {
		return len(g.remote)
	}
	return g.size
}

// peer translates a local-group rank to a transport rank.
func (g *Group) peer(rank int) int {
	if g.local == nil {
		return rank
	}
	return g.local[rank]
}

// remotePeer translates a remote-group rank to a transport rank.
func (g *Group) remotePeer(rank int) int {
	return g.remote[rank]
}

const (
	tagSeqBits   = 12
	tagPhaseBits = 12
)

// nextSeq allocates the sequence number for one collective call on this
// group.
func (g *Group) nextSeq() int {
	return int(g.seq.Add(1))
}

// tag derives the message tag for one barrier-delimited phase of one
// collective call. Context, call sequence, and phase index together name a
// transfer uniquely as long as a rank sends at most one message to a given
// peer per phase, which holds for every algorithm in this package.
func (g *Group) tag(seq, phase int) int {
	return ((g.context<<tagSeqBits)|(seq&(1<<tagSeqBits-1)))<<tagPhaseBits | phase&(1<<tagPhaseBits-1)
}

// Topology restricts an exchange to a fixed neighbor set, as supplied by a
// process topology. Sources lists the group ranks the local process receives
// from, Destinations the group ranks it sends to, and the two lists need not
// be symmetric. A rank may appear in at most one position of each list.
type Topology struct {
	Sources      []int
	Destinations []int
}
