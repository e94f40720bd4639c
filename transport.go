package mpi

import (
	"sync"

	"github.com/pkg/errors"
)

// Local implements Transport for a set of ranks living in one process,
// connected through channel rendezvous. It exists for testing and for
// prototyping collective code without a network; go's own shared-memory
// primitives remain the better tool for real single-process parallelism.
// Obtain the ranks of one cluster from NewLocalCluster.
type Local struct {
	rank    int
	cluster *localCluster
}

// transferKey names one in-flight message. Uniqueness of {source,
// destination, tag} among concurrent transfers is the same contract the
// network transport imposes per connection and tag.
type transferKey struct {
	source, dest, tag int
}

type localCluster struct {
	size    int
	mux     sync.Mutex
	pending map[transferKey]chan []byte
}

// NewLocalCluster returns one connected Local transport per rank.
func NewLocalCluster(n int) []*Local {
	c := &localCluster{size: n, pending: make(map[transferKey]chan []byte)}
	ranks := make([]*Local, n)
	for i := range ranks {
		ranks[i] = &Local{rank: i, cluster: c}
	}
	return ranks
}

// channel returns the rendezvous channel for key, creating it if neither side
// has arrived yet. The channel is buffered so a sender never waits for its
// receiver.
func (c *localCluster) channel(k transferKey) chan []byte {
	c.mux.Lock()
	defer c.mux.Unlock()
	ch, ok := c.pending[k]
	if !ok {
		ch = make(chan []byte, 1)
		c.pending[k] = ch
	}
	return ch
}

// forget releases a consumed key so the tag may be reused.
func (c *localCluster) forget(k transferKey) {
	c.mux.Lock()
	delete(c.pending, k)
	c.mux.Unlock()
}

func (l *Local) Rank() int { return l.rank }

func (l *Local) Size() int { return l.cluster.size }

// Send implements Transport. The data is copied, so the caller may reuse it
// immediately.
func (l *Local) Send(data []byte, destination, tag int) error {
	if destination < 0 || destination >= l.cluster.size {
		return errors.Errorf("mpi: send destination %d outside cluster of size %d", destination, l.cluster.size)
	}
	b := make([]byte, len(data))
	copy(b, data)
	l.cluster.channel(transferKey{source: l.rank, dest: destination, tag: tag}) <- b
	return nil
}

// Receive implements Transport, blocking until the matching send arrives.
func (l *Local) Receive(data []byte, source, tag int) error {
	if source < 0 || source >= l.cluster.size {
		return errors.Errorf("mpi: receive source %d outside cluster of size %d", source, l.cluster.size)
	}
	k := transferKey{source: source, dest: l.rank, tag: tag}
	b := <-l.cluster.channel(k)
	l.cluster.forget(k)
	if len(b) != len(data) {
		return errors.Errorf("mpi: message from %d is %d bytes, expected %d", source, len(b), len(data))
	}
	copy(data, b)
	return nil
}
