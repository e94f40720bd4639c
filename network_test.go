package mpi

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startNetworks brings up an all-to-all mesh on localhost and returns one
// Network per rank.
func startNetworks(t *testing.T, baseport, n int) []*Network {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("127.0.0.1:%d", baseport+i)
	}
	nets := make([]*Network, n)
	errs := make([]error, n)
	wg := &sync.WaitGroup{}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			nets[i] = &Network{
				NetProto: "tcp",
				Addr:     addrs[i],
				Addrs:    append([]string{}, addrs...),
				Timeout:  10 * time.Second,
				Password: "hunter2",
			}
			errs[i] = nets[i].Init()
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoErrorf(t, err, "rank %d init", i)
	}
	t.Cleanup(func() {
		for _, n := range nets {
			n.Finalize()
		}
	})
	return nets
}

func TestNetworkInitRanks(t *testing.T) {
	nets := startNetworks(t, 17710, 3)
	for _, n := range nets {
		require.Equal(t, 3, n.Size())
	}
	// Ranks follow the sorted address order, which here is port order.
	for i, n := range nets {
		require.Equal(t, i, n.Rank())
	}
}

func TestNetworkSendReceive(t *testing.T) {
	nets := startNetworks(t, 17720, 2)

	var recvErr error
	got := make([]byte, 4)
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		recvErr = nets[1].Receive(got, 0, 5)
	}()
	require.NoError(t, nets[0].Send([]byte{1, 2, 3, 4}, 1, 5))
	wg.Wait()
	require.NoError(t, recvErr)
	require.Equal(t, []byte{1, 2, 3, 4}, got)

	// Self-sends stay off the wire.
	require.NoError(t, nets[0].Send([]byte{9}, 0, 6))
	self := make([]byte, 1)
	require.NoError(t, nets[0].Receive(self, 0, 6))
	require.Equal(t, []byte{9}, self)
}

// A full all-gather over real connections.
func TestNetworkAllGather(t *testing.T) {
	const size, count = 3, 4
	nets := startNetworks(t, 17730, size)

	recvs := make([][]byte, size)
	errs := make([]error, size)
	wg := &sync.WaitGroup{}
	wg.Add(size)
	for r := 0; r < size; r++ {
		go func(r int) {
			defer wg.Done()
			recv := make([]byte, size*count)
			recvs[r] = recv
			send := &Buffer{Data: contribution(r, count), Count: count, Type: Byte}
			errs[r] = AllGather(send, &Buffer{Data: recv, Count: count, Type: Byte}, NewGroup(nets[r]), nets[r])
		}(r)
	}
	wg.Wait()
	want := gathered(size, count)
	for r := 0; r < size; r++ {
		require.NoErrorf(t, errs[r], "rank %d", r)
		require.Equal(t, want, recvs[r])
	}
}

func TestNetworkBadAddrs(t *testing.T) {
	n := &Network{
		NetProto: "tcp",
		Addr:     "127.0.0.1:17740",
		Addrs:    []string{"127.0.0.1:17741", "127.0.0.1:17741"},
	}
	require.Error(t, n.Init()) // duplicate addresses

	n = &Network{
		NetProto: "tcp",
		Addr:     "127.0.0.1:17740",
		Addrs:    []string{"127.0.0.1:17741", "127.0.0.1:17742"},
	}
	require.Error(t, n.Init()) // local address missing from the list
}
