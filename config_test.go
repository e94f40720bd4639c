package mpi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	for _, alg := range []Algorithm{Auto, Bruck, RecursiveDoubling, Ring, Generic} {
		got, err := ParseAlgorithm(alg.String())
		require.NoError(t, err)
		require.Equal(t, alg, got)
	}
	_, err := ParseAlgorithm("hypercube")
	require.Error(t, err)
}

func TestSetConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntraAlgorithm = Generic
	require.Error(t, SetConfig(cfg))

	cfg = DefaultConfig()
	cfg.InterAlgorithm = Ring
	require.Error(t, SetConfig(cfg))

	cfg = DefaultConfig()
	cfg.ShortMsgSize = -1
	require.Error(t, SetConfig(cfg))

	require.NoError(t, SetConfig(DefaultConfig()))
	require.Equal(t, DefaultConfig(), CurrentConfig())
}

func TestConfigFromFlags(t *testing.T) {
	// Flag defaults mirror DefaultConfig without flag.Parse having run.
	require.Equal(t, DefaultConfig(), ConfigFromFlags())
}

func intraGroup(t *testing.T, size int) *Group {
	t.Helper()
	members := make([]int, size)
	for i := range members {
		members[i] = i
	}
	g, err := NewIntraGroup(0, 0, members)
	require.NoError(t, err)
	return g
}

// The policy: recursive doubling on power-of-two groups below the long
// threshold (checked first, so it wins between the two thresholds), Bruck
// below the short threshold otherwise, ring for everything else.
func TestPickAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	recvFor := func(count int) *Buffer { return &Buffer{Count: count, Type: Byte} }

	cases := []struct {
		size  int
		count int
		want  scheduler
	}{
		{size: 4, count: 100, want: doublingGather{}},     // small, power of two
		{size: 4, count: 30000, want: doublingGather{}},   // between short and long, power of two
		{size: 4, count: 200000, want: ringGather{}},      // at or above long
		{size: 3, count: 100, want: bruckGather{}},        // small, awkward size
		{size: 3, count: 30000, want: ringGather{}},       // above short, awkward size
		{size: 1, count: 1, want: doublingGather{}},       // single rank is a power of two
	}
	for _, c := range cases {
		got, err := pickAlgorithm(cfg, recvFor(c.count), intraGroup(t, c.size))
		require.NoError(t, err)
		require.IsTypef(t, c.want, got, "size=%d count=%d", c.size, c.count)
	}
}

func TestPickAlgorithmOverrides(t *testing.T) {
	recv := &Buffer{Count: 200000, Type: Byte} // would be ring under auto

	cfg := DefaultConfig()
	cfg.IntraAlgorithm = Bruck
	got, err := pickAlgorithm(cfg, recv, intraGroup(t, 4))
	require.NoError(t, err)
	require.IsType(t, bruckGather{}, got)

	cfg.IntraAlgorithm = RecursiveDoubling
	got, err = pickAlgorithm(cfg, recv, intraGroup(t, 4))
	require.NoError(t, err)
	require.IsType(t, doublingGather{}, got)

	// Forcing recursive doubling on a non-power-of-two group is an error.
	_, err = pickAlgorithm(cfg, recv, intraGroup(t, 6))
	require.Error(t, err)

	cfg.IntraAlgorithm = Ring
	got, err = pickAlgorithm(cfg, &Buffer{Count: 1, Type: Byte}, intraGroup(t, 4))
	require.NoError(t, err)
	require.IsType(t, ringGather{}, got)
}

func TestPickAlgorithmInter(t *testing.T) {
	g, err := NewInterGroup(0, 0, []int{0, 1}, []int{2, 3})
	require.NoError(t, err)
	recv := &Buffer{Count: 1, Type: Byte}

	for _, alg := range []Algorithm{Auto, Generic} {
		cfg := DefaultConfig()
		cfg.InterAlgorithm = alg
		got, err := pickAlgorithm(cfg, recv, g)
		require.NoError(t, err)
		require.IsType(t, interGather{}, got)
	}
}

func TestGroupConstructors(t *testing.T) {
	_, err := NewIntraGroup(0, 3, []int{0, 1, 2})
	require.Error(t, err)
	_, err = NewIntraGroup(0, 0, nil)
	require.Error(t, err)
	_, err = NewInterGroup(0, 0, []int{0}, nil)
	require.Error(t, err)

	g, err := NewInterGroup(7, 1, []int{0, 4}, []int{2, 3, 5})
	require.NoError(t, err)
	require.Equal(t, 1, g.Rank())
	require.Equal(t, 2, g.Size())
	require.Equal(t, 3, g.RemoteSize())
	require.Equal(t, Inter, g.Kind())
	require.Equal(t, 4, g.peer(1))
	require.Equal(t, 5, g.remotePeer(2))
}
