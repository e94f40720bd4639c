package mpi

import (
	"github.com/pkg/errors"
)

// Algorithm names one of the all-gather data-movement strategies. Auto defers
// to the size- and shape-based selection policy.
type Algorithm int

const (
	Auto Algorithm = iota
	Bruck
	RecursiveDoubling
	Ring
	Generic
)

func (a Algorithm) String() string {
	switch a {
	case Auto:
		return "auto"
	case Bruck:
		return "bruck"
	case RecursiveDoubling:
		return "recursive_doubling"
	case Ring:
		return "ring"
	case Generic:
		return "generic"
	}
	return "unknown"
}

// ParseAlgorithm converts the textual form used by flags and environment
// configuration into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "auto":
		return Auto, nil
	case "bruck":
		return Bruck, nil
	case "recursive_doubling":
		return RecursiveDoubling, nil
	case "ring":
		return Ring, nil
	case "generic":
		return Generic, nil
	}
	return Auto, errors.Errorf("mpi: unknown algorithm %q", s)
}

// Config holds the process-wide collective tuning parameters. It is read once
// per call into an immutable snapshot, so changing it mid-call has no effect
// on collectives already dispatched. All members of a group must agree on the
// values.
type Config struct {
	// ShortMsgSize is the short-message threshold in bytes: below it, and
	// when recursive doubling does not apply, Bruck's algorithm is used.
	ShortMsgSize int64
	// LongMsgSize is the long-message threshold in bytes: power-of-two groups
	// use recursive doubling below it. At or above it the ring algorithm is
	// always used. The long check is evaluated before the short one.
	LongMsgSize int64
	// IntraAlgorithm forces a specific algorithm for intra-group calls.
	// Auto restores the threshold policy.
	IntraAlgorithm Algorithm
	// InterAlgorithm selects the inter-group algorithm; Auto and Generic are
	// currently equivalent.
	InterAlgorithm Algorithm
	// DeviceCollective permits a registered Device to preempt the native
	// algorithms.
	DeviceCollective bool
}

// DefaultConfig returns the default tuning values.
func DefaultConfig() Config {
	return Config{
		ShortMsgSize:     81920,
		LongMsgSize:      524288,
		IntraAlgorithm:   Auto,
		InterAlgorithm:   Auto,
		DeviceCollective: true,
	}
}

var config = DefaultConfig()

// SetConfig installs c as the process-wide configuration for subsequent
// collective calls. It should be called before any collective runs; calls
// already dispatched keep the snapshot they started with.
func SetConfig(c Config) error {
	if c.ShortMsgSize < 0 || c.LongMsgSize < 0 {
		return errors.New("mpi: message size thresholds must be non-negative")
	}
	switch c.IntraAlgorithm {
	case Auto, Bruck, RecursiveDoubling, Ring:
	default:
		return errors.Errorf("mpi: %v is not an intra-group algorithm", c.IntraAlgorithm)
	}
	switch c.InterAlgorithm {
	case Auto, Generic:
	default:
		return errors.Errorf("mpi: %v is not an inter-group algorithm", c.InterAlgorithm)
	}
	boundaryMux.Lock()
	config = c
	boundaryMux.Unlock()
	return nil
}

// CurrentConfig returns the configuration in effect for new collective calls.
func CurrentConfig() Config {
	boundaryMux.Lock()
	defer boundaryMux.Unlock()
	return config
}
