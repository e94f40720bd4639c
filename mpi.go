// Package mpi implements the all-gather family of collective operations for
// an mpi-like message-passing runtime, using only native go code. Each process
// in a group contributes a block of data, and after the collective completes
// every process holds the concatenation of all blocks ordered by contributor
// rank.
//
// The package separates three concerns. Point-to-point communication is
// abstracted behind the Transport interface; mpi.Network implements it on top
// of the net package in the standard library, and mpi.Local implements it
// in-process for testing and prototyping. The data-movement algorithms
// (recursive doubling, Bruck's dissemination algorithm, and a nearest-neighbor
// ring pipeline) are selected per call by message volume and group shape, or
// forced through configuration. Every algorithm records its sends, receives,
// and local copies into a Schedule, an ordered list of steps segmented by
// barriers; the blocking entry points build a schedule and drain it
// synchronously, while the nonblocking entry points return a Handle that
// completes in the background.
//
// A collective call must be made by every member of the group with compatible
// counts and configuration. Participants that disagree on the algorithm or
// skip the call deadlock, as in any message-passing system. Collectives on the
// same group must be issued in the same order on every rank; subject to that,
// any number of nonblocking collectives may be in flight at once.
//
// Transport failures do not abort a collective. A failing step raises the
// call's failure flag, the flag piggybacks on every subsequent message of the
// call, and the schedule still runs to completion so that all ranks leave the
// collective in a consistent protocol state. The call then reports a single
// collective failure to every participant that observed the flag.
//
// Package mpi adds several flags to aid in configuration:
//	-mpi-addr : address of the local running process
//	-mpi-alladdr: comma separated list of the strings of all the addresses
//	-mpi-inittimeout: time.Duration for how long init can take before timing out.
//	-mpi-protocol: string to represent the protocol to use
//	-mpi-password: password to use at MPI initialization
//	-mpi-allgather-short-msg-size: short-message threshold in bytes
//	-mpi-allgather-long-msg-size: long-message threshold in bytes
//	-mpi-allgather-intra-algorithm: auto | bruck | recursive_doubling | ring
//	-mpi-allgather-inter-algorithm: auto | generic
//	-mpi-allgather-device-collective: allow a registered device to take over
// flag.Parse() must be called in order to use these flags, and
// ConfigFromFlags installs the collective tuning values.
package mpi

import (
	"sync"

	"github.com/pkg/errors"
)

// Transport provides the point-to-point primitives the collective algorithms
// are built on. {source, destination, tag} triples must be unique among
// concurrently outstanding transfers. A process may send to itself.
type Transport interface {
	// Rank returns the rank of the local process, 0 <= Rank() < Size().
	Rank() int
	// Size returns the total number of processes.
	Size() int
	// Send transmits the data to the destination process with the given tag.
	// Send blocks until the data has been handed to the transport, so data is
	// again free to be modified, but does not wait for receipt.
	Send(data []byte, destination, tag int) error
	// Receive blocks until the message sent with the given tag by source has
	// arrived, and copies it into data. The length of data must equal the
	// length sent.
	Receive(data []byte, source, tag int) error
}

// Device is an external implementation of the collectives, typically backed
// by specialized hardware, that may preempt the algorithms in this package.
// When a device is registered and Config.DeviceCollective is true, AllGather
// delegates to it.
type Device interface {
	AllGather(sendbuf, recvbuf *Buffer, g *Group, t Transport) error
}

var (
	// boundaryMux serializes reads and writes of the process-wide
	// configuration and device registration. It guards only the entry
	// snapshot, never the algorithms, so concurrent collectives proceed
	// in parallel once dispatched.
	boundaryMux sync.Mutex
	device      Device
)

// RegisterDevice sets a device implementation to preempt the native
// algorithms. RegisterDevice should normally be called during program
// initialization and not again. A nil device restores the native path.
func RegisterDevice(d Device) {
	boundaryMux.Lock()
	device = d
	boundaryMux.Unlock()
}

// snapshot reads the configuration and device under the boundary lock. The
// returned values are immutable for the remainder of the call.
func snapshot() (Config, Device) {
	boundaryMux.Lock()
	defer boundaryMux.Unlock()
	return config, device
}

// AllGather gathers the contribution of every member of g and places the
// concatenation, ordered by contributor rank, into recvbuf on every member.
// recvbuf.Count is the per-process element count; block j of recvbuf receives
// the contribution of rank j. sendbuf may be InPlace on an intra-group, in
// which case the local contribution is taken from (and left at) the caller's
// own block of recvbuf. AllGather blocks until the local portion of the
// exchange completes.
func AllGather(sendbuf, recvbuf *Buffer, g *Group, t Transport) error {
	cfg, dev := snapshot()
	if err := checkGatherArgs(sendbuf, recvbuf, g); err != nil {
		return err
	}
	if gatherIsNoop(sendbuf, recvbuf) {
		return nil
	}
	if cfg.DeviceCollective && dev != nil {
		return dev.AllGather(sendbuf, recvbuf, g, t)
	}
	s, err := buildAllGather(cfg, sendbuf, recvbuf, g)
	if err != nil {
		return err
	}
	return s.run(t)
}

// IAllGather is the nonblocking form of AllGather. It records the full
// exchange into a schedule, starts draining it in the background, and returns
// immediately. The returned handle reports completion; the buffers must not
// be touched until the handle completes. The registered device, if any, is
// not consulted on the nonblocking path.
func IAllGather(sendbuf, recvbuf *Buffer, g *Group, t Transport) (*Handle, error) {
	cfg, _ := snapshot()
	if err := checkGatherArgs(sendbuf, recvbuf, g); err != nil {
		return nil, err
	}
	if gatherIsNoop(sendbuf, recvbuf) {
		return completedHandle(), nil
	}
	s, err := buildAllGather(cfg, sendbuf, recvbuf, g)
	if err != nil {
		return nil, err
	}
	return startSchedule(s, t), nil
}

// checkGatherArgs validates what the algorithms assume. Full argument
// validation (handle conversion, datatype commit state, buffer aliasing)
// belongs to the caller-facing layer above this package.
func checkGatherArgs(sendbuf, recvbuf *Buffer, g *Group) error {
	if g == nil {
		return errors.New("mpi: nil group")
	}
	if recvbuf == nil || recvbuf.inPlace() {
		return errors.New("mpi: receive buffer must be a concrete buffer")
	}
	if sendbuf == nil {
		return errors.New("mpi: nil send buffer")
	}
	if sendbuf.inPlace() {
		if g.Kind() == Inter {
			return errors.New("mpi: in-place all-gather is only valid on an intra-group")
		}
	} else if sendbuf.Count != 0 && recvbuf.Count != 0 &&
		sendbuf.Count*sendbuf.Type.Size != recvbuf.Count*recvbuf.Type.Size {
		return errors.Errorf("mpi: send volume %d bytes does not match receive volume %d bytes",
			sendbuf.Count*sendbuf.Type.Size, recvbuf.Count*recvbuf.Type.Size)
	}
	if want := g.gatherSize() * recvbuf.Count * recvbuf.Type.Extent; len(recvbuf.Data) < want {
		return errors.Errorf("mpi: receive buffer too small: %d bytes, need %d", len(recvbuf.Data), want)
	}
	return nil
}

// gatherIsNoop reports the zero-size early return: nothing to send (and no
// in-place contribution) or nothing to receive means no data movement at all.
func gatherIsNoop(sendbuf, recvbuf *Buffer) bool {
	if recvbuf.Count == 0 {
		return true
	}
	return sendbuf.Count == 0 && !sendbuf.inPlace()
}
