package mpi

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type stepKind int

const (
	stepCopy stepKind = iota
	stepSend
	stepRecv
)

// step is one primitive operation of a schedule. For sends and receives, data
// is the transferred region and peer the transport rank of the other side.
// For copies, data is the source and dst the destination.
type step struct {
	kind stepKind
	data []byte
	dst  []byte
	peer int
}

// Schedule is the ordered, barrier-segmented list of steps implementing one
// collective call. Algorithms record into it through Copy, Send, Recv, and
// Barrier; steps between two barriers run concurrently with no ordering
// among themselves, while a barrier completes every step before it prior to
// any step after it. A schedule is built once per call, owned exclusively by
// that call, and discarded after it drains.
type Schedule struct {
	group  *Group
	seq    int
	phases [][]step
	cur    []step
}

func newSchedule(g *Group) *Schedule {
	return &Schedule{group: g, seq: g.nextSeq()}
}

// Copy records a local copy of src into dst.
func (s *Schedule) Copy(dst, src []byte) {
	s.cur = append(s.cur, step{kind: stepCopy, data: src, dst: dst})
}

// Send records a send of data to the given transport rank.
func (s *Schedule) Send(data []byte, destination int) {
	s.cur = append(s.cur, step{kind: stepSend, data: data, peer: destination})
}

// Recv records a receive into data from the given transport rank.
func (s *Schedule) Recv(data []byte, source int) {
	s.cur = append(s.cur, step{kind: stepRecv, data: data, peer: source})
}

// Barrier closes the current phase. All steps recorded since the previous
// barrier must complete before any later step starts. A barrier with no
// preceding steps is a no-op.
func (s *Schedule) Barrier() {
	if len(s.cur) == 0 {
		return
	}
	s.phases = append(s.phases, s.cur)
	s.cur = nil
}

// run drains the schedule to completion over the transport, honoring
// barriers, and folds the per-step outcomes into one call-level result.
// Phases after a failure still run, so that every participant leaves the
// collective in a structurally consistent state.
func (s *Schedule) run(t Transport) error {
	s.Barrier()
	flag := new(failureFlag)
	for i, phase := range s.phases {
		s.runPhase(t, flag, i, phase)
	}
	return flag.summary()
}

// runPhase issues every step of one phase concurrently and waits for all of
// them. Step errors raise the failure flag but do not stop the phase.
func (s *Schedule) runPhase(t Transport, flag *failureFlag, phase int, steps []step) {
	tag := s.group.tag(s.seq, phase)
	if len(steps) == 1 {
		s.runStep(t, flag, tag, steps[0])
		return
	}
	wg := &sync.WaitGroup{}
	wg.Add(len(steps))
	for _, st := range steps {
		go func(st step) {
			defer wg.Done()
			s.runStep(t, flag, tag, st)
		}(st)
	}
	wg.Wait()
}

// runStep executes one primitive operation. Every message carries a one-byte
// status header so that a raised failure flag propagates to the ranks that
// hear from us, the piggyback that lets remote ranks observe a failure they
// did not cause.
func (s *Schedule) runStep(t Transport, flag *failureFlag, tag int, st step) {
	switch st.kind {
	case stepCopy:
		copy(st.dst, st.data)
	case stepSend:
		env := make([]byte, len(st.data)+1)
		if flag.raised() {
			env[0] = 1
		}
		copy(env[1:], st.data)
		if err := t.Send(env, st.peer, tag); err != nil {
			flag.fail(errors.Wrapf(err, "mpi: send to %d", st.peer))
		}
	case stepRecv:
		env := make([]byte, len(st.data)+1)
		if err := t.Receive(env, st.peer, tag); err != nil {
			flag.fail(errors.Wrapf(err, "mpi: receive from %d", st.peer))
			return
		}
		if env[0] != 0 {
			flag.markRemote()
		}
		copy(st.data, env[1:])
	}
}

// failureFlag is the group-wide soft-error marker of one collective call. A
// local step failure or a remote report raises it; the schedule keeps
// running, and the flag is folded into a single error at call exit.
type failureFlag struct {
	mux    sync.Mutex
	local  error
	remote bool
}

func (f *failureFlag) fail(err error) {
	f.mux.Lock()
	if f.local == nil {
		f.local = err
	}
	f.mux.Unlock()
}

func (f *failureFlag) markRemote() {
	f.mux.Lock()
	f.remote = true
	f.mux.Unlock()
}

func (f *failureFlag) raised() bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.local != nil || f.remote
}

// ErrRemoteFailure reports that a collective failed on another participating
// rank; the local steps all completed.
var ErrRemoteFailure = errors.New("mpi: collective failed on a remote rank")

func (f *failureFlag) summary() error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.local != nil {
		return errors.WithMessage(f.local, "mpi: collective failed")
	}
	if f.remote {
		return ErrRemoteFailure
	}
	return nil
}

// Handle tracks the completion of a nonblocking collective. The call's
// buffers are owned by the operation until the handle completes.
type Handle struct {
	id   uuid.UUID
	done chan struct{}
	err  error
}

// startSchedule begins draining s in the background and returns the handle
// that observes its completion.
func startSchedule(s *Schedule, t Transport) *Handle {
	s.Barrier()
	h := &Handle{id: uuid.New(), done: make(chan struct{})}
	klog.V(4).Infof("mpi: schedule %s started: %d phases on rank %d", h.id, len(s.phases), s.group.Rank())
	go func() {
		h.err = s.run(t)
		klog.V(4).Infof("mpi: schedule %s complete (err=%v)", h.id, h.err)
		close(h.done)
	}()
	return h
}

// completedHandle returns an already-complete handle, used for zero-size
// calls that involve no data movement.
func completedHandle() *Handle {
	h := &Handle{id: uuid.New(), done: make(chan struct{})}
	close(h.done)
	return h
}

// ID returns the unique identifier of the operation, for logging and
// correlation.
func (h *Handle) ID() string { return h.id.String() }

// Wait blocks until the operation completes and returns its result.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Test reports without blocking whether the operation has completed, and its
// result if so.
func (h *Handle) Test() (bool, error) {
	select {
	case <-h.done:
		return true, h.err
	default:
		return false, nil
	}
}
