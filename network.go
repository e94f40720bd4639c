package mpi

import (
	"encoding/gob"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Network implements Transport using network calls provided by the net
// package in the standard library. Network creates an all-to-all connection
// using the specified network protocol among all provided IP addresses, and
// derives the rank of each process from the position of its address in the
// sorted address list, so all processes agree without exchanging state.
// Messages are tagged byte frames serialized with encoding/gob, so some
// network protocols may not be appropriate. While (at present) Network is not
// built with security in mind, it does confirm that the provided password is
// the same before accepting any connection.
//
// Network uses the flags provided. It takes the values provided by the flags
// if the zero values are present for the network values.
type Network struct {
	NetProto string        // Which network protocol to use (see net package for options)
	Addr     string        // Ip address of the local process
	Addrs    []string      // List of the addresses of all nodes. Addr must be among them
	Timeout  time.Duration // If set, Init fails if the connections are not made within the duration

	Password       string
	hashedPassword string

	myrank int // rank of this process
	nNodes int // total number of processes

	connections []*pairwiseConnection // connections to all of the other nodes
	self        *inbound              // messages this process sends to itself
}

func (n *Network) Rank() int {
	if n.nNodes == 0 {
		return -1
	}
	return n.myrank
}

func (n *Network) Size() int {
	return n.nNodes
}

// inbound routes tagged frames arriving from one peer to the Receive calls
// waiting for them. Channels are created by whichever side arrives first and
// buffered so the reader loop never waits on a slow consumer.
type inbound struct {
	mux   sync.Mutex
	chans map[int]chan []byte
	err   error
	down  chan struct{}
}

func newInbound() *inbound {
	return &inbound{
		chans: make(map[int]chan []byte),
		down:  make(chan struct{}),
	}
}

func (in *inbound) channel(tag int) chan []byte {
	in.mux.Lock()
	defer in.mux.Unlock()
	ch, ok := in.chans[tag]
	if !ok {
		ch = make(chan []byte, 1)
		in.chans[tag] = ch
	}
	return ch
}

func (in *inbound) forget(tag int) {
	in.mux.Lock()
	delete(in.chans, tag)
	in.mux.Unlock()
}

// fail stops the router; pending and future receives return err.
func (in *inbound) fail(err error) {
	in.mux.Lock()
	defer in.mux.Unlock()
	if in.err != nil {
		return
	}
	in.err = err
	close(in.down)
}

// receive blocks until the frame with the given tag arrives or the peer
// connection goes down. A frame that arrived before the connection dropped is
// still delivered.
func (in *inbound) receive(tag int) ([]byte, error) {
	ch := in.channel(tag)
	select {
	case b := <-ch:
		in.forget(tag)
		return b, nil
	case <-in.down:
		select {
		case b := <-ch:
			in.forget(tag)
			return b, nil
		default:
		}
		in.mux.Lock()
		defer in.mux.Unlock()
		return nil, in.err
	}
}

type pairwiseConnection struct {
	dial   net.Conn // Send on
	listen net.Conn // Receive from

	sendMux sync.Mutex   // one frame at a time on the wire
	enc     *gob.Encoder // persistent encoder on dial
	in      *inbound
}

// Init establishes the all-to-all connections. Init must be called before
// any sends or receives, and should only be called once during program
// execution.
func (n *Network) Init() error {
	// First, deal with flags
	if n.NetProto == "" {
		n.NetProto = FlagProtocol
	}
	if n.Password == "" {
		n.Password = FlagPassword
	}
	if n.Timeout == 0 {
		n.Timeout = time.Duration(FlagInitTimeout)
	}
	if n.Addr == "" {
		n.Addr = FlagAddr
	}
	if len(n.Addrs) == 0 {
		n.Addrs = make([]string, len(FlagAllAddrs))
		copy(n.Addrs, FlagAllAddrs)
	}

	n.hashedPassword = n.Password // TODO: put the password through a hash

	// Sort all of the IPs to ensure that all processors agree
	sort.Strings(n.Addrs)

	// Make sure all of the IP addresses are unique
	for i := 0; i < len(n.Addrs)-1; i++ {
		if n.Addrs[i] == n.Addrs[i+1] {
			return errors.New("mpi: ip addresses not unique")
		}
	}

	// Rank is the order in the list
	n.myrank = sort.SearchStrings(n.Addrs, n.Addr)

	// Check that the local address is one of the addresses
	if !(n.myrank < len(n.Addrs) && n.Addrs[n.myrank] == n.Addr) {
		return errors.New("mpi: init: local ip address not in global list")
	}

	n.nNodes = len(n.Addrs)

	if err := n.startConnections(); err != nil {
		return err
	}

	// With the mesh up, attach the frame machinery: one persistent encoder
	// per outgoing connection and one reader loop per incoming one.
	for i, con := range n.connections {
		if i == n.myrank {
			continue
		}
		con.enc = gob.NewEncoder(con.dial)
		go n.readLoop(i)
	}
	return nil
}

func (n *Network) startConnections() error {
	// Create bi-way all-to-all connections. Listen for all of the codes and
	// then dial all of the codes
	n.connections = make([]*pairwiseConnection, n.nNodes)
	for i := range n.connections {
		n.connections[i] = &pairwiseConnection{in: newInbound()}
	}
	n.self = newInbound()

	var listenError error
	var dialError error

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		listenError = n.establishListenConnections()
		wg.Done()
	}()

	go func() {
		dialError = n.establishDialConnections()
		wg.Done()
	}()

	wg.Wait()

	if listenError != nil {
		return listenError
	}
	return dialError
}

type initialMessage struct {
	Password string
	Id       int
}

type listConn struct {
	conn net.Conn
	err  error
}

// establishListenConnections listens for all of the other nodes
func (n *Network) establishListenConnections() error {
	// Listen on the local IP address
	listener, err := net.Listen(n.NetProto, n.Addr)
	if err != nil {
		return errors.Wrap(err, "mpi: listening")
	}

	connErr := make([]error, n.nNodes)
	wg := &sync.WaitGroup{}

	for i := 0; i < n.nNodes; i++ {
		if i == n.myrank {
			continue // Don't listen to yourself
		}

		// We need to be able to timeout the listener if the user requests
		// (so programs don't freeze if the all-to-all connection can't
		// happen). Launch the listener in its own goroutine and use channels
		// to manage the timeout.
		acceptChan := make(chan listConn)

		go func() {
			conn, err := listener.Accept()
			acceptChan <- listConn{conn, errors.Wrap(err, "mpi: accepting")}
		}()

		var list listConn

		if n.Timeout > 0 {
			timer := time.NewTimer(n.Timeout)
			select {
			case list = <-acceptChan:
			case <-timer.C:
				list = listConn{
					err: errors.New("mpi: listener timed out"),
				}
			}
		} else {
			list = <-acceptChan
		}

		if list.err != nil {
			// All-to-all needs to happen, so if there's an error break
			connErr[i] = list.err
			break
		}

		wg.Add(1) // Add one at a time in case the timeouts above break
		go func(i int, conn net.Conn) {
			defer wg.Done()
			// Decode an initialMessage
			var message initialMessage
			decoder := gob.NewDecoder(conn)

			if err := decoder.Decode(&message); err != nil {
				connErr[i] = err
				return
			}

			id, err := n.passwordAndId(message)
			if err != nil {
				connErr[i] = err
				return
			}

			n.connections[id].listen = conn

			// Send back a handshake the other way
			encoder := gob.NewEncoder(conn)
			connErr[i] = encoder.Encode(initialMessage{
				Password: n.hashedPassword,
				Id:       n.myrank,
			})
		}(i, list.conn)
	}
	wg.Wait()

	return joinErrors(connErr)
}

func (n *Network) establishDialConnections() error {
	// Each program also dials every other program
	connectionError := make([]error, n.nNodes)
	wg := &sync.WaitGroup{}
	wg.Add(n.nNodes - 1)
	for i := 0; i < n.nNodes; i++ {
		if i == n.myrank {
			continue // Don't dial yourself
		}

		// Do all of the dialing concurrently
		go func(i int) {
			defer wg.Done()

			// Keep dialing every 0.3s until a connection is reached
			var conn net.Conn
			var err error
			t := time.Now()
			for {
				conn, err = net.DialTimeout(n.NetProto, n.Addrs[i], n.Timeout)
				if err == nil || (n.Timeout > 0 && time.Since(t) > n.Timeout) {
					break
				}
				time.Sleep(300 * time.Millisecond)
			}
			if err != nil {
				connectionError[i] = err
				return
			}

			// Established the connection, send the first handshake message
			encoder := gob.NewEncoder(conn)
			err = encoder.Encode(initialMessage{
				Password: n.hashedPassword,
				Id:       n.myrank,
			})
			if err != nil {
				connectionError[i] = err
				return
			}

			// Receive the handshake message back
			decoder := gob.NewDecoder(conn)
			var message initialMessage
			if err := decoder.Decode(&message); err != nil {
				connectionError[i] = err
				return
			}
			id, err := n.passwordAndId(message)
			if err != nil {
				connectionError[i] = err
				return
			}
			n.connections[id].dial = conn
		}(i)
	}
	wg.Wait()

	return joinErrors(connectionError)
}

func joinErrors(errs []error) error {
	var str string
	for _, err := range errs {
		if err != nil {
			str += " " + err.Error()
		}
	}
	if str != "" {
		return errors.New(str)
	}
	return nil
}

// Checks that the password matches what the network expects and that the
// id is valid
func (n *Network) passwordAndId(message initialMessage) (int, error) {
	// Check that the password matches
	if message.Password != n.hashedPassword {
		return -1, errors.New("mpi: bad password")
	}

	// Check that the node ID makes sense
	if message.Id >= n.nNodes || message.Id < 0 || message.Id == n.myrank {
		return -1, errors.Errorf("mpi: bad id: %v", message.Id)
	}
	return message.Id, nil
}

// Finalize tears down the connections. After a call to Finalize no more
// sends or receives may be made, though the program is free to continue
// execution.
func (n *Network) Finalize() {
	for _, con := range n.connections {
		if con == nil {
			continue
		}
		if con.dial != nil {
			con.dial.Close()
		}
		if con.listen != nil {
			con.listen.Close()
		}
	}
}

// message is the frame sent over the wire.
type message struct {
	Tag   int
	Bytes []byte
}

// Send implements Transport. The frame goes out on the persistent connection
// to the destination; sends to self are routed locally without touching the
// network.
func (n *Network) Send(data []byte, destination, tag int) error {
	if destination < 0 || destination >= n.nNodes {
		return errors.Errorf("mpi: send destination %d outside network of size %d", destination, n.nNodes)
	}
	if destination == n.myrank {
		b := make([]byte, len(data))
		copy(b, data)
		n.self.channel(tag) <- b
		return nil
	}

	con := n.connections[destination]
	con.sendMux.Lock()
	defer con.sendMux.Unlock()
	return errors.Wrapf(con.enc.Encode(message{Tag: tag, Bytes: data}), "mpi: sending to %d", destination)
}

// Receive implements Transport. It blocks until the reader loop for source
// delivers the matching frame.
func (n *Network) Receive(data []byte, source, tag int) error {
	if source < 0 || source >= n.nNodes {
		return errors.Errorf("mpi: receive source %d outside network of size %d", source, n.nNodes)
	}
	var b []byte
	var err error
	if source == n.myrank {
		b, err = n.self.receive(tag)
	} else {
		b, err = n.connections[source].in.receive(tag)
	}
	if err != nil {
		return err
	}
	if len(b) != len(data) {
		return errors.Errorf("mpi: message from %d is %d bytes, expected %d", source, len(b), len(data))
	}
	copy(data, b)
	return nil
}

// readLoop decodes frames from the connection with source and routes each to
// the Receive waiting on its tag. It runs until the connection drops.
func (n *Network) readLoop(source int) {
	con := n.connections[source]
	decoder := gob.NewDecoder(con.listen)
	for {
		var m message
		if err := decoder.Decode(&m); err != nil {
			con.in.fail(errors.Wrapf(err, "mpi: connection to %d lost", source))
			return
		}
		con.in.channel(m.Tag) <- m.Bytes
	}
}
