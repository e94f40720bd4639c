/*
gompirun is a helper for launching mpi jobs on a local machine.

Since Go is good at shared memory, generally programs should use Go's
primitives rather than MPI in a shared-memory environment. However, running
locally is helpful for debugging collective algorithms and prototyping before
moving to a cluster.

gompirun takes two arguments. The first argument is the number of processes to
launch, and the second argument is the command to run. Any additional
arguments are passed through to the program, so tuning flags such as
-mpi-allgather-intra-algorithm can be forwarded directly. Any shared memory
parallelism should be set in the program itself using runtime.GOMAXPROCS.

Instructions:
	go install github.com/Bayyapu/mpich/mpirun/gompirun
	gompirun 8 programname -otherflag=value
*/

package main

import (
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("less than two arguments, must have at least number of processes and executable")
	}
	nProcs, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatal("error parsing number of processes: ", err)
	}

	if nProcs < 1 {
		log.Fatal("number of processes must be positive")
	}

	execName := os.Args[2]

	otherArgs := os.Args[3:]

	// Use local host ports
	baseport := 5000
	var ports []string
	for i := 0; i < nProcs; i++ {
		portName := ":" + strconv.Itoa(baseport+i)
		ports = append(ports, portName)
	}

	launch(execName, ports, otherArgs)
}

// launch runs one copy of the executable per port, appending the address
// flags the network transport needs to find its peers.
func launch(execName string, ports []string, args []string) {
	portlist := strings.Join(ports, ",")
	wg := &sync.WaitGroup{}
	for _, port := range ports {
		wg.Add(1)
		go func(port string) {
			defer wg.Done()

			a := make([]string, len(args))
			copy(a, args)
			a = append(a, "-mpi-addr", port, "-mpi-alladdr", portlist)
			cmd := exec.Command(execName, a...)
			cmd.Stdin = os.Stdin
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			cmd.Run()
		}(port)
	}
	wg.Wait()
}
