/*
slurmrun launches MPI tasks within a slurm environment. To use, first allocate
nodes with salloc, and then call
	slurmrun ncores programname otherargs
For example,
	salloc -N6 -c12
	slurmrun 12 allgather

Note that this syntax differs from that of gompirun. Number of cores here is
the number of cores per distributed process (not the number of processes); one
process is started per allocated node.

slurmrun uses srun to launch the program within the allocation, appending the
address flags the network transport needs to find its peers. Extra arguments
are passed through, so tuning flags such as -mpi-allgather-long-msg-size can
be forwarded to every process.
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
		log.Fatal("slurmrun must be called with the number of cores and the program name")
	}
	nCores, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	if nCores < 1 {
		log.Fatal("must have at least one core per process")
	}
	programName := os.Args[2]

	nodelist, err := parseNodelist(os.Getenv("SLURM_JOB_NODELIST"))
	if err != nil {
		log.Fatal(err)
	}
	if len(nodelist) == 0 {
		log.Fatal("no nodes in SLURM_JOB_NODELIST, run inside a slurm allocation")
	}

	ports := make([]string, len(nodelist))
	for i := range ports {
		ports[i] = ":" + strconv.Itoa(5000+i)
	}

	addrs := make([]string, len(nodelist))
	for i := range nodelist {
		addrs[i] = nodelist[i] + ports[i]
	}
	allAddrs := strings.Join(addrs, ",")

	wg := &sync.WaitGroup{}
	wg.Add(len(nodelist))
	for i := range nodelist {
		go func(i int) {
			defer wg.Done()
			args := []string{"-N", "1", "-n", "1", "-c", strconv.Itoa(nCores), "--nodelist", nodelist[i], programName}
			args = append(args, os.Args[3:]...)
			args = append(args, "-mpi-addr", addrs[i], "-mpi-alladdr", allAddrs)
			cmd := exec.Command("srun", args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			cmd.Run()
		}(i)
	}
	wg.Wait()
}

// parseNodelist expands slurm's compressed node list syntax, for example
// "node[1-3,7],other" becomes node1, node2, node3, node7, other.
func parseNodelist(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var nodelist []string
	for _, entry := range strings.Split(s, " ") {
		strs := strings.Split(entry, "[")
		if len(strs) == 1 {
			nodelist = append(nodelist, strs[0])
			continue
		}
		root := strs[0]
		ranges := strings.TrimSuffix(strs[1], "]")
		for _, sweep := range strings.Split(ranges, ",") {
			nums := strings.Split(sweep, "-")
			if len(nums) == 1 {
				nodelist = append(nodelist, root+nums[0])
				continue
			}
			low, err := strconv.Atoi(nums[0])
			if err != nil {
				return nil, err
			}
			high, err := strconv.Atoi(strings.TrimSuffix(nums[1], "]"))
			if err != nil {
				return nil, err
			}
			for i := low; i <= high; i++ {
				nodelist = append(nodelist, root+strconv.Itoa(i))
			}
		}
	}
	return nodelist, nil
}
