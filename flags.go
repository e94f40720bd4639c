package mpi

import (
	"flag"
	"fmt"
	"strings"
	"time"
)

var FlagAddr string
var FlagAllAddrs AddrsFlag
var FlagInitTimeout DurationFlag
var FlagProtocol string
var FlagPassword string

var FlagShortMsgSize int64
var FlagLongMsgSize int64
var FlagIntraAlgorithm AlgorithmFlag
var FlagInterAlgorithm AlgorithmFlag
var FlagDeviceCollective bool

type AddrsFlag []string

func (m *AddrsFlag) String() string {
	return fmt.Sprint(*m)
}

func (m *AddrsFlag) Set(value string) error {
	for _, str := range strings.Split(value, ",") {
		*m = append(*m, str)
	}
	return nil
}

type DurationFlag time.Duration

func (m *DurationFlag) String() string {
	return time.Duration(*m).String()
}

func (m *DurationFlag) Set(value string) error {
	dur, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*m = DurationFlag(dur)
	return nil
}

type AlgorithmFlag Algorithm

func (m *AlgorithmFlag) String() string {
	return Algorithm(*m).String()
}

func (m *AlgorithmFlag) Set(value string) error {
	alg, err := ParseAlgorithm(value)
	if err != nil {
		return err
	}
	*m = AlgorithmFlag(alg)
	return nil
}

func init() {
	flag.StringVar(&FlagAddr, "mpi-addr", "", "address of the local running process")
	flag.Var(&FlagAllAddrs, "mpi-alladdr", "addresses of all of the processes as comma separated values")
	flag.Var(&FlagInitTimeout, "mpi-inittimeout", "duration to wait before timeout in init")
	flag.StringVar(&FlagProtocol, "mpi-protocol", "tcp", "communication protocol to use")
	flag.StringVar(&FlagPassword, "mpi-password", "", "value to use for salting the mpi connection")

	flag.Int64Var(&FlagShortMsgSize, "mpi-allgather-short-msg-size", 81920, "short-message threshold in bytes for allgather algorithm selection")
	flag.Int64Var(&FlagLongMsgSize, "mpi-allgather-long-msg-size", 524288, "long-message threshold in bytes for allgather algorithm selection")
	flag.Var(&FlagIntraAlgorithm, "mpi-allgather-intra-algorithm", "allgather algorithm within a group: auto, bruck, recursive_doubling or ring")
	flag.Var(&FlagInterAlgorithm, "mpi-allgather-inter-algorithm", "allgather algorithm between groups: auto or generic")
	flag.BoolVar(&FlagDeviceCollective, "mpi-allgather-device-collective", true, "allow a registered device implementation to preempt the native algorithms")
}

// ConfigFromFlags returns the configuration described by the command-line
// flags. flag.Parse must have been called first; pass the result to
// SetConfig to install it.
func ConfigFromFlags() Config {
	return Config{
		ShortMsgSize:     FlagShortMsgSize,
		LongMsgSize:      FlagLongMsgSize,
		IntraAlgorithm:   Algorithm(FlagIntraAlgorithm),
		InterAlgorithm:   Algorithm(FlagInterAlgorithm),
		DeviceCollective: FlagDeviceCollective,
	}
}
