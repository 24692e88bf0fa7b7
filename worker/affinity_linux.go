//go:build linux

package worker

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const maxCPUs = 1024

// PinToCPU binds the calling thread to the id-th CPU of the process
// affinity mask, wrapping around when there are more workers than CPUs.
func PinToCPU(id int) error {
	var mask unix.CPUSet
	if err := unix.SchedGetaffinity(0, &mask); err != nil {
		return fmt.Errorf("sched_getaffinity: %w", err)
	}
	cpus := make([]int, 0, mask.Count())
	for cpu := 0; cpu < maxCPUs; cpu++ {
		if mask.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	if len(cpus) == 0 {
		return fmt.Errorf("empty affinity mask")
	}

	var one unix.CPUSet
	one.Set(cpus[id%len(cpus)])
	if err := unix.SchedSetaffinity(0, &one); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpus[id%len(cpus)], err)
	}
	return nil
}
