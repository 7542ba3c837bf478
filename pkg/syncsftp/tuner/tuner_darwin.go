//go:build darwin

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reads CPU count from the runtime and total memory from the
// hw.memsize sysctl. macOS keeps most free memory as file cache, so half of
// the total is treated as available.
func Detect() (SystemResources, error) {
	resources := SystemResources{CPUCores: runtime.NumCPU()}

	memsize, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return resources, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	resources.TotalRAM = int64(memsize)
	resources.AvailableRAM = resources.TotalRAM / 2
	return resources, nil
}
