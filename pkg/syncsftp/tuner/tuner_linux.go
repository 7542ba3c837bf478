//go:build linux

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reads CPU count from the runtime and memory from sysinfo(2).
// Buffered and cached pages are counted as available since the kernel
// reclaims them under pressure.
func Detect() (SystemResources, error) {
	resources := SystemResources{CPUCores: runtime.NumCPU()}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return resources, fmt.Errorf("sysinfo: %w", err)
	}

	unit := int64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	resources.TotalRAM = int64(info.Totalram) * unit
	resources.AvailableRAM = min((int64(info.Freeram)+int64(info.Bufferram))*unit, resources.TotalRAM)
	return resources, nil
}
