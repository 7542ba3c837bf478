//go:build !darwin && !linux

package tuner

import (
	"runtime"
)

// defaultTotalRAM is assumed where memory cannot be queried.
const defaultTotalRAM = 8 * 1024 * 1024 * 1024

// Detect returns the CPU count and a fixed memory estimate.
func Detect() (SystemResources, error) {
	totalRAM := int64(defaultTotalRAM)

	return SystemResources{
		CPUCores:     runtime.NumCPU(),
		TotalRAM:     totalRAM,
		AvailableRAM: totalRAM / 2,
	}, nil
}
