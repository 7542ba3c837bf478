// Package tuner sizes the agent's buffers from the resources of the host it
// runs on. Transfers are not capped, so the per-download copy buffer is
// chosen so that a burst of concurrent downloads cannot exhaust memory.
package tuner

// SystemResources contains detected system resources.
type SystemResources struct {
	// CPUCores is the number of logical CPU cores available.
	CPUCores int

	// TotalRAM is the total physical RAM in bytes.
	TotalRAM int64

	// AvailableRAM is the available (free) RAM in bytes.
	// This may be an estimate based on system heuristics.
	AvailableRAM int64
}
