package tuner

// Buffer limits.
const (
	// MaxCopyBuffer is the largest per-download copy buffer.
	MaxCopyBuffer = 1 << 20

	// MinCopyBuffer is the smallest per-download copy buffer. It matches
	// the SFTP packet payload so a read never straddles two buffers.
	MinCopyBuffer = 32 << 10

	minEventBuffer = 64
	maxEventBuffer = 4096
)

const (
	// plannedConcurrency is how many simultaneous downloads the buffer
	// budget is spread over.
	plannedConcurrency = 256

	// bufferMemoryFraction is the share of available RAM copy buffers may
	// take in total.
	bufferMemoryFraction = 0.05

	eventsPerCore = 64
)

// OptimalConfig is the tuned buffer configuration.
type OptimalConfig struct {
	// CopyBuffer is the size of the buffer each download copies through.
	CopyBuffer int

	// EventBuffer is the queue length for progress subscribers.
	EventBuffer int
}

// Calculate returns the configuration for the given resources.
//
//   - CopyBuffer: 5% of available RAM spread over 256 downloads, rounded
//     down to a power of two and clamped to [32 KiB, 1 MiB]
//   - EventBuffer: 64 per core, clamped to [64, 4096]
func Calculate(resources SystemResources) OptimalConfig {
	return OptimalConfig{
		CopyBuffer:  BufferSize(resources, plannedConcurrency),
		EventBuffer: min(max(resources.CPUCores*eventsPerCore, minEventBuffer), maxEventBuffer),
	}
}

// CalculateWithOverrides applies a configured copy buffer size. A
// non-positive override keeps the calculated value; others are clamped.
func CalculateWithOverrides(resources SystemResources, bufferOverride int) OptimalConfig {
	cfg := Calculate(resources)
	if bufferOverride > 0 {
		cfg.CopyBuffer = min(max(bufferOverride, MinCopyBuffer), MaxCopyBuffer)
	}
	return cfg
}

// BufferSize returns the copy buffer for each of transfers simultaneous
// downloads, using the same bounds as Calculate.
func BufferSize(resources SystemResources, transfers int) int {
	return copyBuffer(resources.AvailableRAM, max(transfers, 1))
}

// copyBuffer splits a share of available memory across transfers.
func copyBuffer(availableRAM int64, transfers int) int {
	perTransfer := int64(float64(availableRAM)*bufferMemoryFraction) / int64(transfers)
	if perTransfer >= MaxCopyBuffer {
		return MaxCopyBuffer
	}
	size := int64(MinCopyBuffer)
	for size*2 <= perTransfer {
		size *= 2
	}
	return int(size)
}
