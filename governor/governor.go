// Package governor sizes worker pools and gates folder processing on
// free disk and memory.
package governor

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/fresco-hpc/fresco-etl/common"
)

const (
	// Disk thresholds in GiB. Below critical the pipeline halts; below
	// warning it keeps going but says so.
	CriticalFreeDiskGiB = 5.0
	WarningFreeDiskGiB  = 20.0

	// MinFreeMemoryGiB is the free-memory floor below which chunk sizes
	// collapse to the smallest class. MIN_FREE_MEMORY_GB overrides it.
	MinFreeMemoryGiB = 5.0

	// Chunk row counts by available-memory class.
	ChunkRowsLarge  = 500_000
	ChunkRowsMedium = 250_000
	ChunkRowsSmall  = 100_000

	memClassLargeGiB  = 30.0
	memClassMediumGiB = 15.0

	defaultNetWorkers = 8
)

// Governor answers sizing and admission questions for the pipeline. The
// zero value uses live system probes; tests override the probe funcs.
type Governor struct {
	Logger common.ILogger

	// probe overrides, nil means live
	DiskFree func(path string) float64
	MemFree  func() float64
	MemUsed  func() float64
}

func New(logger common.ILogger) *Governor {
	return &Governor{Logger: logger}
}

// FreeDiskGiB reports free space on path's filesystem, 0.0 when the probe
// fails so the caller errs toward halting.
func (g *Governor) FreeDiskGiB(path string) float64 {
	if g.DiskFree != nil {
		return g.DiskFree(path)
	}
	usage, err := disk.Usage(path)
	if err != nil {
		common.Logf(g.Logger, common.ELogLevel.Warning(), "disk probe failed for %s: %v", path, err)
		return 0.0
	}
	return common.BytesToGiB(usage.Free)
}

// FreeMemoryGiB reports available memory, 0.0 on probe failure.
func (g *Governor) FreeMemoryGiB() float64 {
	if g.MemFree != nil {
		return g.MemFree()
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		common.Logf(g.Logger, common.ELogLevel.Warning(), "memory probe failed: %v", err)
		return 0.0
	}
	return common.BytesToGiB(vm.Available)
}

// UsedMemoryGiB reports resident memory in use, 0.0 on probe failure.
func (g *Governor) UsedMemoryGiB() float64 {
	if g.MemUsed != nil {
		return g.MemUsed()
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		common.Logf(g.Logger, common.ELogLevel.Warning(), "memory probe failed: %v", err)
		return 0.0
	}
	return common.BytesToGiB(vm.Used)
}

// AdmitFolder decides whether a new folder may start. Free disk at workDir
// must clear the critical threshold (the warning one only logs), and when a
// MAX_MEMORY_GB ceiling is configured, memory in use must be under it.
func (g *Governor) AdmitFolder(workDir string) error {
	if ceiling := common.TryNewConfiguredFloat(common.EEnvironmentVariable.MaxMemoryGB()); ceiling != nil && ceiling.Value > 0 {
		if used := g.UsedMemoryGiB(); used >= ceiling.Value {
			return common.NewErrorf(common.EErrorKind.Resource(),
				"memory in use %.1f GiB at or above ceiling %.1f GiB", used, ceiling.Value)
		}
	}
	minFree := CriticalFreeDiskGiB
	if v := common.TryNewConfiguredFloat(common.EEnvironmentVariable.MinFreeDiskGB()); v != nil {
		minFree = v.Value
	}
	free := g.FreeDiskGiB(workDir)
	if free < minFree {
		return common.NewErrorf(common.EErrorKind.Resource(),
			"free disk %.1f GiB below critical threshold %.1f GiB", free, minFree)
	}
	if free < WarningFreeDiskGiB {
		common.Logf(g.Logger, common.ELogLevel.Warning(),
			"free disk %.1f GiB below warning threshold %.1f GiB", free, WarningFreeDiskGiB)
	}
	return nil
}

// ChunkRows selects the metric-file read chunk size from available memory.
// Below the MIN_FREE_MEMORY_GB floor chunks shrink to the smallest class
// even when BASE_CHUNK_SIZE asks for more.
func (g *Governor) ChunkRows() int {
	free := g.FreeMemoryGiB()
	floor := MinFreeMemoryGiB
	if v := common.TryNewConfiguredFloat(common.EEnvironmentVariable.MinFreeMemoryGB()); v != nil {
		floor = v.Value
	}
	if free < floor {
		common.Logf(g.Logger, common.ELogLevel.Warning(),
			"free memory %.1f GiB below floor %.1f GiB, using smallest chunks", free, floor)
		return ChunkRowsSmall
	}
	if v := common.TryNewConfiguredInt(common.EEnvironmentVariable.BaseChunkSize()); v != nil && v.Value > 0 {
		return v.Value
	}
	switch {
	case free > memClassLargeGiB:
		return ChunkRowsLarge
	case free > memClassMediumGiB:
		return ChunkRowsMedium
	default:
		return ChunkRowsSmall
	}
}

// CPUWorkers is the CPU-bound pool size, min(cpu, 8).
func CPUWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if v := common.TryNewConfiguredInt(common.EEnvironmentVariable.MaxWorkers()); v != nil && v.Value > 0 {
		n = v.Value
	}
	return n
}

// NetWorkers is the network-bound pool size.
func NetWorkers() int {
	return defaultNetWorkers
}

// PoolWorkers sizes a chunk-processing pool: one worker per chunk, capped
// at the CPU worker count.
func PoolWorkers(chunks int) int {
	w := CPUWorkers()
	if chunks < w {
		w = chunks
	}
	if w < 1 {
		w = 1
	}
	return w
}
